// Package util provides helpers for reading CoT attribute strings.
package util

import (
	"strconv"
	"strings"
)

// NoFixPrefix marks an absent value in point and track attributes.
const NoFixPrefix = "9999999"

// IsNoFix reports whether an attribute value carries the no-fix sentinel.
func IsNoFix(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), NoFixPrefix)
}

// ParseBool normalises the boolean-looking strings clients send.
// ok is false when the value is empty or not boolean-like.
func ParseBool(s string) (v bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	}
	return false, false
}

// Bool is ParseBool with false for anything unparseable.
func Bool(s string) bool {
	v, _ := ParseBool(s)
	return v
}

// ParseFloat parses a float attribute. Empty or malformed values are not ok.
func ParseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Float is ParseFloat with 0 for anything unparseable.
func Float(s string) float64 {
	f, _ := ParseFloat(s)
	return f
}

// OptionalFloat returns nil for empty, malformed or no-fix values.
func OptionalFloat(s string) *float64 {
	if IsNoFix(s) {
		return nil
	}
	f, ok := ParseFloat(s)
	if !ok {
		return nil
	}
	return &f
}

// Int parses an integer attribute, accepting "3.0" style values. Returns 0 when unparseable.
func Int(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return 0
}

// OptionalInt returns nil for empty or malformed values.
func OptionalInt(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return &n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		n := int(f)
		return &n
	}
	return nil
}

// FirstNonEmpty returns the first non-empty string.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
