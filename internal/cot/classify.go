package cot

import (
	"regexp"
	"strings"
)

// Type prefixes with protocol meaning.
const (
	TypePing          = "t-x-c-t"
	TypePong          = "t-x-c-t-r"
	TypeOffline       = "t-x-d-d"
	TypeGeoChat       = "b-t-f"
	TypeSpotMap       = "b-m-p-s-m"
	TypeVideoLocation = "b-m-p-s-p-loc"
	TypeVideo         = "b-i-v"
	TypeRangeBearing  = "u-rb-a"
	TypeCasEvac       = "b-r-f-h-c"
	TypeEmergency     = "b-a-o"

	PingSuffix = "-ping"

	// SymbolSpotMap is the symbol code of every spot map marker: a
	// general point graphic, since the type carries no affiliation.
	SymbolSpotMap = "gfgpgpp---"

	// AllChatRooms is the reserved chat room name meaning every room.
	AllChatRooms = "All Chat Rooms"
)

var atomGrammar = regexp.MustCompile(`^a-[pufnshjkaox]-[PAGSUFXZ]`)

var affiliations = map[string]string{
	"p": "pending",
	"u": "unknown",
	"a": "assumed friend",
	"f": "friend",
	"n": "neutral",
	"s": "suspect",
	"h": "hostile",
	"j": "joker",
	"k": "faker",
	"o": "none",
	"x": "other",
}

var dimensions = map[string]string{
	"P": "space",
	"A": "air",
	"G": "ground",
	"S": "surface",
	"U": "subsurface",
	"F": "sof",
	"X": "other",
	"Z": "unknown",
}

var taskings = map[string]string{
	"a": "atom",
	"b": "bits",
	"t": "tasking",
	"u": "drawing",
	"c": "capability",
	"r": "reply",
	"y": "reply",
}

// IsAtom reports whether the type follows the atom affiliation grammar.
func IsAtom(cotType string) bool {
	return atomGrammar.MatchString(cotType)
}

// IsSpotMap reports whether the type is a spot map marker.
func IsSpotMap(cotType string) bool {
	return strings.HasPrefix(cotType, TypeSpotMap)
}

// Affiliation returns the affiliation letter of an atom type.
func Affiliation(cotType string) (string, bool) {
	parts := strings.Split(cotType, "-")
	if len(parts) < 2 || parts[0] != "a" {
		return "", false
	}
	_, ok := affiliations[parts[1]]
	return parts[1], ok
}

// AffiliationName is the human readable affiliation, empty when unknown.
func AffiliationName(cotType string) string {
	a, ok := Affiliation(cotType)
	if !ok {
		return ""
	}
	return affiliations[a]
}

// Dimension returns the battle dimension letter of an atom type.
func Dimension(cotType string) (string, bool) {
	parts := strings.Split(cotType, "-")
	if len(parts) < 3 || parts[0] != "a" {
		return "", false
	}
	_, ok := dimensions[parts[2]]
	return parts[2], ok
}

// DimensionName is the human readable battle dimension, empty when unknown.
func DimensionName(cotType string) string {
	d, ok := Dimension(cotType)
	if !ok {
		return ""
	}
	return dimensions[d]
}

// Tasking returns the class of the type (atom, bits, tasking, drawing...).
func Tasking(cotType string) string {
	head, _, _ := strings.Cut(cotType, "-")
	return taskings[head]
}

// SymbologyCode derives the 10 character symbol code from an atom type:
// "s", affiliation, dimension, "p" (present), then the function letters,
// all lower case and padded with '-'. Spot map markers get SymbolSpotMap;
// any other type yields "".
func SymbologyCode(cotType string) string {
	if IsSpotMap(cotType) {
		return SymbolSpotMap
	}
	if !IsAtom(cotType) {
		return ""
	}
	parts := strings.Split(cotType, "-")
	var b strings.Builder
	b.WriteByte('s')
	b.WriteString(strings.ToLower(parts[1]))
	b.WriteString(strings.ToLower(parts[2]))
	b.WriteByte('p')
	for _, p := range parts[3:] {
		for _, r := range p {
			if b.Len() == 10 {
				break
			}
			if r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' {
				b.WriteRune(r | 0x20)
			}
		}
	}
	code := b.String()
	if len(code) > 10 {
		code = code[:10]
	}
	return code + strings.Repeat("-", 10-len(code))
}
