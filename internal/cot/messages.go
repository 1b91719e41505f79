package cot

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// PongStale is the staleness window of a pong.
const PongStale = 10 * time.Second

// Decode parses one framed document into an Event.
func Decode(frame []byte) (*Event, error) {
	var e Event
	if err := xml.Unmarshal(frame, &e); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}
	return &e, nil
}

// IsAuth reports whether a frame is an in-band <auth> document.
func IsAuth(frame []byte) bool {
	name, ok := rootName(frame)
	return ok && name == "auth"
}

// DecodeAuth parses an <auth> document.
func DecodeAuth(frame []byte) (*AuthCot, error) {
	var a Auth
	if err := xml.Unmarshal(frame, &a); err != nil {
		return nil, fmt.Errorf("decoding auth: %w", err)
	}
	if a.Cot == nil {
		return nil, fmt.Errorf("decoding auth: missing cot credentials")
	}
	return a.Cot, nil
}

// IsPing reports whether the event is a client keep-alive.
func (e *Event) IsPing() bool {
	return e.Type == TypePing && strings.HasSuffix(e.UID, PingSuffix)
}

// Pong builds the keep-alive answer for a ping uid.
func Pong(pingUID string, now time.Time) *Event {
	now = now.UTC()
	ts := now.Format(TimeLayout)
	return &Event{
		Version: "2.0",
		UID:     strings.TrimSuffix(pingUID, PingSuffix),
		Type:    TypePong,
		How:     "h-g-i-g-o",
		Time:    ts,
		Start:   ts,
		Stale:   now.Add(PongStale).Format(TimeLayout),
		Point:   &Point{Lat: "0.0", Lon: "0.0", Hae: "0.0", Ce: NoFix, Le: NoFix},
	}
}

// Offline builds the synthesised "device went offline" document.
func Offline(deviceUID, callsign string, now time.Time) *Event {
	now = now.UTC()
	ts := now.Format(TimeLayout)
	return &Event{
		Version: "2.0",
		UID:     deviceUID,
		Type:    TypeOffline,
		How:     "h-g-i-g-o",
		Time:    ts,
		Start:   ts,
		Stale:   now.Add(PongStale).Format(TimeLayout),
		Point:   &Point{Lat: "0.0", Lon: "0.0", Hae: "0.0", Ce: NoFix, Le: NoFix},
		Detail: &Detail{
			Links:       []Link{{UID: deviceUID, Type: "a-f-G-U-C", Relation: "p-p"}},
			Contact:     contactOrNil(callsign),
			ForceDelete: &struct{}{},
		},
	}
}

// IsOffline reports whether the event is an offline notice and returns the device uid.
func (e *Event) IsOffline() (string, bool) {
	if e.Type != TypeOffline || e.Detail == nil {
		return "", false
	}
	for _, l := range e.Detail.Links {
		if l.Relation == "p-p" && l.UID != "" {
			return l.UID, true
		}
	}
	return e.UID, true
}

// Marshal renders the event as a standalone document.
func Marshal(e *Event) ([]byte, error) {
	b, err := xml.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding event: %w", err)
	}
	return b, nil
}

func contactOrNil(callsign string) *Contact {
	if callsign == "" {
		return nil
	}
	return &Contact{Callsign: callsign}
}

// rootName returns the local name of the first element in the frame.
func rootName(frame []byte) (string, bool) {
	for i := 0; i < len(frame)-1; i++ {
		if frame[i] != '<' || !isNameStart(frame[i+1]) {
			continue
		}
		j := i + 1
		for j < len(frame) && !isSpace(frame[j]) && frame[j] != '>' && frame[j] != '/' {
			j++
		}
		name := string(frame[i+1 : j])
		if _, local, ok := strings.Cut(name, ":"); ok {
			name = local
		}
		return name, true
	}
	return "", false
}
