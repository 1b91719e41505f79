// pkg/core/events.go
package core

import (
	"time"
)

// CotRecord is the canonical record of one received document.
// Natural key: UID, Type, Time.
type CotRecord struct {
	ID        uint
	UID       string
	Type      string
	How       string
	Time      time.Time
	Start     time.Time
	Stale     time.Time
	SenderUID string
	Callsign  string
	Tasking   string
	Raw       string
}

// Point is a position fix taken from a document's <point>.
// Natural key: CotID.
type Point struct {
	ID             uint
	CotID          uint
	UID            string
	SenderUID      string
	Time           time.Time
	Latitude       float64
	Longitude      float64
	Hae            float64
	Ce             float64
	Le             float64
	Course         *float64
	Speed          *float64
	Azimuth        *float64
	Fov            *float64
	LocationSource string
}

// Alert is an emergency raised by a device. Natural key: (UID, Start).
type Alert struct {
	ID          uint
	UID         string
	CotID       uint
	PointID     *uint
	SenderUID   string
	Callsign    string
	AlertType   string
	Start       time.Time
	Cancelled   bool
	CancelledAt *time.Time
}

// GeoChat is one chat message. Natural key: MessageID.
type GeoChat struct {
	ID             uint
	MessageID      string
	CotID          uint
	PointID        *uint
	SenderUID      string
	SenderCallsign string
	Chatroom       string
	ChatroomID     string
	Parent         string
	GroupOwner     bool
	Text           string
	Time           time.Time
}

// Chatroom is a named room and the members seen in it so far.
// Natural key: RoomID. Members are merged, never replaced.
type Chatroom struct {
	RoomID  string
	Name    string
	Parent  string
	Members []ChatroomMember
}

// ChatroomMember natural key: RoomID, UID.
type ChatroomMember struct {
	RoomID string
	UID    string
	Owner  bool
}
