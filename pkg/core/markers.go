// pkg/core/markers.go
package core

import "time"

// Marker is a user placed map symbol. Natural key: UID.
type Marker struct {
	ID          uint
	UID         string
	CotID       uint
	PointID     *uint
	SenderUID   string
	Callsign    string
	CotType     string
	Affiliation string
	Dimension   string
	Symbology   string
	Icon        string
	Color       string
	Remarks     string
	Time        time.Time
	Stale       time.Time
}

// RangeBearingLine is a drawn line with a computed end point. Natural key: UID.
type RangeBearingLine struct {
	ID           uint
	UID          string
	CotID        uint
	PointID      *uint
	SenderUID    string
	Callsign     string
	RangeMeters  float64
	RangeUnits   int
	Bearing      float64
	BearingUnits int
	Inclination  float64
	NorthRef     int
	Color        string
	StartLat     float64
	StartLon     float64
	EndLat       float64
	EndLon       float64
	Time         time.Time
}

// VideoAnnouncement advertises a video stream. Natural key: UID.
type VideoAnnouncement struct {
	ID                uint
	UID               string
	CotID             uint
	PointID           *uint
	SenderUID         string
	URL               string
	Alias             string
	Protocol          string
	Address           string
	Port              int
	Path              string
	RoverPort         int
	NetworkTimeout    int
	BufferTime        int
	RtspReliable      bool
	IgnoreEmbeddedKLV bool
	Time              time.Time
}

// Icon is a catalog entry for marker icons. Natural key: IconsetPath.
type Icon struct {
	IconsetPath string
	IconsetUID  string
	Filename    string
	Group       string
}

// Path is the value stored on markers that use this icon.
func (i Icon) Path() string {
	if i.Group == "" {
		return i.Filename
	}
	return i.Group + "/" + i.Filename
}
