// pkg/core/device.go
package core

import "time"

// Device connection states.
const (
	DeviceConnected    = "Connected"
	DeviceDisconnected = "Disconnected"
)

// DeviceTelemetry is the last reported state of an end user device.
// Natural key: UID.
type DeviceTelemetry struct {
	UID           string
	Callsign      string
	Device        string
	OS            string
	Platform      string
	Version       string
	Phone         string
	Battery       *int
	Team          string
	Role          string
	LastEventTime time.Time
	Status        string
}

// CasEvac is a 9-line casualty evacuation request. Natural key: UID.
type CasEvac struct {
	ID                  uint
	UID                 string
	CotID               uint
	PointID             *uint
	SenderUID           string
	Title               string
	Casevac             bool
	Freq                string
	Urgent              int
	Priority            int
	Routine             int
	Hoist               bool
	ExtractionEquipment bool
	Ventilator          bool
	EquipmentOther      bool
	EquipmentDetail     string
	Litter              int
	Ambulatory          int
	Security            int
	HLZMarking          int
	HLZRemarks          string
	USMilitary          int
	USCivilian          int
	NonUSMilitary       int
	NonUSCivilian       int
	EPW                 int
	Child               int
	TerrainSlope        bool
	TerrainRough        bool
	TerrainLoose        bool
	TerrainOther        bool
	TerrainSlopeDir     string
	MedlineRemarks      string
	ZoneProtSelection   int
	ZMists              []ZMist
	Time                time.Time
}

// ZMist is one casualty line of a CasEvac. Natural key: CasEvacUID, Index.
type ZMist struct {
	CasEvacUID string
	Index      int
	Title      string
	Z          string
	M          string
	I          string
	S          string
	T          string
}
