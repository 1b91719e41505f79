package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&User{},
	&Icon{},
	&CotEvent{},
	&Point{},
	&Marker{},
	&Alert{},
	&CasEvac{},
	&ZMist{},
	&GeoChat{},
	&Chatroom{},
	&ChatroomMember{},
	&VideoStream{},
	&RangeBearingLine{},
	&EUD{},
	&Mission{},
	&MissionMembership{},
	&MissionChange{},
}

////////////////////////
// SYSTEM MODELS
////////////////////////

// User is an authentication principal
type User struct {
	gorm.Model
	Username     string `json:"username" gorm:"size:127;uniqueIndex"`
	PasswordHash string `json:"-" gorm:"size:255"`
	Active       bool   `json:"active" gorm:"default:true"`
}

func (*User) TableName() string {
	return "users"
}

// Icon is one entry of the marker icon catalog, keyed by iconset path.
type Icon struct {
	ID          uint   `json:"id" gorm:"primarykey;autoIncrement;"`
	IconsetPath string `json:"iconsetPath" gorm:"size:255;uniqueIndex"`
	IconsetUID  string `json:"iconsetUid" gorm:"size:64;index"`
	Filename    string `json:"filename" gorm:"size:255"`
	Group       string `json:"group" gorm:"size:127"`
}

func (*Icon) TableName() string {
	return "icons"
}

////////////////////////
// COT DATA
////////////////////////

// CotEvent is the canonical record of every received document
type CotEvent struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	UID       string    `json:"uid" gorm:"size:255;uniqueIndex:idx_cotevent_natural"`
	Type      string    `json:"type" gorm:"size:64;uniqueIndex:idx_cotevent_natural"`
	Time      time.Time `json:"time" gorm:"type:timestamptz;uniqueIndex:idx_cotevent_natural"`
	How       string    `json:"how" gorm:"size:32"`
	Start     time.Time `json:"start" gorm:"type:timestamptz"`
	Stale     time.Time `json:"stale" gorm:"type:timestamptz"`
	SenderUID string    `json:"senderUid" gorm:"size:255;index:idx_cotevent_sender_uid"`
	Callsign  string    `json:"callsign" gorm:"size:127"`
	Tasking   string    `json:"tasking" gorm:"size:32"`
	Raw       string    `json:"raw" gorm:"type:text"`
}

func (*CotEvent) TableName() string {
	return "cot_events"
}

// Point is a position fix. Location is EPSG:3857
type Point struct {
	ID             uint       `json:"id" gorm:"primarykey;autoIncrement;"`
	CotID          uint       `json:"cotId" gorm:"uniqueIndex:idx_point_cot_id"`
	Cot            CotEvent   `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:CotID;"`
	UID            string     `json:"uid" gorm:"size:255;index:idx_point_uid"`
	SenderUID      string     `json:"senderUid" gorm:"size:255;index:idx_point_sender_uid"`
	Time           time.Time  `json:"time" gorm:"type:timestamptz;index:idx_point_time"`
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	Hae            float64    `json:"hae"`
	Ce             float64    `json:"ce"`
	Le             float64    `json:"le"`
	Course         *float64   `json:"course"`
	Speed          *float64   `json:"speed"`
	Azimuth        *float64   `json:"azimuth"`
	Fov            *float64   `json:"fov"`
	LocationSource string     `json:"locationSource" gorm:"size:32"`
	Location       geom.Point `json:"-"`
}

func (*Point) TableName() string {
	return "points"
}

// Marker is a user placed map symbol
type Marker struct {
	ID          uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	UID         string    `json:"uid" gorm:"size:255;uniqueIndex"`
	CotID       uint      `json:"cotId" gorm:"index:idx_marker_cot_id"`
	PointID     *uint     `json:"pointId" gorm:"default:NULL"`
	SenderUID   string    `json:"senderUid" gorm:"size:255;index:idx_marker_sender_uid"`
	Callsign    string    `json:"callsign" gorm:"size:127"`
	CotType     string    `json:"cotType" gorm:"size:64"`
	Affiliation string    `json:"affiliation" gorm:"size:32"`
	Dimension   string    `json:"dimension" gorm:"size:32"`
	Symbology   string    `json:"symbology" gorm:"size:16"`
	Icon        string    `json:"icon" gorm:"size:255"`
	Color       string    `json:"color" gorm:"size:32"`
	Remarks     string    `json:"remarks" gorm:"type:text"`
	Time        time.Time `json:"time" gorm:"type:timestamptz"`
	Stale       time.Time `json:"stale" gorm:"type:timestamptz"`
}

func (*Marker) TableName() string {
	return "markers"
}

// Alert is an emergency beacon. Devices reuse their alert uid, so one
// row exists per (uid, start).
type Alert struct {
	ID          uint       `json:"id" gorm:"primarykey;autoIncrement;"`
	UID         string     `json:"uid" gorm:"size:255;uniqueIndex:idx_alert_uid_start,priority:1"`
	CotID       uint       `json:"cotId"`
	PointID     *uint      `json:"pointId" gorm:"default:NULL"`
	SenderUID   string     `json:"senderUid" gorm:"size:255;index:idx_alert_sender_uid"`
	Callsign    string     `json:"callsign" gorm:"size:127"`
	AlertType   string     `json:"alertType" gorm:"size:64"`
	Start       time.Time  `json:"start" gorm:"type:timestamptz;index:idx_alert_start;uniqueIndex:idx_alert_uid_start,priority:2"`
	Cancelled   bool       `json:"cancelled" gorm:"default:false"`
	CancelledAt *time.Time `json:"cancelledAt" gorm:"type:timestamptz;default:NULL"`
}

func (*Alert) TableName() string {
	return "alerts"
}

// CasEvac is a 9-line medevac request
type CasEvac struct {
	ID                  uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	UID                 string    `json:"uid" gorm:"size:255;uniqueIndex"`
	CotID               uint      `json:"cotId"`
	PointID             *uint     `json:"pointId" gorm:"default:NULL"`
	SenderUID           string    `json:"senderUid" gorm:"size:255;index:idx_casevac_sender_uid"`
	Title               string    `json:"title" gorm:"size:127"`
	Casevac             bool      `json:"casevac"`
	Freq                string    `json:"freq" gorm:"size:32"`
	Urgent              int       `json:"urgent"`
	Priority            int       `json:"priority"`
	Routine             int       `json:"routine"`
	Hoist               bool      `json:"hoist"`
	ExtractionEquipment bool      `json:"extractionEquipment"`
	Ventilator          bool      `json:"ventilator"`
	EquipmentOther      bool      `json:"equipmentOther"`
	EquipmentDetail     string    `json:"equipmentDetail" gorm:"size:255"`
	Litter              int       `json:"litter"`
	Ambulatory          int       `json:"ambulatory"`
	Security            int       `json:"security"`
	HLZMarking          int       `json:"hlzMarking"`
	HLZRemarks          string    `json:"hlzRemarks" gorm:"size:255"`
	USMilitary          int       `json:"usMilitary"`
	USCivilian          int       `json:"usCivilian"`
	NonUSMilitary       int       `json:"nonUsMilitary"`
	NonUSCivilian       int       `json:"nonUsCivilian"`
	EPW                 int       `json:"epw"`
	Child               int       `json:"child"`
	TerrainSlope        bool      `json:"terrainSlope"`
	TerrainRough        bool      `json:"terrainRough"`
	TerrainLoose        bool      `json:"terrainLoose"`
	TerrainOther        bool      `json:"terrainOther"`
	TerrainSlopeDir     string    `json:"terrainSlopeDir" gorm:"size:16"`
	MedlineRemarks      string    `json:"medlineRemarks" gorm:"type:text"`
	ZoneProtSelection   int       `json:"zoneProtSelection"`
	Time                time.Time `json:"time" gorm:"type:timestamptz"`
}

func (*CasEvac) TableName() string {
	return "casevacs"
}

// ZMist is one casualty line of a CasEvac
type ZMist struct {
	ID         uint   `json:"id" gorm:"primarykey;autoIncrement;"`
	CasEvacUID string `json:"casevacUid" gorm:"size:255;uniqueIndex:idx_zmist_natural"`
	Index      int    `json:"index" gorm:"column:line_index;uniqueIndex:idx_zmist_natural"`
	Title      string `json:"title" gorm:"size:64"`
	Z          string `json:"z" gorm:"size:255"`
	M          string `json:"m" gorm:"size:255"`
	I          string `json:"i" gorm:"size:255"`
	S          string `json:"s" gorm:"size:255"`
	T          string `json:"t" gorm:"size:255"`
}

func (*ZMist) TableName() string {
	return "casevac_zmists"
}

// GeoChat is one chat message
type GeoChat struct {
	ID             uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	MessageID      string    `json:"messageId" gorm:"size:255;uniqueIndex"`
	CotID          uint      `json:"cotId"`
	PointID        *uint     `json:"pointId" gorm:"default:NULL"`
	SenderUID      string    `json:"senderUid" gorm:"size:255;index:idx_geochat_sender_uid"`
	SenderCallsign string    `json:"senderCallsign" gorm:"size:127"`
	Chatroom       string    `json:"chatroom" gorm:"size:255"`
	ChatroomID     string    `json:"chatroomId" gorm:"size:255;index:idx_geochat_chatroom_id"`
	Parent         string    `json:"parent" gorm:"size:255"`
	GroupOwner     bool      `json:"groupOwner"`
	Text           string    `json:"text" gorm:"type:text"`
	Time           time.Time `json:"time" gorm:"type:timestamptz"`
}

func (*GeoChat) TableName() string {
	return "geochats"
}

// Chatroom is a named chat room
type Chatroom struct {
	RoomID string `json:"roomId" gorm:"primarykey;size:255"`
	Name   string `json:"name" gorm:"size:255"`
	Parent string `json:"parent" gorm:"size:255"`
}

func (*Chatroom) TableName() string {
	return "chatrooms"
}

// ChatroomMember is one uid seen in a room
type ChatroomMember struct {
	RoomID string `json:"roomId" gorm:"primarykey;size:255"`
	UID    string `json:"uid" gorm:"primarykey;size:255"`
	Owner  bool   `json:"owner"`
}

func (*ChatroomMember) TableName() string {
	return "chatroom_members"
}

// VideoStream is an announced video feed
type VideoStream struct {
	ID                uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	UID               string    `json:"uid" gorm:"size:255;uniqueIndex"`
	CotID             uint      `json:"cotId"`
	PointID           *uint     `json:"pointId" gorm:"default:NULL"`
	SenderUID         string    `json:"senderUid" gorm:"size:255"`
	URL               string    `json:"url" gorm:"size:1024"`
	Alias             string    `json:"alias" gorm:"size:255"`
	Protocol          string    `json:"protocol" gorm:"size:16"`
	Address           string    `json:"address" gorm:"size:255"`
	Port              int       `json:"port"`
	Path              string    `json:"path" gorm:"size:255"`
	RoverPort         int       `json:"roverPort"`
	NetworkTimeout    int       `json:"networkTimeout"`
	BufferTime        int       `json:"bufferTime"`
	RtspReliable      bool      `json:"rtspReliable"`
	IgnoreEmbeddedKLV bool      `json:"ignoreEmbeddedKlv"`
	Time              time.Time `json:"time" gorm:"type:timestamptz"`
}

func (*VideoStream) TableName() string {
	return "video_streams"
}

// RangeBearingLine is a drawn range/bearing line. Line is EPSG:3857
type RangeBearingLine struct {
	ID           uint          `json:"id" gorm:"primarykey;autoIncrement;"`
	UID          string        `json:"uid" gorm:"size:255;uniqueIndex"`
	CotID        uint          `json:"cotId"`
	PointID      *uint         `json:"pointId" gorm:"default:NULL"`
	SenderUID    string        `json:"senderUid" gorm:"size:255"`
	Callsign     string        `json:"callsign" gorm:"size:127"`
	RangeMeters  float64       `json:"rangeMeters"`
	RangeUnits   int           `json:"rangeUnits"`
	Bearing      float64       `json:"bearing"`
	BearingUnits int           `json:"bearingUnits"`
	Inclination  float64       `json:"inclination"`
	NorthRef     int           `json:"northRef"`
	Color        string        `json:"color" gorm:"size:32"`
	StartLat     float64       `json:"startLat"`
	StartLon     float64       `json:"startLon"`
	EndLat       float64       `json:"endLat"`
	EndLon       float64       `json:"endLon"`
	Line         geom.Geometry `json:"-"`
	Time         time.Time     `json:"time" gorm:"type:timestamptz"`
}

func (*RangeBearingLine) TableName() string {
	return "rb_lines"
}

// EUD is the last known state of an end user device
type EUD struct {
	UID           string    `json:"uid" gorm:"primarykey;size:255"`
	Callsign      string    `json:"callsign" gorm:"size:127;index:idx_eud_callsign"`
	Device        string    `json:"device" gorm:"size:127"`
	OS            string    `json:"os" gorm:"size:64"`
	Platform      string    `json:"platform" gorm:"size:64"`
	Version       string    `json:"version" gorm:"size:64"`
	Phone         string    `json:"phone" gorm:"size:32"`
	Battery       *int      `json:"battery" gorm:"default:NULL"`
	Team          string    `json:"team" gorm:"size:64"`
	Role          string    `json:"role" gorm:"size:64"`
	LastEventTime time.Time `json:"lastEventTime" gorm:"type:timestamptz"`
	Status        string    `json:"status" gorm:"size:16"`
}

func (*EUD) TableName() string {
	return "euds"
}

////////////////////////
// MISSIONS
////////////////////////

// Mission is a named data sync channel
type Mission struct {
	gorm.Model
	Name        string `json:"name" gorm:"size:255;uniqueIndex"`
	Description string `json:"description" gorm:"type:text"`
	CreatorUID  string `json:"creatorUid" gorm:"size:255"`
}

func (*Mission) TableName() string {
	return "missions"
}

// MissionMembership links a device to a mission
type MissionMembership struct {
	Mission string    `json:"mission" gorm:"primarykey;size:255"`
	UID     string    `json:"uid" gorm:"primarykey;size:255;index:idx_missionmembership_uid"`
	Time    time.Time `json:"time" gorm:"type:timestamptz"`
}

func (*MissionMembership) TableName() string {
	return "mission_memberships"
}

// MissionChange is the append-only audit log of a mission
type MissionChange struct {
	ID         uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Mission    string         `json:"mission" gorm:"size:255;index:idx_missionchange_mission"`
	ChangeType string         `json:"changeType" gorm:"size:32"`
	CreatorUID string         `json:"creatorUid" gorm:"size:255"`
	ContentUID string         `json:"contentUid" gorm:"size:255"`
	CotType    string         `json:"cotType" gorm:"size:64"`
	Details    datatypes.JSON `json:"details"`
	Time       time.Time      `json:"time" gorm:"type:timestamptz;index:idx_missionchange_time"`
}

func (*MissionChange) TableName() string {
	return "mission_changes"
}
