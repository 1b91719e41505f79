// Package cot holds the typed Cursor-on-Target document schema, the
// streaming framer that cuts documents out of a raw byte stream and the
// pure classification helpers over CoT type strings.
package cot

import (
	"encoding/xml"
	"strings"
	"time"
)

// TimeLayout is the timestamp layout written on synthesised documents.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// NoFix is the sentinel used by clients for "no value" in point and track fields.
const NoFix = "9999999"

// Event is the <event> root element.
type Event struct {
	XMLName xml.Name `xml:"event"`
	Version string   `xml:"version,attr,omitempty"`
	UID     string   `xml:"uid,attr"`
	Type    string   `xml:"type,attr"`
	How     string   `xml:"how,attr,omitempty"`
	Time    string   `xml:"time,attr"`
	Start   string   `xml:"start,attr"`
	Stale   string   `xml:"stale,attr"`
	Point   *Point   `xml:"point"`
	Detail  *Detail  `xml:"detail"`
}

// Point is the <point> element. Values are kept as received so the
// no-fix sentinel can be recognised textually.
type Point struct {
	Lat string `xml:"lat,attr"`
	Lon string `xml:"lon,attr"`
	Hae string `xml:"hae,attr"`
	Ce  string `xml:"ce,attr"`
	Le  string `xml:"le,attr"`
}

// Detail carries the optional sub-blocks. A nil pointer means the block is absent.
type Detail struct {
	Contact           *Contact           `xml:"contact"`
	Takv              *Takv              `xml:"takv"`
	Group             *Group             `xml:"__group"`
	Status            *Status            `xml:"status"`
	Track             *Track             `xml:"track"`
	Sensor            *Sensor            `xml:"sensor"`
	PrecisionLocation *PrecisionLocation `xml:"precisionlocation"`
	Chat              *Chat              `xml:"__chat"`
	Links             []Link             `xml:"link"`
	Remarks           *Remarks           `xml:"remarks"`
	Marti             *Marti             `xml:"marti"`
	Emergency         *Emergency         `xml:"emergency"`
	Medevac           *Medevac           `xml:"_medevac_"`
	Video             *Video             `xml:"__video"`
	UserIcon          *UserIcon          `xml:"usericon"`
	Color             *Color             `xml:"color"`
	Range             *Value             `xml:"range"`
	Bearing           *Value             `xml:"bearing"`
	Inclination       *Value             `xml:"inclination"`
	RangeUnits        *Value             `xml:"rangeUnits"`
	BearingUnits      *Value             `xml:"bearingUnits"`
	NorthRef          *Value             `xml:"northRef"`
	StrokeColor       *Value             `xml:"strokeColor"`
	ForceDelete       *struct{}          `xml:"__forcedelete"`
}

// Contact identifies a device or a marker label.
type Contact struct {
	Callsign string `xml:"callsign,attr"`
	Endpoint string `xml:"endpoint,attr,omitempty"`
	Phone    string `xml:"phone,attr,omitempty"`
}

// Takv describes the client software and hardware.
type Takv struct {
	Device   string `xml:"device,attr"`
	OS       string `xml:"os,attr"`
	Platform string `xml:"platform,attr"`
	Version  string `xml:"version,attr"`
}

// Group is the team membership block.
type Group struct {
	Name string `xml:"name,attr"`
	Role string `xml:"role,attr"`
}

type Status struct {
	Battery   string `xml:"battery,attr"`
	Readiness string `xml:"readiness,attr,omitempty"`
}

type Track struct {
	Course string `xml:"course,attr"`
	Speed  string `xml:"speed,attr"`
}

type Sensor struct {
	Azimuth   string `xml:"azimuth,attr"`
	Fov       string `xml:"fov,attr"`
	Range     string `xml:"range,attr,omitempty"`
	Elevation string `xml:"elevation,attr,omitempty"`
}

type PrecisionLocation struct {
	GeopointSrc string `xml:"geopointsrc,attr"`
	AltSrc      string `xml:"altsrc,attr"`
}

// Chat is the GeoChat header block.
type Chat struct {
	Parent         string     `xml:"parent,attr"`
	GroupOwner     string     `xml:"groupOwner,attr"`
	MessageID      string     `xml:"messageId,attr"`
	Chatroom       string     `xml:"chatroom,attr"`
	ID             string     `xml:"id,attr"`
	SenderCallsign string     `xml:"senderCallsign,attr"`
	ChatGroup      *ChatGroup `xml:"chatgrp"`
}

// ChatGroup lists the room members in numbered uid0..uidN attributes.
type ChatGroup struct {
	ID    string     `xml:"id,attr"`
	Attrs []xml.Attr `xml:",any,attr"`
}

// Members returns uid0..uidN in slot order. Slot 0 is the sender.
func (g *ChatGroup) Members() []string {
	slots := map[int]string{}
	max := -1
	for _, a := range g.Attrs {
		name := a.Name.Local
		if !strings.HasPrefix(name, "uid") {
			continue
		}
		n := 0
		ok := len(name) > 3
		for _, c := range name[3:] {
			if c < '0' || c > '9' {
				ok = false
				break
			}
			n = n*10 + int(c-'0')
		}
		if !ok || a.Value == "" {
			continue
		}
		slots[n] = a.Value
		if n > max {
			max = n
		}
	}
	members := make([]string, 0, len(slots))
	for i := 0; i <= max; i++ {
		if v, ok := slots[i]; ok {
			members = append(members, v)
		}
	}
	return members
}

// Member returns the value of the uid<slot> attribute.
func (g *ChatGroup) Member(slot int) (string, bool) {
	want := "uid" + itoa(slot)
	for _, a := range g.Attrs {
		if a.Name.Local == want && a.Value != "" {
			return a.Value, true
		}
	}
	return "", false
}

type Link struct {
	UID            string `xml:"uid,attr"`
	Type           string `xml:"type,attr"`
	Relation       string `xml:"relation,attr"`
	ParentCallsign string `xml:"parent_callsign,attr,omitempty"`
	Production     string `xml:"production_time,attr,omitempty"`
}

type Remarks struct {
	Source string `xml:"source,attr,omitempty"`
	To     string `xml:"to,attr,omitempty"`
	Time   string `xml:"time,attr,omitempty"`
	Text   string `xml:",chardata"`
}

// Marti holds explicit destinations.
type Marti struct {
	Dest []Dest `xml:"dest"`
}

type Dest struct {
	Callsign string `xml:"callsign,attr,omitempty"`
	UID      string `xml:"uid,attr,omitempty"`
	Mission  string `xml:"mission,attr,omitempty"`
}

type Emergency struct {
	Type   string `xml:"type,attr,omitempty"`
	Cancel string `xml:"cancel,attr,omitempty"`
	Text   string `xml:",chardata"`
}

// Medevac is the 9-line casualty evacuation block.
type Medevac struct {
	Title               string     `xml:"title,attr"`
	Casevac             string     `xml:"casevac,attr"`
	Freq                string     `xml:"freq,attr"`
	Urgent              string     `xml:"urgent,attr"`
	Priority            string     `xml:"priority,attr"`
	Routine             string     `xml:"routine,attr"`
	Hoist               string     `xml:"hoist,attr"`
	ExtractionEquipment string     `xml:"extraction_equipment,attr"`
	Ventilator          string     `xml:"ventilator,attr"`
	EquipmentOther      string     `xml:"equipment_other,attr"`
	EquipmentDetail     string     `xml:"equipment_detail,attr"`
	Litter              string     `xml:"litter,attr"`
	Ambulatory          string     `xml:"ambulatory,attr"`
	Security            string     `xml:"security,attr"`
	HLZMarking          string     `xml:"hlz_marking,attr"`
	HLZRemarks          string     `xml:"hlz_remarks,attr"`
	USMilitary          string     `xml:"us_military,attr"`
	USCivilian          string     `xml:"us_civilian,attr"`
	NonUSMilitary       string     `xml:"nonus_military,attr"`
	NonUSCivilian       string     `xml:"nonus_civilian,attr"`
	EPW                 string     `xml:"epw,attr"`
	Child               string     `xml:"child,attr"`
	TerrainSlope        string     `xml:"terrain_slope,attr"`
	TerrainRough        string     `xml:"terrain_rough,attr"`
	TerrainLoose        string     `xml:"terrain_loose,attr"`
	TerrainOther        string     `xml:"terrain_other,attr"`
	TerrainSlopeDir     string     `xml:"terrain_slope_dir,attr"`
	MedlineRemarks      string     `xml:"medline_remarks,attr"`
	ZoneProtSelection   string     `xml:"zone_prot_selection,attr"`
	ZMists              *ZMistsMap `xml:"zMistsMap"`
}

type ZMistsMap struct {
	ZMist []ZMist `xml:"zMist"`
}

// ZMist is one casualty line (zap number, mechanism, injury, signs, treatment).
type ZMist struct {
	Title string `xml:"title,attr"`
	Z     string `xml:"z,attr"`
	M     string `xml:"m,attr"`
	I     string `xml:"i,attr"`
	S     string `xml:"s,attr"`
	T     string `xml:"t,attr"`
}

type Video struct {
	URL             string           `xml:"url,attr,omitempty"`
	ConnectionEntry *ConnectionEntry `xml:"ConnectionEntry"`
}

type ConnectionEntry struct {
	NetworkTimeout    string `xml:"networkTimeout,attr"`
	UID               string `xml:"uid,attr"`
	Path              string `xml:"path,attr"`
	Protocol          string `xml:"protocol,attr"`
	BufferTime        string `xml:"bufferTime,attr"`
	Address           string `xml:"address,attr"`
	Port              string `xml:"port,attr"`
	RoverPort         string `xml:"roverPort,attr"`
	RtspReliable      string `xml:"rtspReliable,attr"`
	IgnoreEmbeddedKLV string `xml:"ignoreEmbeddedKLV,attr"`
	Alias             string `xml:"alias,attr"`
}

type UserIcon struct {
	IconsetPath string `xml:"iconsetpath,attr"`
}

type Color struct {
	ARGB  string `xml:"argb,attr,omitempty"`
	Value string `xml:"value,attr,omitempty"`
}

// Value is the common <x value="..."/> shape.
type Value struct {
	Value string `xml:"value,attr"`
}

// Auth is the in-band credential root element.
type Auth struct {
	XMLName xml.Name `xml:"auth"`
	Cot     *AuthCot `xml:"cot"`
}

type AuthCot struct {
	Username string `xml:"username,attr"`
	Password string `xml:"password,attr"`
	UID      string `xml:"uid,attr"`
}

// IsIdentity reports whether the event carries a device-identity payload.
func (e *Event) IsIdentity() bool {
	if e.Detail == nil {
		return false
	}
	if e.Detail.Takv != nil {
		return true
	}
	return e.Detail.Contact != nil && e.Detail.Contact.Endpoint != ""
}

// Callsign returns the contact callsign, if any.
func (e *Event) Callsign() string {
	if e.Detail == nil || e.Detail.Contact == nil {
		return ""
	}
	return e.Detail.Contact.Callsign
}

// EventTime parses the time attribute. The zero time is returned when absent or malformed.
func (e *Event) EventTime() time.Time { return parseTime(e.Time) }

// StartTime parses the start attribute.
func (e *Event) StartTime() time.Time { return parseTime(e.Start) }

// StaleTime parses the stale attribute.
func (e *Event) StaleTime() time.Time { return parseTime(e.Stale) }

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}
