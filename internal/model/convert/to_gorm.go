package convert

import (
	"github.com/cotrelay/server/internal/geo"
	"github.com/cotrelay/server/internal/model"
	"github.com/cotrelay/server/pkg/core"
)

// CotRecordToCotEvent converts a core.CotRecord to a GORM model.CotEvent
func CotRecordToCotEvent(c core.CotRecord) model.CotEvent {
	return model.CotEvent{
		ID:        c.ID,
		UID:       c.UID,
		Type:      c.Type,
		Time:      c.Time,
		How:       c.How,
		Start:     c.Start,
		Stale:     c.Stale,
		SenderUID: c.SenderUID,
		Callsign:  c.Callsign,
		Tasking:   c.Tasking,
		Raw:       c.Raw,
	}
}

// PointToModel converts a core.Point, projecting the location to 3857.
// An unprojectable location is stored empty.
func PointToModel(p core.Point) model.Point {
	m := model.Point{
		ID:             p.ID,
		CotID:          p.CotID,
		UID:            p.UID,
		SenderUID:      p.SenderUID,
		Time:           p.Time,
		Latitude:       p.Latitude,
		Longitude:      p.Longitude,
		Hae:            p.Hae,
		Ce:             p.Ce,
		Le:             p.Le,
		Course:         p.Course,
		Speed:          p.Speed,
		Azimuth:        p.Azimuth,
		Fov:            p.Fov,
		LocationSource: p.LocationSource,
	}
	if loc, err := geo.Coords3857From4326(p.Longitude, p.Latitude); err == nil {
		m.Location = loc
	}
	return m
}

// MarkerToModel converts a core.Marker to a GORM model.Marker
func MarkerToModel(mk core.Marker) model.Marker {
	return model.Marker{
		ID:          mk.ID,
		UID:         mk.UID,
		CotID:       mk.CotID,
		PointID:     mk.PointID,
		SenderUID:   mk.SenderUID,
		Callsign:    mk.Callsign,
		CotType:     mk.CotType,
		Affiliation: mk.Affiliation,
		Dimension:   mk.Dimension,
		Symbology:   mk.Symbology,
		Icon:        mk.Icon,
		Color:       mk.Color,
		Remarks:     mk.Remarks,
		Time:        mk.Time,
		Stale:       mk.Stale,
	}
}

// AlertToModel converts a core.Alert to a GORM model.Alert
func AlertToModel(a core.Alert) model.Alert {
	return model.Alert{
		ID:          a.ID,
		UID:         a.UID,
		CotID:       a.CotID,
		PointID:     a.PointID,
		SenderUID:   a.SenderUID,
		Callsign:    a.Callsign,
		AlertType:   a.AlertType,
		Start:       a.Start,
		Cancelled:   a.Cancelled,
		CancelledAt: a.CancelledAt,
	}
}

// CasEvacToModel converts a core.CasEvac and its casualty lines
func CasEvacToModel(c core.CasEvac) (model.CasEvac, []model.ZMist) {
	m := model.CasEvac{
		ID:                  c.ID,
		UID:                 c.UID,
		CotID:               c.CotID,
		PointID:             c.PointID,
		SenderUID:           c.SenderUID,
		Title:               c.Title,
		Casevac:             c.Casevac,
		Freq:                c.Freq,
		Urgent:              c.Urgent,
		Priority:            c.Priority,
		Routine:             c.Routine,
		Hoist:               c.Hoist,
		ExtractionEquipment: c.ExtractionEquipment,
		Ventilator:          c.Ventilator,
		EquipmentOther:      c.EquipmentOther,
		EquipmentDetail:     c.EquipmentDetail,
		Litter:              c.Litter,
		Ambulatory:          c.Ambulatory,
		Security:            c.Security,
		HLZMarking:          c.HLZMarking,
		HLZRemarks:          c.HLZRemarks,
		USMilitary:          c.USMilitary,
		USCivilian:          c.USCivilian,
		NonUSMilitary:       c.NonUSMilitary,
		NonUSCivilian:       c.NonUSCivilian,
		EPW:                 c.EPW,
		Child:               c.Child,
		TerrainSlope:        c.TerrainSlope,
		TerrainRough:        c.TerrainRough,
		TerrainLoose:        c.TerrainLoose,
		TerrainOther:        c.TerrainOther,
		TerrainSlopeDir:     c.TerrainSlopeDir,
		MedlineRemarks:      c.MedlineRemarks,
		ZoneProtSelection:   c.ZoneProtSelection,
		Time:                c.Time,
	}
	zmists := make([]model.ZMist, 0, len(c.ZMists))
	for _, z := range c.ZMists {
		zmists = append(zmists, model.ZMist{
			CasEvacUID: c.UID,
			Index:      z.Index,
			Title:      z.Title,
			Z:          z.Z,
			M:          z.M,
			I:          z.I,
			S:          z.S,
			T:          z.T,
		})
	}
	return m, zmists
}

// GeoChatToModel converts a core.GeoChat to a GORM model.GeoChat
func GeoChatToModel(g core.GeoChat) model.GeoChat {
	return model.GeoChat{
		ID:             g.ID,
		MessageID:      g.MessageID,
		CotID:          g.CotID,
		PointID:        g.PointID,
		SenderUID:      g.SenderUID,
		SenderCallsign: g.SenderCallsign,
		Chatroom:       g.Chatroom,
		ChatroomID:     g.ChatroomID,
		Parent:         g.Parent,
		GroupOwner:     g.GroupOwner,
		Text:           g.Text,
		Time:           g.Time,
	}
}

// ChatroomToModel converts a core.Chatroom and its members
func ChatroomToModel(c core.Chatroom) (model.Chatroom, []model.ChatroomMember) {
	members := make([]model.ChatroomMember, 0, len(c.Members))
	for _, mem := range c.Members {
		members = append(members, model.ChatroomMember{RoomID: c.RoomID, UID: mem.UID, Owner: mem.Owner})
	}
	return model.Chatroom{RoomID: c.RoomID, Name: c.Name, Parent: c.Parent}, members
}

// VideoToModel converts a core.VideoAnnouncement to a GORM model.VideoStream
func VideoToModel(v core.VideoAnnouncement) model.VideoStream {
	return model.VideoStream{
		ID:                v.ID,
		UID:               v.UID,
		CotID:             v.CotID,
		PointID:           v.PointID,
		SenderUID:         v.SenderUID,
		URL:               v.URL,
		Alias:             v.Alias,
		Protocol:          v.Protocol,
		Address:           v.Address,
		Port:              v.Port,
		Path:              v.Path,
		RoverPort:         v.RoverPort,
		NetworkTimeout:    v.NetworkTimeout,
		BufferTime:        v.BufferTime,
		RtspReliable:      v.RtspReliable,
		IgnoreEmbeddedKLV: v.IgnoreEmbeddedKLV,
		Time:              v.Time,
	}
}

// RangeBearingLineToModel converts a core.RangeBearingLine, projecting the line to 3857
func RangeBearingLineToModel(rb core.RangeBearingLine) model.RangeBearingLine {
	m := model.RangeBearingLine{
		ID:           rb.ID,
		UID:          rb.UID,
		CotID:        rb.CotID,
		PointID:      rb.PointID,
		SenderUID:    rb.SenderUID,
		Callsign:     rb.Callsign,
		RangeMeters:  rb.RangeMeters,
		RangeUnits:   rb.RangeUnits,
		Bearing:      rb.Bearing,
		BearingUnits: rb.BearingUnits,
		Inclination:  rb.Inclination,
		NorthRef:     rb.NorthRef,
		Color:        rb.Color,
		StartLat:     rb.StartLat,
		StartLon:     rb.StartLon,
		EndLat:       rb.EndLat,
		EndLon:       rb.EndLon,
		Time:         rb.Time,
	}
	if line, err := geo.Line3857From4326(rb.StartLon, rb.StartLat, rb.EndLon, rb.EndLat); err == nil {
		m.Line = line.AsGeometry()
	}
	return m
}

// TelemetryToEUD converts a core.DeviceTelemetry to a GORM model.EUD
func TelemetryToEUD(t core.DeviceTelemetry) model.EUD {
	return model.EUD{
		UID:           t.UID,
		Callsign:      t.Callsign,
		Device:        t.Device,
		OS:            t.OS,
		Platform:      t.Platform,
		Version:       t.Version,
		Phone:         t.Phone,
		Battery:       t.Battery,
		Team:          t.Team,
		Role:          t.Role,
		LastEventTime: t.LastEventTime,
		Status:        t.Status,
	}
}
