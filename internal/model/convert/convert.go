// Package convert maps between core facts and their GORM models.
package convert

import (
	"github.com/cotrelay/server/internal/model"
	"github.com/cotrelay/server/pkg/core"
)

// CasEvacFromModel converts a stored model.CasEvac and its lines back to core
func CasEvacFromModel(m model.CasEvac, zmists []model.ZMist) core.CasEvac {
	c := core.CasEvac{
		ID:                  m.ID,
		UID:                 m.UID,
		CotID:               m.CotID,
		PointID:             m.PointID,
		SenderUID:           m.SenderUID,
		Title:               m.Title,
		Casevac:             m.Casevac,
		Freq:                m.Freq,
		Urgent:              m.Urgent,
		Priority:            m.Priority,
		Routine:             m.Routine,
		Hoist:               m.Hoist,
		ExtractionEquipment: m.ExtractionEquipment,
		Ventilator:          m.Ventilator,
		EquipmentOther:      m.EquipmentOther,
		EquipmentDetail:     m.EquipmentDetail,
		Litter:              m.Litter,
		Ambulatory:          m.Ambulatory,
		Security:            m.Security,
		HLZMarking:          m.HLZMarking,
		HLZRemarks:          m.HLZRemarks,
		USMilitary:          m.USMilitary,
		USCivilian:          m.USCivilian,
		NonUSMilitary:       m.NonUSMilitary,
		NonUSCivilian:       m.NonUSCivilian,
		EPW:                 m.EPW,
		Child:               m.Child,
		TerrainSlope:        m.TerrainSlope,
		TerrainRough:        m.TerrainRough,
		TerrainLoose:        m.TerrainLoose,
		TerrainOther:        m.TerrainOther,
		TerrainSlopeDir:     m.TerrainSlopeDir,
		MedlineRemarks:      m.MedlineRemarks,
		ZoneProtSelection:   m.ZoneProtSelection,
		Time:                m.Time,
	}
	for _, z := range zmists {
		c.ZMists = append(c.ZMists, core.ZMist{
			CasEvacUID: z.CasEvacUID,
			Index:      z.Index,
			Title:      z.Title,
			Z:          z.Z,
			M:          z.M,
			I:          z.I,
			S:          z.S,
			T:          z.T,
		})
	}
	return c
}

// AlertFromModel converts a stored model.Alert back to core
func AlertFromModel(m model.Alert) core.Alert {
	return core.Alert{
		ID:          m.ID,
		UID:         m.UID,
		CotID:       m.CotID,
		PointID:     m.PointID,
		SenderUID:   m.SenderUID,
		Callsign:    m.Callsign,
		AlertType:   m.AlertType,
		Start:       m.Start,
		Cancelled:   m.Cancelled,
		CancelledAt: m.CancelledAt,
	}
}

// EUDToTelemetry converts a stored model.EUD back to core
func EUDToTelemetry(m model.EUD) core.DeviceTelemetry {
	return core.DeviceTelemetry{
		UID:           m.UID,
		Callsign:      m.Callsign,
		Device:        m.Device,
		OS:            m.OS,
		Platform:      m.Platform,
		Version:       m.Version,
		Phone:         m.Phone,
		Battery:       m.Battery,
		Team:          m.Team,
		Role:          m.Role,
		LastEventTime: m.LastEventTime,
		Status:        m.Status,
	}
}
