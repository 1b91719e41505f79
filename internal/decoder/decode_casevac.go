package decoder

import (
	"github.com/cotrelay/server/internal/cot"
	"github.com/cotrelay/server/internal/util"
	"github.com/cotrelay/server/pkg/core"
)

// ExtractCasEvac copies the _medevac_ block, normalising boolean strings.
func ExtractCasEvac(e *cot.Event, senderUID string) (*core.CasEvac, error) {
	if e.Detail == nil || e.Detail.Medevac == nil {
		return nil, nil
	}
	m := e.Detail.Medevac

	c := &core.CasEvac{
		UID:                 e.UID,
		SenderUID:           senderUID,
		Title:               m.Title,
		Casevac:             util.Bool(m.Casevac),
		Freq:                m.Freq,
		Urgent:              util.Int(m.Urgent),
		Priority:            util.Int(m.Priority),
		Routine:             util.Int(m.Routine),
		Hoist:               util.Bool(m.Hoist),
		ExtractionEquipment: util.Bool(m.ExtractionEquipment),
		Ventilator:          util.Bool(m.Ventilator),
		EquipmentOther:      util.Bool(m.EquipmentOther),
		EquipmentDetail:     m.EquipmentDetail,
		Litter:              util.Int(m.Litter),
		Ambulatory:          util.Int(m.Ambulatory),
		Security:            util.Int(m.Security),
		HLZMarking:          util.Int(m.HLZMarking),
		HLZRemarks:          m.HLZRemarks,
		USMilitary:          util.Int(m.USMilitary),
		USCivilian:          util.Int(m.USCivilian),
		NonUSMilitary:       util.Int(m.NonUSMilitary),
		NonUSCivilian:       util.Int(m.NonUSCivilian),
		EPW:                 util.Int(m.EPW),
		Child:               util.Int(m.Child),
		TerrainSlope:        util.Bool(m.TerrainSlope),
		TerrainRough:        util.Bool(m.TerrainRough),
		TerrainLoose:        util.Bool(m.TerrainLoose),
		TerrainOther:        util.Bool(m.TerrainOther),
		TerrainSlopeDir:     m.TerrainSlopeDir,
		MedlineRemarks:      m.MedlineRemarks,
		ZoneProtSelection:   util.Int(m.ZoneProtSelection),
		Time:                e.EventTime(),
	}
	if c.Title == "" {
		c.Title = e.Callsign()
	}

	if m.ZMists != nil {
		for i, z := range m.ZMists.ZMist {
			c.ZMists = append(c.ZMists, core.ZMist{
				CasEvacUID: e.UID,
				Index:      i,
				Title:      z.Title,
				Z:          z.Z,
				M:          z.M,
				I:          z.I,
				S:          z.S,
				T:          z.T,
			})
		}
	}

	return c, nil
}
