package decoder

import (
	"context"

	"github.com/cotrelay/server/internal/cot"
	"github.com/cotrelay/server/pkg/core"
)

// IsMarker reports whether a document describes a user placed marker.
// Device position reports and video location pseudo-markers never are.
func IsMarker(e *cot.Event) bool {
	if !cot.IsAtom(e.Type) && !cot.IsSpotMap(e.Type) {
		return false
	}
	if e.IsIdentity() {
		return false
	}
	return e.Type != cot.TypeVideoLocation
}

// ExtractMarker returns nil for documents that are not markers.
func (d *Decoder) ExtractMarker(ctx context.Context, e *cot.Event, senderUID string) (*core.Marker, error) {
	if !IsMarker(e) {
		return nil, nil
	}

	m := &core.Marker{
		UID:         e.UID,
		SenderUID:   senderUID,
		Callsign:    e.Callsign(),
		CotType:     e.Type,
		Affiliation: cot.AffiliationName(e.Type),
		Dimension:   cot.DimensionName(e.Type),
		Symbology:   cot.SymbologyCode(e.Type),
		Time:        e.EventTime(),
		Stale:       e.StaleTime(),
	}

	if det := e.Detail; det != nil {
		if det.Color != nil {
			m.Color = det.Color.ARGB
			if m.Color == "" {
				m.Color = det.Color.Value
			}
		}
		if det.Remarks != nil {
			m.Remarks = det.Remarks.Text
		}
	}

	m.Icon = d.resolveIcon(ctx, e, m.Symbology)
	return m, nil
}

func (d *Decoder) resolveIcon(ctx context.Context, e *cot.Event, symbology string) string {
	if e.Detail == nil || e.Detail.UserIcon == nil || e.Detail.UserIcon.IconsetPath == "" {
		return symbology
	}
	if d.icons != nil {
		if icon, ok := d.icons.LookupIcon(ctx, e.Detail.UserIcon.IconsetPath); ok {
			return icon
		}
	}
	return DefaultIcon
}
