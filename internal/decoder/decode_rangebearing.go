package decoder

import (
	"fmt"

	"github.com/cotrelay/server/internal/cot"
	"github.com/cotrelay/server/internal/geo"
	"github.com/cotrelay/server/internal/util"
	"github.com/cotrelay/server/pkg/core"
)

// ExtractRangeBearing projects the end point of a u-rb-a line from its anchor.
func ExtractRangeBearing(e *cot.Event, senderUID string) (*core.RangeBearingLine, error) {
	if e.Type != cot.TypeRangeBearing || e.Detail == nil {
		return nil, nil
	}
	d := e.Detail
	if d.Range == nil {
		return nil, fmt.Errorf("range: %w", ErrMissingField)
	}
	if d.Bearing == nil {
		return nil, fmt.Errorf("bearing: %w", ErrMissingField)
	}
	if e.Point == nil || util.IsNoFix(e.Point.Lat) {
		return nil, fmt.Errorf("anchor point: %w", ErrMissingField)
	}

	rangeValue, ok := util.ParseFloat(d.Range.Value)
	if !ok {
		return nil, fmt.Errorf("range %q: %w", d.Range.Value, ErrMissingField)
	}
	bearingValue, ok := util.ParseFloat(d.Bearing.Value)
	if !ok {
		return nil, fmt.Errorf("bearing %q: %w", d.Bearing.Value, ErrMissingField)
	}

	rangeUnits := geo.RangeMetric
	if d.RangeUnits != nil {
		rangeUnits = util.Int(d.RangeUnits.Value)
	}
	bearingUnits := geo.BearingDegrees
	if d.BearingUnits != nil {
		bearingUnits = util.Int(d.BearingUnits.Value)
	}

	meters := geo.RangeToMeters(rangeValue, rangeUnits)
	bearing := geo.BearingToDegrees(bearingValue, bearingUnits)
	lat, lon := util.Float(e.Point.Lat), util.Float(e.Point.Lon)
	endLat, endLon := geo.Destination(lat, lon, bearing, meters)

	rb := &core.RangeBearingLine{
		UID:          e.UID,
		SenderUID:    senderUID,
		Callsign:     e.Callsign(),
		RangeMeters:  meters,
		RangeUnits:   rangeUnits,
		Bearing:      bearing,
		BearingUnits: bearingUnits,
		StartLat:     lat,
		StartLon:     lon,
		EndLat:       endLat,
		EndLon:       endLon,
		Time:         e.EventTime(),
	}
	if d.Inclination != nil {
		rb.Inclination = util.Float(d.Inclination.Value)
	}
	if d.NorthRef != nil {
		rb.NorthRef = util.Int(d.NorthRef.Value)
	}
	if d.StrokeColor != nil {
		rb.Color = d.StrokeColor.Value
	}
	return rb, nil
}
