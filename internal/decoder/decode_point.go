package decoder

import (
	"fmt"

	"github.com/cotrelay/server/internal/cot"
	"github.com/cotrelay/server/internal/util"
	"github.com/cotrelay/server/pkg/core"
)

// ExtractPoint returns nil when the document has no usable fix:
// no <point>, a no-fix latitude, or exactly 0/0.
func ExtractPoint(e *cot.Event, senderUID string) (*core.Point, error) {
	p := e.Point
	if p == nil || util.IsNoFix(p.Lat) {
		return nil, nil
	}

	lat, ok := util.ParseFloat(p.Lat)
	if !ok {
		return nil, fmt.Errorf("lat %q: %w", p.Lat, ErrMissingField)
	}
	lon, ok := util.ParseFloat(p.Lon)
	if !ok {
		return nil, fmt.Errorf("lon %q: %w", p.Lon, ErrMissingField)
	}
	if lat == 0 && lon == 0 {
		return nil, nil
	}

	point := &core.Point{
		UID:            e.UID,
		SenderUID:      senderUID,
		Time:           e.EventTime(),
		Latitude:       lat,
		Longitude:      lon,
		Hae:            util.Float(p.Hae),
		Ce:             util.Float(p.Ce),
		Le:             util.Float(p.Le),
		LocationSource: locationSource(e),
	}

	if d := e.Detail; d != nil {
		if d.Track != nil {
			point.Course = util.OptionalFloat(d.Track.Course)
			point.Speed = util.OptionalFloat(d.Track.Speed)
		}
		if d.Sensor != nil {
			point.Azimuth = util.OptionalFloat(d.Sensor.Azimuth)
			point.Fov = util.OptionalFloat(d.Sensor.Fov)
		}
	}

	return point, nil
}

// locationSource: geopointsrc, then altsrc, then GPS for machine-GPS fixes.
func locationSource(e *cot.Event) string {
	if e.Detail != nil && e.Detail.PrecisionLocation != nil {
		pl := e.Detail.PrecisionLocation
		if src := util.FirstNonEmpty(pl.GeopointSrc, pl.AltSrc); src != "" {
			return src
		}
	}
	if e.How == "m-g" {
		return "GPS"
	}
	return ""
}
