package geo

import (
	"errors"
	"fmt"
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// Stored geometries are always EPSG:3857 WKB so SQLite and Postgres hold the
// same bytes. Degrees in, projected metres out.

// ErrInvalidCoordinates is returned when the coordinates are out of range
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// EarthRadius is the mean earth radius in metres.
const EarthRadius = 6371008.8

// Range unit flags as sent in <rangeUnits value=...>.
const (
	RangeStandard = 0 // statute miles
	RangeMetric   = 1 // kilometres
	RangeNautical = 2 // nautical miles
)

// Bearing unit flags as sent in <bearingUnits value=...>.
const (
	BearingDegrees = 0
	BearingMils    = 1
)

// Coords3857From4326 projects a longitude/latitude pair to a web mercator point
func Coords3857From4326(
	longitude float64,
	latitude float64,
) (
	point geom.Point,
	err error,
) {
	if latitude < -90 || latitude > 90 || longitude < -180 || longitude > 180 {
		return geom.NewEmptyPoint(geom.DimXY), ErrInvalidCoordinates
	}
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ := f(longitude, latitude, 0)
	point = geom.NewPoint(
		geom.Coordinates{
			XY: geom.XY{X: x, Y: y},
		},
	)
	return point, nil
}

// Line3857From4326 projects a two point line.
func Line3857From4326(startLon, startLat, endLon, endLat float64) (geom.LineString, error) {
	start, err := Coords3857From4326(startLon, startLat)
	if err != nil {
		return geom.LineString{}, err
	}
	end, err := Coords3857From4326(endLon, endLat)
	if err != nil {
		return geom.LineString{}, err
	}
	a, _ := start.Coordinates()
	b, _ := end.Coordinates()
	g, err := geom.UnmarshalWKT(fmt.Sprintf("LINESTRING(%f %f,%f %f)", a.X, a.Y, b.X, b.Y))
	if err != nil {
		return geom.LineString{}, fmt.Errorf("building line: %w", err)
	}
	return g.AsLineString(), nil
}

// RangeToMeters converts a range value sent with the given unit flag.
// Unknown flags are treated as metres.
func RangeToMeters(value float64, units int) float64 {
	switch units {
	case RangeStandard:
		return value * 1609.344
	case RangeMetric:
		return value * 1000
	case RangeNautical:
		return value * 1852
	}
	return value
}

// BearingToDegrees converts a bearing sent with the given unit flag.
// Mils are NATO mils, 6400 to the circle.
func BearingToDegrees(value float64, units int) float64 {
	if units == BearingMils {
		value = value * 360 / 6400
	}
	return math.Mod(math.Mod(value, 360)+360, 360)
}

// Destination projects a great-circle end point from a start point, an
// initial bearing in degrees and a distance in metres.
func Destination(lat, lon, bearing, distance float64) (float64, float64) {
	φ1 := lat * math.Pi / 180
	λ1 := lon * math.Pi / 180
	θ := bearing * math.Pi / 180
	δ := distance / EarthRadius

	sinφ2 := math.Sin(φ1)*math.Cos(δ) + math.Cos(φ1)*math.Sin(δ)*math.Cos(θ)
	φ2 := math.Asin(sinφ2)
	y := math.Sin(θ) * math.Sin(δ) * math.Cos(φ1)
	x := math.Cos(δ) - math.Sin(φ1)*sinφ2
	λ2 := λ1 + math.Atan2(y, x)

	outLat := φ2 * 180 / math.Pi
	outLon := math.Mod(λ2*180/math.Pi+540, 360) - 180
	return outLat, outLon
}
