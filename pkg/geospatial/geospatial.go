package geospatial

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (p Point) orb() orb.Point {
	// orb points are (lon, lat)
	return orb.Point{p.Longitude, p.Latitude}
}

// DistanceMeters returns the great-circle distance between two points
// using the haversine formula on a spherical earth.
func DistanceMeters(a, b Point) float64 {
	return geo.DistanceHaversine(a.orb(), b.orb())
}

// WithinRadius reports whether b is at most radiusMeters away from a.
func WithinRadius(a, b Point, radiusMeters float64) bool {
	return DistanceMeters(a, b) <= radiusMeters
}
