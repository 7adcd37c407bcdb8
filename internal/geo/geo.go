// Package geo holds the great-circle helpers used to find spaces near a point.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// EarthRadiusMeters is the mean Earth radius used for all distance checks.
const EarthRadiusMeters = 6371000.0

// Point builds an orb point from latitude and longitude in degrees.
func Point(lat, lon float64) orb.Point {
	return orb.Point{lon, lat}
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b orb.Point) float64 {
	lat1 := deg2rad(a.Lat())
	lat2 := deg2rad(b.Lat())
	dLat := lat2 - lat1
	dLon := deg2rad(b.Lon() - a.Lon())

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Within reports whether b lies inside radius meters of a.
func Within(a, b orb.Point, radius float64) bool {
	return Distance(a, b) <= radius
}

// SearchBound returns a lat/lon box containing every point within radius of center.
// The box is a prefilter only; callers still confirm candidates with Distance.
// orb computes the box with the equatorial radius, so the radius is padded to keep
// the box a superset of the mean-radius circle. wrapsLon is true when the box crosses
// the antimeridian (Min.Lon > Max.Lon) and longitude must not be filtered.
func SearchBound(center orb.Point, radius float64) (bound orb.Bound, wrapsLon bool) {
	bound = orbgeo.NewBoundAroundPoint(center, radius*1.01)
	return bound, bound.Min.Lon() > bound.Max.Lon()
}

func deg2rad(d float64) float64 {
	return d * math.Pi / 180
}
