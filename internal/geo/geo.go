// Package geo holds the spherical geometry shared by the route graph, the
// environment sampler and the leg evaluator. Distances are nautical miles,
// angles are degrees.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusNM is the mean Earth radius in nautical miles.
const EarthRadiusNM = 3440.065

// Position is a WGS84 latitude/longitude pair in degrees.
type Position struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

func (p Position) String() string { return fmt.Sprintf("(%.4f,%.4f)", p.Lat, p.Lon) }

// Valid reports whether the coordinates are finite and inside the usual ranges.
func (p Position) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }

// DistanceNM returns the haversine great-circle distance between a and b.
func DistanceNM(a, b Position) float64 {
	dLat := rad(b.Lat - a.Lat)
	dLon := rad(b.Lon - a.Lon)
	s1 := math.Sin(dLat / 2)
	s2 := math.Sin(dLon / 2)
	h := s1*s1 + math.Cos(rad(a.Lat))*math.Cos(rad(b.Lat))*s2*s2
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusNM * math.Asin(math.Sqrt(h))
}

// InitialBearing returns the true course in [0,360) leaving a towards b.
func InitialBearing(a, b Position) float64 {
	lat1, lat2 := rad(a.Lat), rad(b.Lat)
	dLon := rad(b.Lon - a.Lon)
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return math.Mod(deg(math.Atan2(y, x))+360, 360)
}

// Intermediate returns the point a fraction f of the way along the great
// circle from a to b. f is clamped to [0,1].
func Intermediate(a, b Position, f float64) Position {
	if f <= 0 {
		return a
	}
	if f >= 1 {
		return b
	}
	delta := DistanceNM(a, b) / EarthRadiusNM
	if delta < 1e-12 {
		return a
	}
	lat1, lon1 := rad(a.Lat), rad(a.Lon)
	lat2, lon2 := rad(b.Lat), rad(b.Lon)
	sd := math.Sin(delta)
	ka := math.Sin((1-f)*delta) / sd
	kb := math.Sin(f*delta) / sd
	x := ka*math.Cos(lat1)*math.Cos(lon1) + kb*math.Cos(lat2)*math.Cos(lon2)
	y := ka*math.Cos(lat1)*math.Sin(lon1) + kb*math.Cos(lat2)*math.Sin(lon2)
	z := ka*math.Sin(lat1) + kb*math.Sin(lat2)
	lat := math.Atan2(z, math.Sqrt(x*x+y*y))
	lon := math.Atan2(y, x)
	return Position{Lat: deg(lat), Lon: deg(lon)}
}

// Vector is a horizontal field value (wind or current) in knots, split into
// eastward and northward components.
type Vector struct {
	East  float64 `json:"east" yaml:"east"`
	North float64 `json:"north" yaml:"north"`
}

// Magnitude returns the vector length in knots.
func (v Vector) Magnitude() float64 { return math.Hypot(v.East, v.North) }

// Along projects v onto a course given in degrees true. Positive values push
// in the direction of travel.
func (v Vector) Along(courseDeg float64) float64 {
	c := rad(courseDeg)
	return v.East*math.Sin(c) + v.North*math.Cos(c)
}

// Scale multiplies both components by k.
func (v Vector) Scale(k float64) Vector { return Vector{East: v.East * k, North: v.North * k} }

// Add returns the component-wise sum.
func (v Vector) Add(o Vector) Vector { return Vector{East: v.East + o.East, North: v.North + o.North} }

// FromCourse builds a vector of the given speed flowing towards courseDeg.
func FromCourse(speedKn, courseDeg float64) Vector {
	c := rad(courseDeg)
	return Vector{East: speedKn * math.Sin(c), North: speedKn * math.Cos(c)}
}
