package geo

import (
	"math"
	"testing"
)

func TestDistanceOneDegreeOfLatitude(t *testing.T) {
	d := DistanceNM(Position{Lat: 0, Lon: 0}, Position{Lat: 1, Lon: 0})
	if math.Abs(d-60.04) > 0.1 {
		t.Fatalf("1 degree latitude: got %.3f nm", d)
	}
}

func TestBearingCardinal(t *testing.T) {
	o := Position{Lat: 0, Lon: 0}
	cases := []struct {
		to   Position
		want float64
	}{
		{Position{Lat: 1, Lon: 0}, 0},
		{Position{Lat: 0, Lon: 1}, 90},
		{Position{Lat: -1, Lon: 0}, 180},
		{Position{Lat: 0, Lon: -1}, 270},
	}
	for _, c := range cases {
		if got := InitialBearing(o, c.to); math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("bearing to %v: got %v want %v", c.to, got, c.want)
		}
	}
}

func TestIntermediateMidpointOnEquator(t *testing.T) {
	m := Intermediate(Position{Lat: 0, Lon: 0}, Position{Lat: 0, Lon: 10}, 0.5)
	if math.Abs(m.Lat) > 1e-9 || math.Abs(m.Lon-5) > 1e-9 {
		t.Fatalf("midpoint: %v", m)
	}
}

func TestVectorAlong(t *testing.T) {
	east := Vector{East: 2}
	if got := east.Along(90); math.Abs(got-2) > 1e-12 {
		t.Fatalf("along course: %v", got)
	}
	if got := east.Along(270); math.Abs(got+2) > 1e-12 {
		t.Fatalf("against course: %v", got)
	}
	if got := east.Along(0); math.Abs(got) > 1e-12 {
		t.Fatalf("crosswise: %v", got)
	}
	v := FromCourse(3, 45)
	if math.Abs(v.Magnitude()-3) > 1e-12 {
		t.Fatalf("magnitude: %v", v.Magnitude())
	}
}
