package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance_IdenticalPoints(t *testing.T) {
	p := Point{Lat: 37.7837, Lng: -83.6826}
	assert.Equal(t, 0.0, Distance(p, p))
}

func TestDistance_Antipodal(t *testing.T) {
	half := math.Pi * EarthRadiusKm

	cases := []struct {
		name string
		a, b Point
	}{
		{"poles", Point{Lat: 90, Lng: 0}, Point{Lat: -90, Lng: 0}},
		{"equator", Point{Lat: 0, Lng: 0}, Point{Lat: 0, Lng: 180}},
		{"offset", Point{Lat: 40, Lng: -105}, Point{Lat: -40, Lng: 75}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Distance(tc.a, tc.b)
			assert.InEpsilon(t, half, got, 0.01)
		})
	}
}

func TestDistance_Symmetric(t *testing.T) {
	rrg := Point{Lat: 37.7837, Lng: -83.6826}
	nrg := Point{Lat: 38.0700, Lng: -81.0800}
	assert.InDelta(t, Distance(rrg, nrg), Distance(nrg, rrg), 1e-9)
}

func TestWithin(t *testing.T) {
	boulder := Point{Lat: 40.0150, Lng: -105.2705}
	eldo := Point{Lat: 39.9316, Lng: -105.2930}
	yosemite := Point{Lat: 37.8651, Lng: -119.5383}

	assert.True(t, Within(boulder, eldo, 100))
	assert.False(t, Within(boulder, yosemite, 100))
}
