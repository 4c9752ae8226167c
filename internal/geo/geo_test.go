package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineMeters_SamePoint(t *testing.T) {
	d := HaversineMeters(47.6062, -122.3321, 47.6062, -122.3321)
	assert.Equal(t, 0.0, d)
}

func TestHaversineMeters_OneThousandthDegreeLatitude(t *testing.T) {
	// 0.001 degrees of latitude is about 111.2 m anywhere on the globe.
	d := HaversineMeters(47.6062, -122.3321, 47.6072, -122.3321)
	assert.InDelta(t, 111.2, d, 0.5)
}

func TestHaversineMeters_KnownCityPair(t *testing.T) {
	// Jakarta to Bandung is roughly 115-125 km depending on the exact
	// reference points used.
	d := HaversineMeters(-6.2088, 106.8456, -6.9175, 107.6191)
	assert.Greater(t, d, 100_000.0)
	assert.Less(t, d, 150_000.0)
}

func TestHaversineMeters_Symmetric(t *testing.T) {
	d1 := HaversineMeters(47.6062, -122.3321, 47.6097, -122.3331)
	d2 := HaversineMeters(47.6097, -122.3331, 47.6062, -122.3321)
	assert.InDelta(t, d1, d2, 1e-9)
}

func TestHaversineMeters_TypicalRunningHop(t *testing.T) {
	// One second of running at ~3 m/s moves about 0.000027 degrees
	// of latitude. The formula must resolve hops this small.
	d := HaversineMeters(47.606200, -122.332100, 47.606227, -122.332100)
	assert.InDelta(t, 3.0, d, 0.1)
}
