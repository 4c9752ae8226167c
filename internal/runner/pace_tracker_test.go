package runner

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Speed7701/RFR/internal/location"
)

func newTestTracker() *PaceTracker {
	return NewPaceTracker(50, log.New(io.Discard, "", 0))
}

// sampleAt builds a fix n meters north of the base point, n/stride seconds
// after the base time. 0.000009 degrees of latitude is within a hair of
// one meter.
func sampleAt(meters float64, at time.Time, accuracy float64) location.Sample {
	return location.Sample{
		Latitude:       47.6062 + meters*0.000009,
		Longitude:      -122.3321,
		AccuracyMeters: accuracy,
		Time:           at,
	}
}

func TestPaceTracker_FirstSampleSeedsBaselineOnly(t *testing.T) {
	pt := newTestTracker()
	pt.Ingest(sampleAt(0, time.Now(), 5))

	assert.Equal(t, 0.0, pt.DistanceMeters())
	assert.Nil(t, pt.CurrentPace())
	assert.Equal(t, 1, pt.AcceptedSamples())
}

func TestPaceTracker_AccumulatesDistance(t *testing.T) {
	pt := newTestTracker()
	base := time.Now()

	pt.Ingest(sampleAt(0, base, 5))
	pt.Ingest(sampleAt(3, base.Add(time.Second), 5))
	pt.Ingest(sampleAt(6, base.Add(2*time.Second), 5))

	assert.InDelta(t, 6.0, pt.DistanceMeters(), 0.1)
	assert.Equal(t, 3, pt.AcceptedSamples())
}

func TestPaceTracker_RejectsBadAccuracy(t *testing.T) {
	pt := newTestTracker()
	base := time.Now()

	pt.Ingest(sampleAt(0, base, 5))
	pt.Ingest(sampleAt(100, base.Add(time.Second), 60)) // accuracy 60 >= 50: dropped
	pt.Ingest(sampleAt(100, base.Add(time.Second), -1)) // negative accuracy: dropped
	pt.Ingest(sampleAt(3, base.Add(2*time.Second), 5))

	// The rejected fixes contribute nothing; distance runs baseline -> 3 m.
	assert.InDelta(t, 3.0, pt.DistanceMeters(), 0.1)
	assert.Equal(t, 2, pt.AcceptedSamples())
}

func TestPaceTracker_RejectsAccuracyAtLimit(t *testing.T) {
	pt := newTestTracker()
	pt.Ingest(sampleAt(0, time.Now(), 50)) // limit is exclusive

	assert.Equal(t, 0, pt.AcceptedSamples())
	assert.Nil(t, pt.LatestSample())
}

func TestPaceTracker_PaceFromSteadyRun(t *testing.T) {
	pt := newTestTracker()
	base := time.Now()

	// 5 meters per second, one fix per second: pace 0.2 s/m.
	for i := 0; i <= 10; i++ {
		pt.Ingest(sampleAt(float64(i*5), base.Add(time.Duration(i)*time.Second), 5))
	}

	pace := pt.CurrentPace()
	require.NotNil(t, pace)
	assert.InDelta(t, 0.2, *pace, 0.01)
}

func TestPaceTracker_PaceIsRollingAverage(t *testing.T) {
	pt := newTestTracker()
	base := time.Now()

	// Ten slow hops (1 m/s), then ten fast hops (5 m/s). The window only
	// holds the last ten, so the published pace reflects the fast stretch.
	pos := 0.0
	tick := 0
	for i := 0; i < 10; i++ {
		pt.Ingest(sampleAt(pos, base.Add(time.Duration(tick)*time.Second), 5))
		pos += 1
		tick++
	}
	for i := 0; i < 11; i++ {
		pt.Ingest(sampleAt(pos, base.Add(time.Duration(tick)*time.Second), 5))
		pos += 5
		tick++
	}

	pace := pt.CurrentPace()
	require.NotNil(t, pace)
	assert.InDelta(t, 0.2, *pace, 0.02)
}

func TestPaceTracker_StandingStillContributesNoPace(t *testing.T) {
	pt := newTestTracker()
	base := time.Now()

	pt.Ingest(sampleAt(0, base, 5))
	pt.Ingest(sampleAt(0, base.Add(time.Second), 5))
	pt.Ingest(sampleAt(0, base.Add(2*time.Second), 5))

	assert.Nil(t, pt.CurrentPace())
	assert.InDelta(t, 0.0, pt.DistanceMeters(), 0.001)
}

func TestPaceTracker_BackwardsTimestampContributesDistanceOnly(t *testing.T) {
	pt := newTestTracker()
	base := time.Now()

	pt.Ingest(sampleAt(0, base, 5))
	pt.Ingest(sampleAt(3, base.Add(-time.Second), 5))

	assert.InDelta(t, 3.0, pt.DistanceMeters(), 0.1)
	assert.Nil(t, pt.CurrentPace())
}

func TestPaceTracker_Reset(t *testing.T) {
	pt := newTestTracker()
	base := time.Now()

	pt.Ingest(sampleAt(0, base, 5))
	pt.Ingest(sampleAt(5, base.Add(time.Second), 5))
	require.Greater(t, pt.DistanceMeters(), 0.0)

	pt.Reset()

	assert.Equal(t, 0.0, pt.DistanceMeters())
	assert.Nil(t, pt.CurrentPace())
	assert.Equal(t, 0, pt.AcceptedSamples())
	assert.Nil(t, pt.LatestSample())

	// The first fix after a reset seeds a fresh baseline.
	pt.Ingest(sampleAt(100, base.Add(10*time.Second), 5))
	assert.Equal(t, 0.0, pt.DistanceMeters())
}

func TestPaceTracker_LatestSampleIsACopy(t *testing.T) {
	pt := newTestTracker()
	pt.Ingest(sampleAt(0, time.Now(), 5))

	s1 := pt.LatestSample()
	require.NotNil(t, s1)
	s1.Latitude = 0

	s2 := pt.LatestSample()
	assert.NotEqual(t, 0.0, s2.Latitude)
}

func TestPaceTracker_DefaultAccuracyLimit(t *testing.T) {
	pt := NewPaceTracker(0, log.New(io.Discard, "", 0))
	pt.Ingest(sampleAt(0, time.Now(), 49))
	assert.Equal(t, 1, pt.AcceptedSamples())
}
