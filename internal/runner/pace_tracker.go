package runner

import (
	"log"
	"sync"

	"github.com/Speed7701/RFR/internal/geo"
	"github.com/Speed7701/RFR/internal/location"
)

// DefaultAccuracyLimitMeters is the horizontal accuracy above which a
// position fix is considered garbage and dropped.
const DefaultAccuracyLimitMeters = 50.0

// paceWindowSize is how many instantaneous pace values feed the
// published rolling average.
const paceWindowSize = 10

// PaceTracker turns raw position fixes into cumulative distance and a
// smoothed pace. Safe for concurrent use: the location source pushes
// samples in while the engine reads the published values each tick.
type PaceTracker struct {
	logger        *log.Logger
	accuracyLimit float64

	mu       sync.Mutex
	last     *location.Sample
	distance float64
	window   []float64
	accepted int
	rejected int
}

// NewPaceTracker creates a tracker. accuracyLimit <= 0 selects the
// default limit.
func NewPaceTracker(accuracyLimit float64, logger *log.Logger) *PaceTracker {
	if logger == nil {
		panic("PaceTracker: logger cannot be nil")
	}
	if accuracyLimit <= 0 {
		accuracyLimit = DefaultAccuracyLimitMeters
	}
	return &PaceTracker{
		logger:        logger,
		accuracyLimit: accuracyLimit,
	}
}

// Ingest feeds one position fix into the tracker. Fixes with a negative
// or too-large accuracy are rejected without touching any state. The
// first accepted fix only seeds the baseline; distance accrues from the
// second onward.
func (pt *PaceTracker) Ingest(s location.Sample) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if s.AccuracyMeters < 0 || s.AccuracyMeters >= pt.accuracyLimit {
		pt.rejected++
		if pt.rejected%10 == 1 {
			pt.logger.Printf("PaceTracker: rejecting low quality fixes (accuracy %.1f m, limit %.1f m, %d rejected)",
				s.AccuracyMeters, pt.accuracyLimit, pt.rejected)
		}
		return
	}

	if pt.last == nil {
		sample := s
		pt.last = &sample
		pt.accepted++
		return
	}

	prev := *pt.last
	sample := s
	pt.last = &sample
	pt.accepted++

	meters := geo.HaversineMeters(prev.Latitude, prev.Longitude, s.Latitude, s.Longitude)
	seconds := s.Time.Sub(prev.Time).Seconds()

	pt.distance += meters

	// Pace is undefined while standing still or when timestamps ran
	// backwards, so those hops contribute distance only.
	if meters <= 0 || seconds <= 0 {
		return
	}

	pace := seconds / meters
	pt.window = append(pt.window, pace)
	if len(pt.window) > paceWindowSize {
		pt.window = pt.window[1:]
	}
}

// DistanceMeters returns the cumulative distance across accepted fixes.
func (pt *PaceTracker) DistanceMeters() float64 {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.distance
}

// CurrentPace returns the smoothed pace in seconds per meter, or nil
// until at least one moving hop has been observed.
func (pt *PaceTracker) CurrentPace() *float64 {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if len(pt.window) == 0 {
		return nil
	}
	var sum float64
	for _, p := range pt.window {
		sum += p
	}
	pace := sum / float64(len(pt.window))
	return &pace
}

// AcceptedSamples returns how many fixes passed the accuracy gate.
func (pt *PaceTracker) AcceptedSamples() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.accepted
}

// LatestSample returns a copy of the most recent accepted fix, or nil.
func (pt *PaceTracker) LatestSample() *location.Sample {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if pt.last == nil {
		return nil
	}
	sample := *pt.last
	return &sample
}

// Reset clears all movement state. Called at session start and after a
// session ends so stale fixes never leak across sessions.
func (pt *PaceTracker) Reset() {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.last = nil
	pt.distance = 0
	pt.window = nil
	pt.accepted = 0
	pt.rejected = 0
}
