package runner

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Speed7701/RFR/internal/ble"
	"github.com/Speed7701/RFR/internal/speech"
)

// stubPodManager satisfies ble.ManagerInterface for tests that never
// touch a radio.
type stubPodManager struct{}

func (stubPodManager) Enable() error                { return nil }
func (stubPodManager) StartScan([]string)           {}
func (stubPodManager) StopScan()                    {}
func (stubPodManager) IsScanning() bool             { return false }
func (stubPodManager) Connect(ble.Device) error     { return nil }
func (stubPodManager) Disconnect(ble.Device) error  { return nil }
func (stubPodManager) ScanDevices() []ble.Device    { return nil }
func (stubPodManager) ConnectedDevices() []ble.Device {
	return nil
}
func (stubPodManager) SubscribeDeviceList(chan<- []ble.Device) func() { return func() {} }
func (stubPodManager) SubscribeConnectedDevices(chan<- []ble.Device) func() {
	return func() {}
}
func (stubPodManager) Shutdown() {}

// recordingSynth captures everything the engine says.
type recordingSynth struct {
	mu    sync.Mutex
	texts []string
}

func (s *recordingSynth) Speak(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	return nil
}

func (s *recordingSynth) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func (s *recordingSynth) spokenContaining(substr string) int {
	count := 0
	for _, text := range s.spoken() {
		if strings.Contains(text, substr) {
			count++
		}
	}
	return count
}

// memoryStore keeps summaries in a slice, optionally failing every save.
type memoryStore struct {
	mu       sync.Mutex
	saved    []SessionSummary
	failWith error
}

func (m *memoryStore) SaveSummary(summary SessionSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.saved = append(m.saved, summary)
	return nil
}

func (m *memoryStore) all() []SessionSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SessionSummary(nil), m.saved...)
}

// fakeSource counts lifecycle calls.
type fakeSource struct {
	mu       sync.Mutex
	starts   int
	stops    int
	startErr error
}

func (f *fakeSource) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeSource) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeSource) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

type engineFixture struct {
	engine  *WorkoutEngine
	model   *SessionModel
	tracker *PaceTracker
	cue     *speech.Cue
	synth   *recordingSynth
	store   *memoryStore
	source  *fakeSource
}

// newEngineFixture wires an engine whose logical seconds pass in a couple
// of milliseconds of real time.
func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	logger := log.New(io.Discard, "", 0)

	model := NewSessionModel(stubPodManager{}, t.TempDir(), logger, make(chan string))
	tracker := NewPaceTracker(50, logger)
	synth := &recordingSynth{}
	cue := speech.NewCue(synth, logger)
	store := &memoryStore{}
	source := &fakeSource{}

	engine := NewWorkoutEngine(NewWorkoutEngineArgs{
		Model:   model,
		Tracker: tracker,
		Cue:     cue,
		Store:   store,
		Source:  source,
		Logger:  logger,
	})
	engine.tickInterval = 2 * time.Millisecond

	t.Cleanup(func() {
		engine.Shutdown()
		cue.Shutdown()
		model.Shutdown()
	})

	return &engineFixture{
		engine:  engine,
		model:   model,
		tracker: tracker,
		cue:     cue,
		synth:   synth,
		store:   store,
		source:  source,
	}
}

// secondsTemplate expresses phase lengths in seconds; templates carry
// minutes.
func secondsTemplate(warm, run, walk float64, intervals int, cool float64) WorkoutTemplate {
	return WorkoutTemplate{
		Name:            "test template",
		WarmUpMinutes:   warm / 60,
		RunMinutes:      run / 60,
		WalkMinutes:     walk / 60,
		Intervals:       intervals,
		CoolDownMinutes: cool / 60,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func waitForStatus(t *testing.T, e *WorkoutEngine, status SessionStatus) {
	t.Helper()
	waitFor(t, func() bool { return e.Status() == status }, "engine never reached "+status.String())
}

// collectUntil receives telemetry until pred matches, returning everything
// received including the matching snapshot. Publishes happen in order, so
// waiting for a terminal snapshot also waits for the side effects that
// precede it.
func collectUntil(t *testing.T, ch <-chan SessionSnapshot, pred func(SessionSnapshot) bool) []SessionSnapshot {
	t.Helper()
	var snaps []SessionSnapshot
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-ch:
			snaps = append(snaps, s)
			if pred(s) {
				return snaps
			}
		case <-deadline:
			t.Fatalf("timed out after %d snapshots", len(snaps))
			return nil
		}
	}
}

func untilStatus(status SessionStatus) func(SessionSnapshot) bool {
	return func(s SessionSnapshot) bool { return s.Status == status }
}

// phaseSequence reduces snapshots to the ordered list of phases entered.
func phaseSequence(snaps []SessionSnapshot) []PhaseKind {
	var seq []PhaseKind
	lastIdx := -2
	for _, s := range snaps {
		if s.Status != StatusActive || s.PhaseIndex == lastIdx {
			continue
		}
		lastIdx = s.PhaseIndex
		seq = append(seq, s.PhaseKind)
	}
	return seq
}

func receiveSummary(t *testing.T, ch <-chan SessionSummary) SessionSummary {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("no summary published")
		return SessionSummary{}
	}
}

func TestWorkoutEngine_StartsIdle(t *testing.T) {
	f := newEngineFixture(t)

	snap := f.engine.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Equal(t, -1, snap.PhaseIndex)
	assert.Equal(t, -1, snap.CountdownValue)
	assert.False(t, snap.Active)
}

func TestWorkoutEngine_RunsFullSession(t *testing.T) {
	f := newEngineFixture(t)

	telemetryCh := make(chan SessionSnapshot, 4096)
	defer f.model.ListenToTelemetry(telemetryCh)()

	require.NoError(t, f.engine.Start(secondsTemplate(2, 2, 2, 2, 2)))
	snaps := collectUntil(t, telemetryCh, untilStatus(StatusCompleted))

	assert.Equal(t, []PhaseKind{
		PhaseWarmUp,
		PhaseRunning, PhaseWalking,
		PhaseRunning, PhaseWalking,
		PhaseCoolDown,
	}, phaseSequence(snaps))

	// Within a phase, elapsed and remaining add up to the configured
	// duration on every published snapshot.
	for _, s := range snaps {
		if s.Status != StatusActive {
			continue
		}
		phase := s.Plan[s.PhaseIndex]
		assert.Equal(t, phase.Duration, s.PhaseElapsed+s.PhaseRemaining)
	}

	// Countdown runs 10 down to 0 before the first phase.
	var countdown []int
	for _, s := range snaps {
		if s.Status == StatusPreparing {
			countdown = append(countdown, s.CountdownValue)
		}
	}
	require.NotEmpty(t, countdown)
	assert.Equal(t, 10, countdown[0])
	assert.Equal(t, 0, countdown[len(countdown)-1])
	for i := 1; i < len(countdown); i++ {
		assert.Equal(t, countdown[i-1]-1, countdown[i])
	}

	saved := f.store.all()
	require.Len(t, saved, 1)
	assert.Len(t, saved[0].ID, 36)
	assert.Equal(t, "test template", saved[0].Name)
	assert.InDelta(t, 12.0, saved[0].TotalDuration.Seconds(), 0.01)
	require.NotNil(t, f.model.GetLastSummary())

	starts, stops := f.source.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
}

func TestWorkoutEngine_SessionTimeIsConfiguredTime(t *testing.T) {
	f := newEngineFixture(t)

	summaryCh := make(chan SessionSummary, 4)
	defer f.model.ListenToSummary(summaryCh)()

	// Two one-minute run/walk intervals: four configured minutes that pass
	// in well under a second of real time.
	start := time.Now()
	require.NoError(t, f.engine.Start(secondsTemplate(0, 60, 60, 2, 0)))
	summary := receiveSummary(t, summaryCh)

	assert.Equal(t, 4*time.Minute, summary.TotalDuration)
	assert.Less(t, time.Since(start), 30*time.Second)
	assert.False(t, summary.EndedAt.Before(summary.StartedAt))
}

func TestWorkoutEngine_SkipsZeroLengthWarmUpAndCoolDown(t *testing.T) {
	f := newEngineFixture(t)

	telemetryCh := make(chan SessionSnapshot, 4096)
	defer f.model.ListenToTelemetry(telemetryCh)()

	require.NoError(t, f.engine.Start(secondsTemplate(0, 2, 2, 1, 0)))
	snaps := collectUntil(t, telemetryCh, untilStatus(StatusCompleted))

	assert.Equal(t, []PhaseKind{PhaseRunning, PhaseWalking}, phaseSequence(snaps))
}

func TestWorkoutEngine_IntervalCountersMoveOnWalkCompletion(t *testing.T) {
	f := newEngineFixture(t)

	telemetryCh := make(chan SessionSnapshot, 4096)
	defer f.model.ListenToTelemetry(telemetryCh)()

	require.NoError(t, f.engine.Start(secondsTemplate(0, 2, 2, 2, 0)))
	snaps := collectUntil(t, telemetryCh, untilStatus(StatusCompleted))

	for i, s := range snaps {
		// One run and one walk make one interval, so the counters move in
		// lockstep.
		assert.Equal(t, s.RunsRemaining, s.WalksRemaining, "snapshot %d", i)

		// A counter change means the previous snapshot sat in a walking
		// phase that just finished.
		if i > 0 && s.RunsRemaining != snaps[i-1].RunsRemaining {
			assert.Equal(t, snaps[i-1].RunsRemaining-1, s.RunsRemaining)
			assert.Equal(t, PhaseWalking, snaps[i-1].PhaseKind)
		}
	}

	final := snaps[len(snaps)-1]
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 0, final.RunsRemaining)
	assert.Equal(t, 0, final.WalksRemaining)
}

func TestWorkoutEngine_TenSecondWarningOncePerPhase(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.engine.Start(secondsTemplate(0, 12, 12, 1, 0)))
	waitForStatus(t, f.engine, StatusCompleted)

	waitFor(t, func() bool {
		return f.synth.spokenContaining("Workout complete") == 1
	}, "completion announcement never spoken")

	assert.Equal(t, 2, f.synth.spokenContaining("seconds remaining"),
		"one warning per twelve-second phase")
	assert.Equal(t, 2, f.synth.spokenContaining("10 seconds remaining"))
	assert.Equal(t, 1, f.synth.spokenContaining("Walking is next."))
}

func TestWorkoutEngine_ShortPhasesGetNoWarning(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.engine.Start(secondsTemplate(0, 2, 2, 2, 0)))
	waitForStatus(t, f.engine, StatusCompleted)

	assert.Zero(t, f.synth.spokenContaining("seconds remaining"))
}

func TestWorkoutEngine_AnnouncesPhases(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.engine.Start(secondsTemplate(2, 2, 2, 2, 2)))
	waitForStatus(t, f.engine, StatusCompleted)

	waitFor(t, func() bool {
		return f.synth.spokenContaining("Workout complete") == 1
	}, "completion announcement never spoken")

	assert.Equal(t, 1, f.synth.spokenContaining("Warm up for 2 seconds."))
	assert.Equal(t, 1, f.synth.spokenContaining("Run for 2 seconds. Interval 1 of 2."))
	assert.Equal(t, 1, f.synth.spokenContaining("Run for 2 seconds. Interval 2 of 2."))
	assert.Equal(t, 2, f.synth.spokenContaining("Walk for 2 seconds."))
	assert.Equal(t, 1, f.synth.spokenContaining("Cool down for 2 seconds."))
}

func TestWorkoutEngine_PauseFreezesPhase(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.engine.Start(secondsTemplate(0, 12, 12, 1, 0)))
	waitForStatus(t, f.engine, StatusActive)

	f.engine.Pause()
	waitForStatus(t, f.engine, StatusPaused)

	before := f.engine.Snapshot()
	time.Sleep(30 * time.Millisecond)
	after := f.engine.Snapshot()

	assert.Equal(t, StatusPaused, after.Status)
	assert.True(t, after.Paused)
	assert.Equal(t, before.PhaseElapsed, after.PhaseElapsed)
	assert.Equal(t, before.PhaseRemaining, after.PhaseRemaining)
}

func TestWorkoutEngine_ResumeContinuesToCompletion(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.engine.Start(secondsTemplate(0, 12, 12, 1, 0)))
	waitForStatus(t, f.engine, StatusActive)

	f.engine.Pause()
	waitForStatus(t, f.engine, StatusPaused)

	f.engine.Resume()
	waitForStatus(t, f.engine, StatusActive)

	snap := f.engine.Snapshot()
	assert.LessOrEqual(t, snap.PhaseRemaining, 12*time.Second)
	assert.Greater(t, snap.PhaseRemaining, 10*time.Second,
		"a brief pause must not eat a large share of the phase")

	waitForStatus(t, f.engine, StatusCompleted)
}

func TestWorkoutEngine_ResumeAfterPhaseExpiredCompletesImmediately(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.engine.Start(secondsTemplate(0, 12, 12, 1, 0)))
	waitForStatus(t, f.engine, StatusActive)

	f.engine.Pause()
	waitForStatus(t, f.engine, StatusPaused)

	// Backdate the phase so the whole of it elapsed during the pause.
	f.engine.mu.Lock()
	f.engine.telemetry.PhaseStartedAt = time.Now().Add(-time.Minute)
	f.engine.mu.Unlock()

	f.engine.Resume()

	waitFor(t, func() bool {
		snap := f.engine.Snapshot()
		return snap.Status == StatusActive && snap.PhaseKind == PhaseWalking
	}, "expired running phase should complete on resume")

	waitForStatus(t, f.engine, StatusCompleted)
}

func TestWorkoutEngine_StopAbortsWithoutSummary(t *testing.T) {
	f := newEngineFixture(t)

	telemetryCh := make(chan SessionSnapshot, 4096)
	defer f.model.ListenToTelemetry(telemetryCh)()

	require.NoError(t, f.engine.Start(secondsTemplate(0, 12, 12, 1, 0)))
	waitForStatus(t, f.engine, StatusActive)

	f.tracker.Ingest(sampleAt(0, time.Now(), 5))
	require.Equal(t, 1, f.tracker.AcceptedSamples())

	f.engine.Stop()
	collectUntil(t, telemetryCh, untilStatus(StatusAborted))

	assert.Empty(t, f.store.all())
	assert.Nil(t, f.model.GetLastSummary())
	assert.Zero(t, f.tracker.AcceptedSamples(), "abort must reset the tracker")

	_, stops := f.source.counts()
	assert.Equal(t, 1, stops)
}

func TestWorkoutEngine_StopDuringCountdown(t *testing.T) {
	f := newEngineFixture(t)

	telemetryCh := make(chan SessionSnapshot, 4096)
	defer f.model.ListenToTelemetry(telemetryCh)()

	require.NoError(t, f.engine.Start(secondsTemplate(0, 60, 60, 3, 0)))
	waitForStatus(t, f.engine, StatusPreparing)

	f.engine.Stop()
	snaps := collectUntil(t, telemetryCh, untilStatus(StatusAborted))

	for _, s := range snaps {
		assert.NotEqual(t, StatusActive, s.Status, "no phase may start after an aborted countdown")
	}
	assert.Empty(t, f.store.all())
}

func TestWorkoutEngine_StartWhileRunningFails(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.engine.Start(secondsTemplate(0, 12, 12, 1, 0)))
	waitForStatus(t, f.engine, StatusActive)

	err := f.engine.Start(secondsTemplate(0, 2, 2, 1, 0))
	assert.ErrorIs(t, err, ErrSessionActive)
}

func TestWorkoutEngine_StartRejectsInvalidTemplates(t *testing.T) {
	f := newEngineFixture(t)

	assert.Error(t, f.engine.Start(WorkoutTemplate{Name: "no intervals", RunMinutes: 1}))
	assert.Error(t, f.engine.Start(WorkoutTemplate{Name: "negative", RunMinutes: -1, WalkMinutes: 1, Intervals: 3}))
	assert.Error(t, f.engine.Start(WorkoutTemplate{Name: "all zero", Intervals: 3}))
	assert.Equal(t, StatusIdle, f.engine.Status())

	// A rejected template must not poison the engine.
	require.NoError(t, f.engine.Start(secondsTemplate(0, 2, 2, 1, 0)))
	waitForStatus(t, f.engine, StatusCompleted)
}

func TestWorkoutEngine_ControlsWithoutSessionAreNoOps(t *testing.T) {
	f := newEngineFixture(t)

	f.engine.Pause()
	f.engine.Resume()
	f.engine.Stop()
	assert.Equal(t, StatusIdle, f.engine.Status())

	require.NoError(t, f.engine.Start(secondsTemplate(0, 2, 2, 1, 0)))
	waitForStatus(t, f.engine, StatusCompleted)

	// Resume with nothing paused stays a no-op after a session too.
	f.engine.Resume()
	assert.Equal(t, StatusCompleted, f.engine.Status())
}

func TestWorkoutEngine_RestartsAfterCompletion(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.engine.Start(secondsTemplate(0, 2, 2, 1, 0)))
	waitFor(t, func() bool { return len(f.store.all()) == 1 }, "first session never saved")

	require.NoError(t, f.engine.Start(secondsTemplate(0, 2, 2, 1, 0)))
	waitFor(t, func() bool { return len(f.store.all()) == 2 }, "second session never saved")

	saved := f.store.all()
	require.Len(t, saved, 2)
	assert.NotEqual(t, saved[0].ID, saved[1].ID)
}

func TestWorkoutEngine_TelemetryCarriesDistanceAndPace(t *testing.T) {
	f := newEngineFixture(t)

	summaryCh := make(chan SessionSummary, 4)
	defer f.model.ListenToSummary(summaryCh)()

	require.NoError(t, f.engine.Start(secondsTemplate(0, 12, 12, 1, 0)))
	waitForStatus(t, f.engine, StatusActive)

	// Five meters per second at one-second strides: a 0.2 s/m pace.
	base := time.Now()
	for i := 0; i <= 5; i++ {
		f.tracker.Ingest(sampleAt(float64(i*5), base.Add(time.Duration(i)*time.Second), 5))
	}

	waitFor(t, func() bool {
		snap := f.engine.Snapshot()
		return snap.DistanceMeters > 20 && snap.PaceSecPerMeter != nil
	}, "telemetry never picked up the tracker's distance")

	snap := f.engine.Snapshot()
	require.NotNil(t, snap.PaceSecPerMeter)
	assert.InDelta(t, 0.2, *snap.PaceSecPerMeter, 0.02)

	summary := receiveSummary(t, summaryCh)
	assert.InDelta(t, 25.0, summary.DistanceMeters, 1.0)
	require.NotNil(t, summary.AveragePace)
	assert.InDelta(t, summary.TotalDuration.Seconds()/summary.DistanceMeters, *summary.AveragePace, 0.0001)
}

func TestWorkoutEngine_NoMovementMeansNoAveragePace(t *testing.T) {
	f := newEngineFixture(t)

	summaryCh := make(chan SessionSummary, 4)
	defer f.model.ListenToSummary(summaryCh)()

	require.NoError(t, f.engine.Start(secondsTemplate(0, 2, 2, 1, 0)))
	summary := receiveSummary(t, summaryCh)

	assert.Zero(t, summary.DistanceMeters)
	assert.Nil(t, summary.AveragePace)
}

func TestWorkoutEngine_SaveFailurePublishesNotice(t *testing.T) {
	f := newEngineFixture(t)
	f.store.failWith = errors.New("disk full")

	noticeCh := make(chan string, 4)
	defer f.model.ListenToNotices(noticeCh)()

	require.NoError(t, f.engine.Start(secondsTemplate(0, 2, 2, 1, 0)))
	waitForStatus(t, f.engine, StatusCompleted)

	select {
	case notice := <-noticeCh:
		assert.Contains(t, notice, "could not be saved")
	case <-time.After(5 * time.Second):
		t.Fatal("no notice published for the failed save")
	}

	// The session still completes and the summary still reaches the model.
	waitFor(t, func() bool { return f.model.GetLastSummary() != nil }, "summary never reached the model")
}

func TestWorkoutEngine_RunsWithoutLocationSource(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	model := NewSessionModel(stubPodManager{}, t.TempDir(), logger, make(chan string))
	tracker := NewPaceTracker(50, logger)
	cue := speech.NewCue(&recordingSynth{}, logger)
	store := &memoryStore{}

	engine := NewWorkoutEngine(NewWorkoutEngineArgs{
		Model:   model,
		Tracker: tracker,
		Cue:     cue,
		Store:   store,
		Logger:  logger,
	})
	engine.tickInterval = 2 * time.Millisecond
	t.Cleanup(func() {
		engine.Shutdown()
		cue.Shutdown()
		model.Shutdown()
	})

	require.NoError(t, engine.Start(secondsTemplate(0, 2, 2, 1, 0)))
	waitForStatus(t, engine, StatusCompleted)
	waitFor(t, func() bool { return len(store.all()) == 1 }, "session never saved")
}

func TestWorkoutEngine_SourceFailureDoesNotBlockSession(t *testing.T) {
	f := newEngineFixture(t)
	f.source.startErr = errors.New("pod out of range")

	require.NoError(t, f.engine.Start(secondsTemplate(0, 2, 2, 1, 0)))
	waitForStatus(t, f.engine, StatusCompleted)

	waitFor(t, func() bool { return len(f.store.all()) == 1 }, "session never saved")
}

func TestWorkoutEngine_ShutdownIsIdempotent(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.engine.Start(secondsTemplate(0, 60, 60, 2, 0)))
	waitForStatus(t, f.engine, StatusActive)

	f.engine.Shutdown()
	f.engine.Shutdown()
}
