package runner

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Speed7701/RFR/internal/async"
	"github.com/Speed7701/RFR/internal/speech"
)

// ErrSessionActive is returned by Start while another session is in
// progress.
var ErrSessionActive = errors.New("a session is already in progress")

// prepCountdownSeconds is the get-ready countdown before the first phase.
const prepCountdownSeconds = 10

// tenSecondWarning is how far before a phase boundary the voice warning
// fires.
const tenSecondWarning = 10 * time.Second

// LocationSource is the engine's view of a position provider. Start is
// called when a session begins, Stop when it completes or aborts.
type LocationSource interface {
	Start() error
	Stop()
}

// workoutCommand represents commands sent to the engine goroutine.
type workoutCommand int

const (
	cmdStart workoutCommand = iota
	cmdPause
	cmdResume
	cmdStop
)

type commandRequest struct {
	cmd      workoutCommand
	template WorkoutTemplate
}

// WorkoutEngine executes interval workout sessions: the prep countdown,
// the phase plan, pause/resume, voice cues and the final summary. All
// session state changes happen on one goroutine; public methods validate
// under a read lock and hand the work over via the command channel.
type WorkoutEngine struct {
	model   *SessionModel
	tracker *PaceTracker
	cue     *speech.Cue
	store   SummaryStore
	source  LocationSource // may be nil: distance and pace stay empty
	logger  *log.Logger

	// tickInterval is the real time per logical second. Tests shrink it.
	tickInterval time.Duration

	mu                  sync.RWMutex
	telemetry           SessionSnapshot
	template            WorkoutTemplate
	warned              bool // ten-second warning latch, reset on phase entry
	completedPhaseTime  time.Duration
	phaseBaselineMeters float64

	cmdChan      chan commandRequest
	doneChan     chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewWorkoutEngineArgs carries the engine's collaborators.
type NewWorkoutEngineArgs struct {
	Model   *SessionModel
	Tracker *PaceTracker
	Cue     *speech.Cue
	Store   SummaryStore
	Source  LocationSource // optional
	Logger  *log.Logger
}

// NewWorkoutEngine creates the engine and starts its session goroutine.
func NewWorkoutEngine(arg NewWorkoutEngineArgs) *WorkoutEngine {
	if arg.Model == nil {
		panic("WorkoutEngine: model cannot be nil")
	}
	if arg.Tracker == nil {
		panic("WorkoutEngine: tracker cannot be nil")
	}
	if arg.Cue == nil {
		panic("WorkoutEngine: cue cannot be nil")
	}
	if arg.Store == nil {
		panic("WorkoutEngine: store cannot be nil")
	}
	if arg.Logger == nil {
		panic("WorkoutEngine: logger cannot be nil")
	}

	e := &WorkoutEngine{
		model:        arg.Model,
		tracker:      arg.Tracker,
		cue:          arg.Cue,
		store:        arg.Store,
		source:       arg.Source,
		logger:       arg.Logger,
		tickInterval: time.Second,
		telemetry: SessionSnapshot{
			Status:         StatusIdle,
			PhaseIndex:     -1,
			IntervalIndex:  -1,
			CountdownValue: -1,
		},
		cmdChan:  make(chan commandRequest, 1),
		doneChan: make(chan struct{}),
	}

	e.wg.Add(1)
	async.Go(arg.Logger, func() { e.runLoop() })

	return e
}

// Start validates the template and begins a new session: a ten second
// countdown, then the phase plan. Fails when the template cannot produce
// a session or one is already in progress.
func (e *WorkoutEngine) Start(template WorkoutTemplate) error {
	if err := template.Validate(); err != nil {
		e.logger.Printf("WorkoutEngine: refusing to start: %v", err)
		return err
	}

	e.mu.RLock()
	status := e.telemetry.Status
	e.mu.RUnlock()

	if status == StatusPreparing || status == StatusActive || status == StatusPaused {
		e.logger.Printf("WorkoutEngine: cannot start, session is %s", status)
		return ErrSessionActive
	}

	e.logger.Printf("WorkoutEngine: starting workout %q", template.Name)
	e.cmdChan <- commandRequest{cmd: cmdStart, template: template}
	return nil
}

// Pause freezes the current phase. Without an active session this logs
// and does nothing.
func (e *WorkoutEngine) Pause() {
	e.mu.RLock()
	status := e.telemetry.Status
	e.mu.RUnlock()

	if status != StatusActive {
		e.logger.Printf("WorkoutEngine: cannot pause, no active session")
		return
	}
	e.cmdChan <- commandRequest{cmd: cmdPause}
}

// Resume continues a paused session. Wall time spent paused counts
// against the phase; a phase that ran out while paused completes
// immediately on resume.
func (e *WorkoutEngine) Resume() {
	e.mu.RLock()
	status := e.telemetry.Status
	e.mu.RUnlock()

	if status != StatusPaused {
		e.logger.Printf("WorkoutEngine: cannot resume, session is not paused")
		return
	}
	e.cmdChan <- commandRequest{cmd: cmdResume}
}

// Stop aborts the session in progress. No summary is recorded. Without a
// session this logs and does nothing.
func (e *WorkoutEngine) Stop() {
	e.mu.RLock()
	status := e.telemetry.Status
	e.mu.RUnlock()

	if status != StatusPreparing && status != StatusActive && status != StatusPaused {
		e.logger.Printf("WorkoutEngine: no session to stop")
		return
	}
	e.cmdChan <- commandRequest{cmd: cmdStop}
}

// Status returns the current session status.
func (e *WorkoutEngine) Status() SessionStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.telemetry.Status
}

// Snapshot returns a copy of the current telemetry.
func (e *WorkoutEngine) Snapshot() SessionSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.telemetry.Clone()
}

// Shutdown stops the engine goroutine and waits for it.
// Safe to call multiple times - only the first call has effect.
func (e *WorkoutEngine) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.logger.Printf("WorkoutEngine: shutting down")
		close(e.doneChan)
		e.wg.Wait()
		e.logger.Printf("WorkoutEngine: shutdown complete")
	})
}

// runLoop is the engine goroutine: it owns the prep ticker and the one
// live interval clock, so no two timers can ever race.
func (e *WorkoutEngine) runLoop() {
	defer e.wg.Done()

	prepTicker := time.NewTicker(time.Second)
	prepTicker.Stop() // armed only while Preparing
	prepActive := false

	var clock *IntervalClock
	var clockC <-chan ClockTick

	stopClock := func() {
		if clock != nil {
			clock.Cancel()
			clock = nil
			clockC = nil
		}
	}
	startClock := func(d time.Duration) {
		stopClock()
		clock = NewIntervalClock(d)
		clock.interval = e.tickInterval
		clockC = clock.C()
		if err := clock.Start(); err != nil {
			e.logger.Printf("WorkoutEngine: interval clock failed to start: %v", err)
		}
	}
	stopPrep := func() {
		prepTicker.Stop()
		prepActive = false
	}

	for {
		select {
		case <-e.doneChan:
			stopClock()
			stopPrep()
			e.logger.Printf("WorkoutEngine: goroutine exiting")
			return

		case req := <-e.cmdChan:
			switch req.cmd {
			case cmdStart:
				if e.beginSession(req.template) {
					stopClock()
					prepTicker.Reset(e.tickInterval)
					prepActive = true
				}

			case cmdPause:
				if e.pauseSession() {
					stopClock()
				}

			case cmdResume:
				remaining, ok := e.resumeSession()
				if !ok {
					continue
				}
				if remaining <= 0 {
					// The phase ran out while paused: complete it now
					// instead of waiting for a tick that measures nothing.
					if next, more := e.completeCurrentPhase(); more {
						startClock(next)
					} else {
						stopClock()
					}
				} else {
					startClock(remaining)
				}

			case cmdStop:
				if e.abortSession() {
					stopClock()
					stopPrep()
				}
			}

		case <-prepTicker.C:
			if !prepActive {
				continue
			}
			if e.prepTick() {
				stopPrep()
				if d, ok := e.enterPhase(0); ok {
					startClock(d)
				}
			}

		case tick := <-clockC:
			if !e.handleClockTick(tick) {
				continue
			}
			// The tick completed the phase. The clock is spent; drop it.
			clock = nil
			clockC = nil
			if next, more := e.completeCurrentPhase(); more {
				startClock(next)
			}
		}
	}
}

// beginSession resets all per-session state and enters Preparing.
func (e *WorkoutEngine) beginSession(template WorkoutTemplate) bool {
	e.mu.Lock()
	status := e.telemetry.Status
	if status == StatusPreparing || status == StatusActive || status == StatusPaused {
		e.mu.Unlock()
		e.logger.Printf("WorkoutEngine: start ignored, session is %s", status)
		return false
	}

	e.template = template
	e.completedPhaseTime = 0
	e.phaseBaselineMeters = 0
	e.warned = false
	e.telemetry = SessionSnapshot{
		SessionID:      uuid.NewString(),
		Name:           template.Name,
		Status:         StatusPreparing,
		StartedAt:      time.Now(),
		CountdownValue: prepCountdownSeconds,
		PhaseIndex:     -1,
		IntervalIndex:  -1,
		RunsRemaining:  template.Intervals,
		WalksRemaining: template.Intervals,
		Active:         true,
		Plan:           template.PhasePlan(),
	}
	snap := e.telemetry.Clone()
	e.mu.Unlock()

	e.tracker.Reset()
	if e.source != nil {
		if err := e.source.Start(); err != nil {
			e.logger.Printf("WorkoutEngine: location source unavailable, distance and pace disabled: %v", err)
		}
	}

	e.model.SetTelemetry(snap)
	e.logger.Printf("WorkoutEngine: session %s started (%s, %d intervals, %v planned)",
		snap.SessionID, template.Name, template.Intervals, template.TotalDuration())
	return true
}

// prepTick advances the countdown. Returns true when it hits zero and
// the first phase should begin.
func (e *WorkoutEngine) prepTick() bool {
	e.mu.Lock()
	if e.telemetry.Status != StatusPreparing {
		e.mu.Unlock()
		return false
	}
	e.telemetry.CountdownValue--
	finished := e.telemetry.CountdownValue <= 0
	snap := e.telemetry.Clone()
	e.mu.Unlock()

	e.model.SetTelemetry(snap)
	return finished
}

// enterPhase moves the session into plan[idx] and announces it. Returns
// the phase duration for the new interval clock.
func (e *WorkoutEngine) enterPhase(idx int) (time.Duration, bool) {
	baseline := e.tracker.DistanceMeters()

	e.mu.Lock()
	if !e.telemetry.Active || idx < 0 || idx >= len(e.telemetry.Plan) {
		e.mu.Unlock()
		return 0, false
	}
	phase := e.telemetry.Plan[idx]

	e.telemetry.Status = StatusActive
	e.telemetry.Paused = false
	e.telemetry.CountdownValue = -1
	e.telemetry.PhaseIndex = idx
	e.telemetry.PhaseKind = phase.Kind
	e.telemetry.IntervalIndex = phase.Interval
	e.telemetry.PhaseElapsed = 0
	e.telemetry.PhaseRemaining = phase.Duration
	e.telemetry.PhaseStartedAt = time.Now()
	e.telemetry.PhaseDistanceMeters = 0
	e.warned = false
	e.phaseBaselineMeters = baseline
	intervals := e.template.Intervals
	snap := e.telemetry.Clone()
	e.mu.Unlock()

	if text := phaseAnnouncement(phase, intervals); text != "" {
		e.cue.Speak(text)
	}
	e.model.SetTelemetry(snap)
	e.logger.Printf("WorkoutEngine: phase %d of %d: %s for %v", idx+1, len(snap.Plan), phase.Kind, phase.Duration)
	return phase.Duration, true
}

// handleClockTick folds one second of phase time into the telemetry.
// Returns true when the tick completed the phase.
func (e *WorkoutEngine) handleClockTick(tick ClockTick) bool {
	distance := e.tracker.DistanceMeters()
	pace := e.tracker.CurrentPace()

	e.mu.Lock()
	if e.telemetry.Status != StatusActive || e.telemetry.Paused {
		// A tick that raced a pause or stop measures nothing.
		e.mu.Unlock()
		return false
	}

	phase := e.telemetry.Plan[e.telemetry.PhaseIndex]
	e.telemetry.PhaseElapsed = phase.Duration - tick.Remaining
	e.telemetry.PhaseRemaining = tick.Remaining
	e.telemetry.SessionElapsed = e.completedPhaseTime + e.telemetry.PhaseElapsed
	e.telemetry.DistanceMeters = distance
	e.telemetry.PhaseDistanceMeters = distance - e.phaseBaselineMeters
	e.telemetry.PaceSecPerMeter = pace

	warn := false
	if !e.warned && !tick.Completed &&
		tick.Remaining <= tenSecondWarning && tick.Remaining >= tenSecondWarning-time.Second {
		e.warned = true
		warn = true
	}
	var next *Phase
	if warn && e.telemetry.PhaseIndex+1 < len(e.telemetry.Plan) {
		n := e.telemetry.Plan[e.telemetry.PhaseIndex+1]
		next = &n
	}
	snap := e.telemetry.Clone()
	e.mu.Unlock()

	if warn {
		secondsLeft := int(tick.Remaining.Round(time.Second).Seconds())
		preview := nextPhasePreview(next)
		if preview == "" {
			e.cue.SpeakCountdown(secondsLeft, nil)
		} else {
			e.cue.SpeakCountdown(secondsLeft, func() { e.cue.Speak(preview) })
		}
	}

	e.model.SetTelemetry(snap)
	return tick.Completed
}

// completeCurrentPhase books the finished phase and either enters the
// next one (returning its duration) or finishes the session.
func (e *WorkoutEngine) completeCurrentPhase() (time.Duration, bool) {
	distance := e.tracker.DistanceMeters()
	pace := e.tracker.CurrentPace()

	e.mu.Lock()
	if !e.telemetry.Active {
		e.mu.Unlock()
		return 0, false
	}

	idx := e.telemetry.PhaseIndex
	phase := e.telemetry.Plan[idx]

	// Session time advances by the configured phase length, never by the
	// wall clock, so pauses and delayed ticks cannot distort the total.
	e.completedPhaseTime += phase.Duration
	e.telemetry.SessionElapsed = e.completedPhaseTime
	e.telemetry.PhaseElapsed = phase.Duration
	e.telemetry.PhaseRemaining = 0
	e.telemetry.DistanceMeters = distance
	e.telemetry.PhaseDistanceMeters = distance - e.phaseBaselineMeters
	e.telemetry.PaceSecPerMeter = pace

	// One run plus one walk is one interval; the counters move when the
	// walk ends.
	if phase.Kind == PhaseWalking {
		e.telemetry.RunsRemaining--
		e.telemetry.WalksRemaining--
	}

	var stats string
	if phase.Kind == PhaseRunning {
		stats = intervalStatsAnnouncement(e.telemetry.PhaseDistanceMeters, pace)
	}
	hasNext := idx+1 < len(e.telemetry.Plan)
	e.mu.Unlock()

	e.logger.Printf("WorkoutEngine: %s phase complete", phase.Kind)
	if stats != "" {
		e.cue.Speak(stats)
	}

	if hasNext {
		return e.enterPhase(idx + 1)
	}

	e.finishSession()
	return 0, false
}

// finishSession closes out a fully run plan: summary, voice announcement,
// persistence, source shutdown.
func (e *WorkoutEngine) finishSession() {
	e.mu.Lock()
	summary := SessionSummary{
		ID:             e.telemetry.SessionID,
		Name:           e.telemetry.Name,
		StartedAt:      e.telemetry.StartedAt,
		EndedAt:        time.Now(),
		TotalDuration:  e.completedPhaseTime,
		DistanceMeters: e.telemetry.DistanceMeters,
	}
	if summary.DistanceMeters > 0 {
		pace := summary.TotalDuration.Seconds() / summary.DistanceMeters
		summary.AveragePace = &pace
	}
	e.telemetry.Status = StatusCompleted
	e.telemetry.Active = false
	e.telemetry.Paused = false
	e.telemetry.CountdownValue = -1
	snap := e.telemetry.Clone()
	e.mu.Unlock()

	// Drop queued cues so the completion announcement is next in line,
	// but let whatever is mid-sentence finish.
	e.cue.ClearPending()
	e.cue.Speak(completionAnnouncement(summary))

	if e.source != nil {
		e.source.Stop()
	}
	e.tracker.Reset()

	if err := e.store.SaveSummary(summary); err != nil {
		e.logger.Printf("WorkoutEngine: failed to save session history: %v", err)
		e.model.PublishNotice("Session could not be saved to history")
	}

	e.model.SetSummary(summary)
	e.model.SetTelemetry(snap)
	e.logger.Printf("WorkoutEngine: session %s complete: %v, %.0f m",
		summary.ID, summary.TotalDuration, summary.DistanceMeters)
}

// pauseSession freezes the session. The caller cancels the clock.
func (e *WorkoutEngine) pauseSession() bool {
	e.mu.Lock()
	if e.telemetry.Status != StatusActive {
		e.mu.Unlock()
		e.logger.Printf("WorkoutEngine: pause ignored, session is not active")
		return false
	}
	e.telemetry.Status = StatusPaused
	e.telemetry.Paused = true
	snap := e.telemetry.Clone()
	e.mu.Unlock()

	e.cue.StopAll()
	e.model.SetTelemetry(snap)
	e.logger.Printf("WorkoutEngine: session paused")
	return true
}

// resumeSession recomputes what is left of the frozen phase from the
// wall clock. Time spent paused counts against the phase.
func (e *WorkoutEngine) resumeSession() (time.Duration, bool) {
	e.mu.Lock()
	if e.telemetry.Status != StatusPaused {
		e.mu.Unlock()
		e.logger.Printf("WorkoutEngine: resume ignored, session is not paused")
		return 0, false
	}

	phase := e.telemetry.Plan[e.telemetry.PhaseIndex]
	remaining := phase.Duration - time.Since(e.telemetry.PhaseStartedAt)
	if remaining < 0 {
		remaining = 0
	}

	e.telemetry.Status = StatusActive
	e.telemetry.Paused = false
	e.telemetry.PhaseRemaining = remaining
	e.telemetry.PhaseElapsed = phase.Duration - remaining
	e.telemetry.SessionElapsed = e.completedPhaseTime + e.telemetry.PhaseElapsed
	snap := e.telemetry.Clone()
	e.mu.Unlock()

	e.model.SetTelemetry(snap)
	e.logger.Printf("WorkoutEngine: session resumed, %v left in %s phase", remaining, phase.Kind)
	return remaining, true
}

// abortSession tears the session down without a summary.
func (e *WorkoutEngine) abortSession() bool {
	e.mu.Lock()
	status := e.telemetry.Status
	if status != StatusPreparing && status != StatusActive && status != StatusPaused {
		e.mu.Unlock()
		e.logger.Printf("WorkoutEngine: stop ignored, no session in progress")
		return false
	}
	e.telemetry.Status = StatusAborted
	e.telemetry.Active = false
	e.telemetry.Paused = false
	e.telemetry.CountdownValue = -1
	snap := e.telemetry.Clone()
	e.mu.Unlock()

	e.cue.StopAll()
	if e.source != nil {
		e.source.Stop()
	}
	e.tracker.Reset()

	e.model.SetTelemetry(snap)
	e.logger.Printf("WorkoutEngine: session aborted, nothing recorded")
	return true
}
