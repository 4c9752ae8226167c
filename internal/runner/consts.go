package runner

import (
	"fmt"
	"time"
)

// UIMode identifies which screen the terminal UI is showing.
type UIMode int

const (
	UIModeLocationSource UIMode = iota
	UIModeWorkoutSelection
	UIModeRunDashboard
)

// uiModeKeys maps number keys to UI modes.
var uiModeKeys = map[rune]UIMode{
	'1': UIModeLocationSource,
	'2': UIModeWorkoutSelection,
	'3': UIModeRunDashboard,
}

// GetUIModeByKey returns the UI mode bound to a number key.
func GetUIModeByKey(key rune) (UIMode, bool) {
	mode, ok := uiModeKeys[key]
	return mode, ok
}

// String returns the mode name shown in the UI header.
func (m UIMode) String() string {
	switch m {
	case UIModeLocationSource:
		return "Location Source"
	case UIModeWorkoutSelection:
		return "Workout Selection"
	case UIModeRunDashboard:
		return "Run Dashboard"
	default:
		return "Unknown"
	}
}

// PhaseKind is the type of a workout phase.
type PhaseKind int

const (
	PhaseWarmUp PhaseKind = iota
	PhaseRunning
	PhaseWalking
	PhaseCoolDown
)

// String returns the display name of the phase kind.
func (k PhaseKind) String() string {
	switch k {
	case PhaseWarmUp:
		return "Warm Up"
	case PhaseRunning:
		return "Run"
	case PhaseWalking:
		return "Walk"
	case PhaseCoolDown:
		return "Cool Down"
	default:
		return "Unknown"
	}
}

// Phase is one entry in a session's phase plan. Interval is the 0-based
// run/walk interval this phase belongs to, or -1 for warm up and cool down.
type Phase struct {
	Kind     PhaseKind
	Duration time.Duration
	Interval int
}

// WorkoutTemplate describes an interval workout the way a runner writes
// one down: durations in minutes, a repeat count, optional warm up and
// cool down.
type WorkoutTemplate struct {
	Name            string
	WarmUpMinutes   float64
	RunMinutes      float64
	WalkMinutes     float64
	Intervals       int
	CoolDownMinutes float64
}

// Validate reports whether the template can produce a runnable session.
func (t WorkoutTemplate) Validate() error {
	if t.Intervals < 1 {
		return fmt.Errorf("template %q: interval count must be at least 1, got %d", t.Name, t.Intervals)
	}
	if t.WarmUpMinutes < 0 || t.RunMinutes < 0 || t.WalkMinutes < 0 || t.CoolDownMinutes < 0 {
		return fmt.Errorf("template %q: negative phase duration", t.Name)
	}
	if t.WarmUpMinutes == 0 && t.CoolDownMinutes == 0 && t.RunMinutes == 0 && t.WalkMinutes == 0 {
		return fmt.Errorf("template %q: all phase durations are zero", t.Name)
	}
	return nil
}

// minutesToDuration converts template minutes to a phase duration. This
// is the only place minutes become seconds; everything downstream works
// in time.Duration.
func minutesToDuration(minutes float64) time.Duration {
	return time.Duration(minutes * float64(time.Minute))
}

// PhasePlan expands the template into the ordered phase list for one
// session: optional warm up, Intervals times (run, walk), optional cool
// down. Zero-length warm up and cool down are omitted entirely.
func (t WorkoutTemplate) PhasePlan() []Phase {
	plan := make([]Phase, 0, 2+2*t.Intervals)

	if t.WarmUpMinutes > 0 {
		plan = append(plan, Phase{Kind: PhaseWarmUp, Duration: minutesToDuration(t.WarmUpMinutes), Interval: -1})
	}
	for i := 0; i < t.Intervals; i++ {
		plan = append(plan, Phase{Kind: PhaseRunning, Duration: minutesToDuration(t.RunMinutes), Interval: i})
		plan = append(plan, Phase{Kind: PhaseWalking, Duration: minutesToDuration(t.WalkMinutes), Interval: i})
	}
	if t.CoolDownMinutes > 0 {
		plan = append(plan, Phase{Kind: PhaseCoolDown, Duration: minutesToDuration(t.CoolDownMinutes), Interval: -1})
	}
	return plan
}

// TotalDuration is the configured length of the whole session.
func (t WorkoutTemplate) TotalDuration() time.Duration {
	var total time.Duration
	for _, p := range t.PhasePlan() {
		total += p.Duration
	}
	return total
}

// SessionStatus is the lifecycle state of a workout session.
type SessionStatus int

const (
	StatusIdle SessionStatus = iota
	StatusPreparing
	StatusActive
	StatusPaused
	StatusCompleted
	StatusAborted
)

// String returns the display name of the status.
func (s SessionStatus) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusPreparing:
		return "Preparing"
	case StatusActive:
		return "Active"
	case StatusPaused:
		return "Paused"
	case StatusCompleted:
		return "Completed"
	case StatusAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// SessionSnapshot is the full observable state of the engine at one
// instant. The engine publishes a fresh copy on every change; consumers
// never share memory with the engine.
type SessionSnapshot struct {
	SessionID string
	Name      string
	Status    SessionStatus
	StartedAt time.Time

	// CountdownValue is the pre-start countdown (10..0) while Preparing,
	// -1 otherwise.
	CountdownValue int

	PhaseKind           PhaseKind
	PhaseIndex          int // index into Plan, -1 before the first phase
	IntervalIndex       int // 0-based run/walk interval, -1 outside intervals
	PhaseElapsed        time.Duration
	PhaseRemaining      time.Duration
	PhaseStartedAt      time.Time
	SessionElapsed      time.Duration
	DistanceMeters      float64
	PhaseDistanceMeters float64
	// PaceSecPerMeter is the smoothed pace in seconds per meter, nil until
	// enough movement has been observed.
	PaceSecPerMeter *float64
	RunsRemaining   int
	WalksRemaining  int
	Paused          bool
	Active          bool

	Plan []Phase
}

// Clone returns a deep copy: the pace pointer and phase plan are
// duplicated so consumers can hold snapshots without sharing memory.
func (s SessionSnapshot) Clone() SessionSnapshot {
	out := s
	if s.PaceSecPerMeter != nil {
		pace := *s.PaceSecPerMeter
		out.PaceSecPerMeter = &pace
	}
	if s.Plan != nil {
		out.Plan = make([]Phase, len(s.Plan))
		copy(out.Plan, s.Plan)
	}
	return out
}

// SessionSummary is the persisted record of a completed session. Aborted
// sessions never produce one.
type SessionSummary struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        time.Time     `json:"ended_at"`
	TotalDuration  time.Duration `json:"total_duration"`
	DistanceMeters float64       `json:"distance_meters"`
	// AveragePace is seconds per meter over the whole session, nil when no
	// distance was covered.
	AveragePace *float64 `json:"average_pace_sec_per_meter,omitempty"`
}

// AllTemplates are the built-in workout presets, ordered easy to hard.
// Config file templates are appended after these.
var AllTemplates = []WorkoutTemplate{
	{Name: "Starter 1:1 x8", WarmUpMinutes: 5, RunMinutes: 1, WalkMinutes: 1, Intervals: 8, CoolDownMinutes: 5},
	{Name: "Builder 2:1 x6", WarmUpMinutes: 5, RunMinutes: 2, WalkMinutes: 1, Intervals: 6, CoolDownMinutes: 5},
	{Name: "Steady 3:1 x5", WarmUpMinutes: 5, RunMinutes: 3, WalkMinutes: 1, Intervals: 5, CoolDownMinutes: 5},
	{Name: "Endurance 5:2 x4", WarmUpMinutes: 5, RunMinutes: 5, WalkMinutes: 2, Intervals: 4, CoolDownMinutes: 5},
	{Name: "Tempo 8:3 x3", WarmUpMinutes: 8, RunMinutes: 8, WalkMinutes: 3, Intervals: 3, CoolDownMinutes: 5},
	{Name: "Quick 1:2 x5", WarmUpMinutes: 0, RunMinutes: 1, WalkMinutes: 2, Intervals: 5, CoolDownMinutes: 0},
}
