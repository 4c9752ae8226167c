package runner

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const metersPerMile = 1609.344

// minSpokenMiles is the distance below which per-interval stats are not
// worth announcing.
const minSpokenMiles = 0.1

// plural appends "s" for anything but exactly one.
func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// spokenDuration renders a phase length the way a coach would say it:
// "5 minutes", "90 seconds", "2 minutes 30 seconds".
func spokenDuration(d time.Duration) string {
	total := int(d.Round(time.Second).Seconds())
	if total < 0 {
		total = 0
	}

	minutes := total / 60
	seconds := total % 60

	switch {
	case total < 120 && seconds != 0:
		return plural(total, "second")
	case seconds == 0:
		return plural(minutes, "minute")
	default:
		return plural(minutes, "minute") + " " + plural(seconds, "second")
	}
}

// spokenPace renders seconds-per-meter as the per-mile pace runners think
// in: "9 minutes 39 seconds per mile".
func spokenPace(secPerMeter float64) string {
	total := int(math.Round(secPerMeter * metersPerMile))
	minutes := total / 60
	seconds := total % 60

	if minutes == 0 {
		return plural(seconds, "second") + " per mile"
	}
	if seconds == 0 {
		return plural(minutes, "minute") + " per mile"
	}
	return plural(minutes, "minute") + " " + plural(seconds, "second") + " per mile"
}

// spokenMiles renders meters as decimal miles: "1.2 miles", "0.4 miles".
func spokenMiles(meters float64) string {
	miles := meters / metersPerMile
	return fmt.Sprintf("%.1f miles", miles)
}

// phaseAnnouncement is spoken when a phase begins.
func phaseAnnouncement(p Phase, totalIntervals int) string {
	switch p.Kind {
	case PhaseWarmUp:
		return fmt.Sprintf("Warm up for %s.", spokenDuration(p.Duration))
	case PhaseRunning:
		return fmt.Sprintf("Run for %s. Interval %d of %d.", spokenDuration(p.Duration), p.Interval+1, totalIntervals)
	case PhaseWalking:
		return fmt.Sprintf("Walk for %s.", spokenDuration(p.Duration))
	case PhaseCoolDown:
		return fmt.Sprintf("Cool down for %s.", spokenDuration(p.Duration))
	default:
		return ""
	}
}

// nextPhasePreview is chained after the ten-second warning: "Walking is
// next.". Empty when there is no next phase.
func nextPhasePreview(next *Phase) string {
	if next == nil {
		return "Last stretch. Almost done."
	}
	switch next.Kind {
	case PhaseRunning:
		return "Running is next."
	case PhaseWalking:
		return "Walking is next."
	case PhaseCoolDown:
		return "Cool down is next."
	default:
		return ""
	}
}

// intervalStatsAnnouncement is spoken when a running phase ends: the
// distance covered in that interval and the current pace. Distances under
// a tenth of a mile are not worth hearing about.
func intervalStatsAnnouncement(phaseMeters float64, pace *float64) string {
	if phaseMeters/metersPerMile < minSpokenMiles {
		return ""
	}
	if pace == nil {
		return fmt.Sprintf("You ran %s.", spokenMiles(phaseMeters))
	}
	return fmt.Sprintf("You ran %s at %s.", spokenMiles(phaseMeters), spokenPace(*pace))
}

// completionAnnouncement is spoken once when the session finishes.
func completionAnnouncement(summary SessionSummary) string {
	var b strings.Builder
	b.WriteString("Workout complete.")

	if summary.DistanceMeters/metersPerMile >= minSpokenMiles {
		b.WriteString(fmt.Sprintf(" You covered %s", spokenMiles(summary.DistanceMeters)))
		if summary.AveragePace != nil {
			b.WriteString(fmt.Sprintf(" at an average pace of %s", spokenPace(*summary.AveragePace)))
		}
		b.WriteString(".")
	}

	b.WriteString(" Great job.")
	return b.String()
}
