package state

import (
	"strings"
	"time"
)

// Bucketing maps continuous or open-ended inputs onto a small vocabulary.
// Unbucketed values would make almost every state unique.

// #region buckets
// DiffSizeBucket buckets a changed-line count.
func DiffSizeBucket(lines int) string {
	switch {
	case lines <= 0:
		return "0"
	case lines <= 10:
		return "1-10"
	case lines <= 100:
		return "11-100"
	default:
		return ">100"
	}
}

// CountBucket buckets small event counts such as prior failures.
func CountBucket(n int) string {
	switch {
	case n <= 0:
		return "0"
	case n == 1:
		return "1"
	case n <= 5:
		return "2-5"
	default:
		return ">5"
	}
}

// DurationBucket buckets a wall-clock duration.
func DurationBucket(d time.Duration) string {
	switch {
	case d < time.Second:
		return "<1s"
	case d < 10*time.Second:
		return "1-10s"
	case d < time.Minute:
		return "10-60s"
	default:
		return ">60s"
	}
}

// TemperatureBucket buckets a sampling temperature.
func TemperatureBucket(t float64) string {
	switch {
	case t < 0.3:
		return "cold"
	case t < 0.8:
		return "warm"
	default:
		return "hot"
	}
}

// BoolBucket renders a flag.
func BoolBucket(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// #endregion buckets

// #region phases
// Known execution phases. Anything else buckets to PhaseOther.
const (
	PhasePlan     = "plan"
	PhaseEdit     = "edit"
	PhaseTest     = "test"
	PhaseVerified = "verified"
	PhaseMerge    = "merge"
	PhaseDone     = "done"
	PhaseSuccess  = "success"
	PhaseFailed   = "failed"
	PhaseOther    = "other"
)

var knownPhases = map[string]bool{
	PhasePlan: true, PhaseEdit: true, PhaseTest: true, PhaseVerified: true,
	PhaseMerge: true, PhaseDone: true, PhaseSuccess: true, PhaseFailed: true,
}

// PhaseBucket normalizes a phase name.
func PhaseBucket(phase string) string {
	p := strings.ToLower(strings.TrimSpace(phase))
	if knownPhases[p] {
		return p
	}
	return PhaseOther
}

// #endregion phases
