// Package breaker detects stagnation and repeated identical failure,
// tripping the loop before it burns hours repeating itself.
package breaker

import "fmt"

// Default thresholds. Three silent iterations or five identical failures
// is strong evidence the agent is stuck.
const (
	DefaultNoProgressThreshold = 3
	DefaultSameErrorThreshold  = 5
)

// TripReason says which safety net fired.
type TripReason string

const (
	TripNone       TripReason = ""
	TripNoProgress TripReason = "no_progress"
	TripSameError  TripReason = "same_error"
)

// State holds the breaker counters. It is preserved after a trip for
// postmortem inspection.
type State struct {
	NoProgressCount int    // Consecutive iterations without a completion-vector change
	SameErrorCount  int    // Consecutive iterations with an identical error fingerprint
	LastFingerprint string // Fingerprint observed on the previous iteration
}

// Breaker is the circuit breaker for the iteration loop.
type Breaker struct {
	noProgressThreshold int
	sameErrorThreshold  int
	state               State
	tripped             TripReason
}

// New creates a breaker with the given thresholds. Non-positive values
// fall back to the defaults.
func New(noProgressThreshold, sameErrorThreshold int) *Breaker {
	if noProgressThreshold <= 0 {
		noProgressThreshold = DefaultNoProgressThreshold
	}
	if sameErrorThreshold <= 0 {
		sameErrorThreshold = DefaultSameErrorThreshold
	}
	return &Breaker{
		noProgressThreshold: noProgressThreshold,
		sameErrorThreshold:  sameErrorThreshold,
	}
}

// Observe records one iteration's outcome: whether the completion vector
// changed, and the iteration's error fingerprint (empty when none).
// Returns the trip reason, or TripNone.
//
// Counter rules: progress resets the no-progress counter; a new (or empty)
// fingerprint resets the same-error counter and stores the fingerprint.
func (b *Breaker) Observe(progressed bool, fingerprint string) TripReason {
	if progressed {
		b.state.NoProgressCount = 0
	} else {
		b.state.NoProgressCount++
	}

	if fingerprint != "" && fingerprint == b.state.LastFingerprint {
		b.state.SameErrorCount++
	} else {
		b.state.SameErrorCount = 0
		if fingerprint != "" {
			b.state.SameErrorCount = 1
		}
		b.state.LastFingerprint = fingerprint
	}

	if b.state.NoProgressCount >= b.noProgressThreshold {
		b.tripped = TripNoProgress
	} else if b.state.SameErrorCount >= b.sameErrorThreshold {
		b.tripped = TripSameError
	}
	return b.tripped
}

// Tripped returns the reason the breaker tripped, or TripNone.
func (b *Breaker) Tripped() TripReason {
	return b.tripped
}

// State returns a copy of the counters for reporting and postmortems.
func (b *Breaker) State() State {
	return b.state
}

// Reset clears only the counters and the tripped flag. The thresholds are
// untouched.
func (b *Breaker) Reset() {
	b.state = State{}
	b.tripped = TripNone
}

// Describe renders a one-line summary of why the breaker tripped.
func (b *Breaker) Describe() string {
	switch b.tripped {
	case TripNoProgress:
		return fmt.Sprintf("no task completed for %d consecutive iterations (threshold %d)",
			b.state.NoProgressCount, b.noProgressThreshold)
	case TripSameError:
		return fmt.Sprintf("identical error repeated for %d consecutive iterations (threshold %d, fingerprint %s)",
			b.state.SameErrorCount, b.sameErrorThreshold, b.state.LastFingerprint)
	default:
		return "breaker closed"
	}
}
