package loop

import "github.com/krazyuniks/ralph-hybrid-sub003/internal/breaker"

// TerminalStatus is how a run ended. Every run ends in exactly one of
// these; there is no other way out of the loop.
type TerminalStatus string

const (
	// StatusComplete means every task finished and the workspace was
	// archived.
	StatusComplete TerminalStatus = "COMPLETE"

	// StatusMaxIterations means the per-run iteration bound was reached.
	StatusMaxIterations TerminalStatus = "MAX_ITERATIONS_REACHED"

	// StatusBreakerTripped means the circuit breaker detected stagnation
	// or repeated identical failure. All state is preserved for
	// postmortem inspection.
	StatusBreakerTripped TerminalStatus = "CIRCUIT_BREAKER_TRIPPED"

	// StatusQuotaExhausted means the external provider's usage quota ran
	// out, or the local limiter was configured to abort.
	StatusQuotaExhausted TerminalStatus = "QUOTA_EXHAUSTED"

	// StatusUserInterrupt means the operator interrupted the run. All
	// persisted files are left in their last-known-good state.
	StatusUserInterrupt TerminalStatus = "USER_INTERRUPT"
)

// ExitCode maps a terminal status to the process exit code contract:
// 0 success, 1 generic failure, 2 quota exhaustion, 130 user interrupt.
func (s TerminalStatus) ExitCode() int {
	switch s {
	case StatusComplete:
		return 0
	case StatusQuotaExhausted:
		return 2
	case StatusUserInterrupt:
		return 130
	default:
		return 1
	}
}

// Result is the outcome of a run.
type Result struct {
	Status      TerminalStatus
	Iterations  int           // Iterations executed in this run
	Breaker     breaker.State // Final breaker counters, for postmortems
	ArchivePath string        // Set when Status is StatusComplete
}
