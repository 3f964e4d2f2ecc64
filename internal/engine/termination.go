package engine

import "time"

// Reason identifies why the loop stopped.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonCompletion         Reason = "completion_promise"
	ReasonMaxIterations      Reason = "max_iterations"
	ReasonMaxRuntime         Reason = "max_runtime"
	ReasonMaxCost            Reason = "max_cost"
	ReasonConsecutiveFailure Reason = "consecutive_failures"
	ReasonThrashing          Reason = "loop_thrashing"
	ReasonValidationFailure  Reason = "validation_failure"
	ReasonManualStop         Reason = "manual_stop"
	ReasonUserInterrupt      Reason = "user_interrupt"
	ReasonRestartRequested   Reason = "restart_requested"
)

// ExitCode maps a termination reason to the process exit code the CLI
// surface returns.
func ExitCode(r Reason) int {
	switch r {
	case ReasonCompletion:
		return 0
	case ReasonMaxIterations, ReasonMaxRuntime, ReasonMaxCost:
		return 2
	case ReasonConsecutiveFailure, ReasonThrashing, ReasonValidationFailure, ReasonManualStop:
		return 1
	case ReasonUserInterrupt:
		return 130
	case ReasonRestartRequested:
		return 3
	default:
		return 1
	}
}

// Limits holds the configured termination thresholds.
type Limits struct {
	MaxIterations          int
	MaxRuntime             time.Duration
	MaxCostUSD             float64
	MaxConsecutiveFailures int
}

// Termination evaluates the ordered termination checks against loop state
// and a pair of sentinel-file probes supplied by the caller (so tests can
// fake sentinel presence without touching the filesystem).
type Termination struct {
	Limits Limits

	// StopSentinelPresent reports and consumes a stop-requested sentinel.
	StopSentinelPresent func() bool
	// RestartSentinelPresent reports a restart-requested sentinel. It is not
	// consumed: the caller re-execs and the sentinel's absence on the next
	// process start is what signals a normal run.
	RestartSentinelPresent func() bool
}

// Check runs the ordered termination checks (first match wins) against s.
func (t Termination) Check(s *State) (Reason, bool) {
	switch {
	case t.Limits.MaxIterations > 0 && s.Iteration >= t.Limits.MaxIterations:
		return ReasonMaxIterations, true
	case t.Limits.MaxRuntime > 0 && time.Since(s.StartedAt) >= t.Limits.MaxRuntime:
		return ReasonMaxRuntime, true
	case t.Limits.MaxCostUSD > 0 && s.CumulativeCost >= t.Limits.MaxCostUSD:
		return ReasonMaxCost, true
	case t.Limits.MaxConsecutiveFailures > 0 && s.ConsecutiveFailures >= t.Limits.MaxConsecutiveFailures:
		return ReasonConsecutiveFailure, true
	case s.AbandonedRedispatches >= 3:
		return ReasonThrashing, true
	case s.ConsecutiveMalformed >= 3:
		return ReasonValidationFailure, true
	case t.StopSentinelPresent != nil && t.StopSentinelPresent():
		return ReasonManualStop, true
	case t.RestartSentinelPresent != nil && t.RestartSentinelPresent():
		return ReasonRestartRequested, true
	}
	return ReasonNone, false
}
