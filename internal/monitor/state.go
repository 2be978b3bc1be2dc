package monitor

import (
	"time"

	"VolumeSentinel/internal/model"
)

// Phase is a state of the monitor loop.
type Phase int

const (
	PhasePolling Phase = iota
	PhaseEvaluating
	PhaseToppingUp
	PhaseSleeping
	PhaseAuthRecovery
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhasePolling:
		return "polling"
	case PhaseEvaluating:
		return "evaluating"
	case PhaseToppingUp:
		return "topping_up"
	case PhaseSleeping:
		return "sleeping"
	case PhaseAuthRecovery:
		return "auth_recovery"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// State is the per-contract bookkeeping. It is owned by a single loop
// goroutine and copied when published.
type State struct {
	CurrentInterval     time.Duration
	LastSnapshot        *model.UsageSnapshot
	LastRate            float64
	TopUpTriggered      bool
	ConsecutiveFailures int

	// TopUpFailures counts failed bookings in the current episode. The next
	// attempt waits until TopUpRetryAt.
	TopUpFailures int
	TopUpRetryAt  time.Time
	AuthAttempts  int
	LastError     string
}

// NewState seeds the state with the initial interval.
func NewState(initial time.Duration) State {
	return State{CurrentInterval: initial}
}

func (s State) clone() State {
	if s.LastSnapshot != nil {
		snap := *s.LastSnapshot
		s.LastSnapshot = &snap
	}
	return s
}
