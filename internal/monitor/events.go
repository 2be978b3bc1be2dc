package monitor

import (
	"context"
	"time"

	"VolumeSentinel/internal/model"
)

// EventKind identifies an operator-facing occurrence.
type EventKind int

const (
	EventTopUp EventKind = iota
	EventAuthFailing
	EventAuthRecovered
	EventFailureCap
)

// Event is handed to the Notifier. Only the fields relevant to Kind are set.
type Event struct {
	Kind        EventKind
	Contract    string
	At          time.Time
	Result      model.TopUpResult
	RemainingGB float64
	Failures    int
	Err         error
}

// Notifier receives operator events. Notify must not block the loop.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}
