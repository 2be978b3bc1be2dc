package notifier

import (
	"context"

	"VolumeSentinel/internal/monitor"

	"github.com/rs/zerolog"
)

const queueSize = 32

// Dispatcher queues monitor events and delivers them from its own goroutine,
// so a slow chat API never stalls a monitor loop.
type Dispatcher struct {
	sender     Sender
	maxRetries int
	queue      chan monitor.Event
	logger     zerolog.Logger
}

// NewDispatcher creates a dispatcher delivering through sender.
func NewDispatcher(sender Sender, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		sender:     sender,
		maxRetries: 3,
		queue:      make(chan monitor.Event, queueSize),
		logger:     logger.With().Str("component", "notifier").Logger(),
	}
}

// Notify enqueues ev, dropping it when the queue is full.
func (d *Dispatcher) Notify(_ context.Context, ev monitor.Event) {
	select {
	case d.queue <- ev:
	default:
		d.logger.Warn().Str("contract", ev.Contract).Msg("Notification queue full, dropping event")
	}
}

// Run delivers queued events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev monitor.Event) {
	text := FormatEvent(ev)
	var err error
	if r, ok := d.sender.(interface {
		SendWithRetry(ctx context.Context, text string, maxRetries int) error
	}); ok {
		err = r.SendWithRetry(ctx, text, d.maxRetries)
	} else {
		err = d.sender.Send(ctx, text)
	}
	if err != nil && ctx.Err() == nil {
		d.logger.Error().Err(err).Str("contract", ev.Contract).Msg("Send notification failed")
	}
}
