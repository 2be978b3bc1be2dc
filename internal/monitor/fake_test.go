package monitor

import (
	"context"
	"sync"
	"time"

	"VolumeSentinel/internal/model"
	"VolumeSentinel/internal/portal"
)

var epoch = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

// fakeClock advances instantly on Sleep and cancels the run after limit sleeps.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	limit  int
	cancel context.CancelFunc
}

func newFakeClock(limit int, cancel context.CancelFunc) *fakeClock {
	return &fakeClock{now: epoch, limit: limit, cancel: cancel}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	done := c.limit > 0 && len(c.sleeps) >= c.limit
	c.mu.Unlock()
	if done {
		c.cancel()
	}
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type step struct {
	remaining float64
	err       error
	topUp     model.TopUpAvailability
	// sameStamp repeats the previous data timestamp.
	sameStamp bool
	// block waits for the call context to end and returns its error.
	block bool
}

type fakeReader struct {
	clock   *fakeClock
	steps   []step
	entered chan struct{}

	mu        sync.Mutex
	calls     int
	lastStamp time.Time
	sessions  []*portal.Session
	contracts []string
	ctxErrs   []error
}

func (r *fakeReader) GetUsage(ctx context.Context, s *portal.Session, contractID string) (model.UsageSnapshot, error) {
	r.mu.Lock()
	i := r.calls
	if i >= len(r.steps) {
		i = len(r.steps) - 1
	}
	st := r.steps[i]
	r.calls++
	r.sessions = append(r.sessions, s)
	r.contracts = append(r.contracts, contractID)
	r.mu.Unlock()

	if st.block {
		if r.entered != nil {
			close(r.entered)
		}
		<-ctx.Done()
		r.mu.Lock()
		r.ctxErrs = append(r.ctxErrs, ctx.Err())
		r.mu.Unlock()
		return model.UsageSnapshot{}, ctx.Err()
	}
	if st.err != nil {
		return model.UsageSnapshot{}, st.err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	ts := r.clock.Now()
	if st.sameStamp {
		ts = r.lastStamp
	}
	r.lastStamp = ts
	return model.UsageSnapshot{
		Timestamp:   ts,
		FetchedAt:   r.clock.Now(),
		RemainingGB: st.remaining,
		TotalGB:     10,
		ConsumedGB:  10 - st.remaining,
		TopUp:       st.topUp,
	}, nil
}

func (r *fakeReader) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeTrigger struct {
	results []model.TopUpResult

	mu    sync.Mutex
	calls int
}

func (t *fakeTrigger) TriggerTopUp(_ context.Context, _ *portal.Session, _ string) (model.TopUpResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.calls
	t.calls++
	if len(t.results) == 0 {
		return model.TopUpResult{Success: true, Message: "booked"}, nil
	}
	if i >= len(t.results) {
		i = len(t.results) - 1
	}
	return t.results[i], nil
}

func (t *fakeTrigger) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

type fakeSessions struct {
	current  *portal.Session
	authErrs []error

	mu     sync.Mutex
	reauth int
	stale  []*portal.Session
}

func (f *fakeSessions) Current(_ context.Context) (*portal.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeSessions) Reauthenticate(_ context.Context, stale *portal.Session) (*portal.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stale = append(f.stale, stale)
	f.reauth++
	if f.reauth <= len(f.authErrs) {
		return nil, f.authErrs[f.reauth-1]
	}
	f.current = &portal.Session{ID: "fresh", ContractID: f.current.ContractID}
	return f.current, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) Kinds() []EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []EventKind
	for _, ev := range n.events {
		out = append(out, ev.Kind)
	}
	return out
}
