package monitor

import (
	"context"
	"math"
	"time"

	"VolumeSentinel/internal/calculator"
	"VolumeSentinel/internal/metrics"
	"VolumeSentinel/internal/model"
	"VolumeSentinel/internal/portal"
	"VolumeSentinel/internal/strategy"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// SessionProvider hands out the shared portal session and replaces it after
// the portal rejected it.
type SessionProvider interface {
	Current(ctx context.Context) (*portal.Session, error)
	Reauthenticate(ctx context.Context, stale *portal.Session) (*portal.Session, error)
}

// UsageReader fetches a usage snapshot for a contract.
type UsageReader interface {
	GetUsage(ctx context.Context, s *portal.Session, contractID string) (model.UsageSnapshot, error)
}

// TopUpTrigger books more high-speed volume for a contract.
type TopUpTrigger interface {
	TriggerTopUp(ctx context.Context, s *portal.Session, contractID string) (model.TopUpResult, error)
}

// Settings configures one loop.
type Settings struct {
	// ContractID may be empty in guest mode; it is then taken from the
	// session once the guest link is resolved.
	ContractID             string
	Policy                 calculator.IntervalPolicy
	ThresholdGB            float64
	APITimeout             time.Duration
	RetryBackoff           time.Duration
	MaxConsecutiveFailures int
}

// Deps are the collaborators of a loop. Notifier and Board are optional.
type Deps struct {
	Sessions SessionProvider
	Reader   UsageReader
	Trigger  TopUpTrigger
	Notifier Notifier
	Board    *Board
	Clock    Clock
}

// Loop monitors a single contract until its context is cancelled.
type Loop struct {
	settings   Settings
	deps       Deps
	controller *strategy.Controller
	base       zerolog.Logger
	logger     zerolog.Logger

	state       State
	phase       Phase
	session     *portal.Session
	pending     *model.UsageSnapshot
	delay       time.Duration
	afterSleep  Phase
	authBackoff backoff.BackOff
}

// NewLoop wires a loop. A nil Clock means RealClock.
func NewLoop(settings Settings, deps Deps, logger zerolog.Logger) *Loop {
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	l := &Loop{
		settings:   settings,
		deps:       deps,
		controller: strategy.NewController(settings.ThresholdGB),
		state:      NewState(settings.Policy.Initial()),
	}
	l.base = logger.With().Str("component", "monitor").Logger()
	l.logger = l.base.With().Str("contract", l.name()).Logger()
	return l
}

// State returns a copy of the loop state. Only call it while Run is not
// executing, or from the loop goroutine.
func (l *Loop) State() State {
	return l.state.clone()
}

func (l *Loop) name() string {
	if l.settings.ContractID == "" {
		return "guest"
	}
	return l.settings.ContractID
}

// Run drives the state machine until ctx is cancelled. It returns nil on a
// clean stop; transient and authentication failures never end it.
func (l *Loop) Run(ctx context.Context) error {
	l.state = NewState(l.settings.Policy.Initial())
	l.phase = PhasePolling
	l.logger.Info().
		Dur("initial_interval", l.state.CurrentInterval).
		Float64("threshold_gb", l.settings.ThresholdGB).
		Bool("dynamic", l.settings.Policy.Dynamic).
		Msg("Monitor started")

	for {
		if ctx.Err() != nil {
			l.phase = PhaseStopped
			l.publish(time.Time{})
			l.logger.Info().Msg("Monitor stopped")
			return nil
		}

		switch l.phase {
		case PhasePolling:
			l.phase = l.poll(ctx)
		case PhaseEvaluating:
			l.phase = l.evaluate()
		case PhaseToppingUp:
			l.phase = l.topUp(ctx)
		case PhaseAuthRecovery:
			l.phase = l.recoverAuth(ctx)
		case PhaseSleeping:
			l.phase = l.sleep(ctx)
		default:
			l.phase = PhasePolling
		}
	}
}

// callContext bounds an external call by the API timeout. The call is not
// cut short by a stop signal; it finishes or times out first.
func (l *Loop) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), l.settings.APITimeout)
}

func (l *Loop) poll(ctx context.Context) Phase {
	l.publish(time.Time{})
	callCtx, cancel := l.callContext(ctx)
	defer cancel()

	if l.session == nil {
		s, err := l.deps.Sessions.Current(callCtx)
		if err != nil {
			return l.pollFailed(ctx, err)
		}
		l.adopt(s)
	}

	snap, err := l.deps.Reader.GetUsage(callCtx, l.session, l.settings.ContractID)
	if err != nil {
		return l.pollFailed(ctx, err)
	}

	metrics.PollsTotal.WithLabelValues(l.name(), "ok").Inc()
	l.state.ConsecutiveFailures = 0
	l.state.LastError = ""
	l.pending = &snap
	return PhaseEvaluating
}

// adopt switches to s and picks up the guest contract if it was not configured.
func (l *Loop) adopt(s *portal.Session) {
	l.session = s
	if l.settings.ContractID == "" && s != nil && s.ContractID != "" {
		if l.deps.Board != nil {
			l.deps.Board.Remove(l.name())
		}
		l.settings.ContractID = s.ContractID
		l.logger = l.base.With().Str("contract", s.ContractID).Logger()
		l.logger.Info().Msg("Guest contract resolved")
	}
}

func (l *Loop) pollFailed(ctx context.Context, err error) Phase {
	kind := portal.Classify(err)
	l.state.LastError = err.Error()
	metrics.PollsTotal.WithLabelValues(l.name(), kind.String()).Inc()

	if kind == portal.KindAuth {
		l.logger.Warn().Err(err).Str("phase", PhasePolling.String()).Str("kind", kind.String()).Msg("Portal session rejected")
		return PhaseAuthRecovery
	}

	l.state.ConsecutiveFailures++
	n := l.state.ConsecutiveFailures
	limit := l.settings.MaxConsecutiveFailures
	delay := l.settings.RetryBackoff

	if n <= limit {
		l.logger.Warn().Err(err).
			Str("phase", PhasePolling.String()).
			Str("kind", kind.String()).
			Int("failures", n).
			Dur("retry_in", delay).
			Msg("Usage poll failed")
	} else {
		delay = widen(l.settings.RetryBackoff, n-limit, l.settings.Policy.Max)
		ev := l.logger.Error()
		if n == limit+1 {
			// Terminal severity without exiting; the loop keeps retrying.
			ev = l.logger.WithLevel(zerolog.FatalLevel)
			l.notify(ctx, Event{Kind: EventFailureCap, Failures: n, Err: err})
		}
		ev.Err(err).
			Str("phase", PhasePolling.String()).
			Str("kind", kind.String()).
			Int("failures", n).
			Dur("retry_in", delay).
			Msg("Usage polling keeps failing")
	}

	l.delay = delay
	l.afterSleep = PhasePolling
	return PhaseSleeping
}

// widen doubles base per step past the cap, bounded by ceiling.
func widen(base time.Duration, steps int, ceiling time.Duration) time.Duration {
	d := float64(base) * math.Pow(2, float64(steps))
	if d >= float64(ceiling) || math.IsInf(d, 1) {
		return ceiling
	}
	return time.Duration(d)
}

func (l *Loop) evaluate() Phase {
	l.publish(time.Time{})
	snap := *l.pending
	l.pending = nil
	prev := l.state.LastSnapshot
	now := l.deps.Clock.Now()

	rate := l.state.LastRate
	switch {
	case prev != nil && !snap.Timestamp.After(prev.Timestamp) && snap.RemainingGB > prev.RemainingGB:
		// A booked package can show up before the portal bumps its data
		// timestamp. The increase still ends the episode; the rate is unknown.
		l.resetEpisode(snap)
		rate = 0
		l.state.LastRate = rate
		l.state.LastSnapshot = &snap
	case prev != nil && !snap.Timestamp.After(prev.Timestamp):
		// The portal has not refreshed its figures since the last poll.
		l.logger.Debug().Time("data_updated_at", snap.Timestamp).Msg("Portal data unchanged")
	default:
		est := calculator.EstimateRate(prev, snap)
		if est.EpisodeReset {
			l.resetEpisode(snap)
		}
		rate = est.GBPerSecond
		l.state.LastRate = rate
		l.state.LastSnapshot = &snap
	}

	l.logger.Info().
		Float64("remaining_gb", snap.RemainingGB).
		Float64("total_gb", snap.TotalGB).
		Float64("consumed_gb", snap.ConsumedGB).
		Float64("rate_mb_per_min", rate*1024*60).
		Msg("Usage snapshot")

	metrics.RemainingGB.WithLabelValues(l.name()).Set(snap.RemainingGB)
	metrics.ConsumptionRate.WithLabelValues(l.name()).Set(rate)

	// The first sample has nothing to extrapolate from and keeps the seed
	// interval unless it is already below the threshold.
	if prev != nil || snap.RemainingGB <= l.settings.ThresholdGB {
		l.state.CurrentInterval = l.settings.Policy.Next(rate, snap.RemainingGB, l.state.CurrentInterval)
	}
	metrics.IntervalSeconds.WithLabelValues(l.name()).Set(l.state.CurrentInterval.Seconds())

	l.delay = l.state.CurrentInterval
	l.afterSleep = PhasePolling

	switch l.controller.ShouldTopUp(snap, l.state.TopUpTriggered) {
	case strategy.DecisionFire:
		if !l.state.TopUpRetryAt.IsZero() && now.Before(l.state.TopUpRetryAt) {
			l.logger.Debug().Time("retry_at", l.state.TopUpRetryAt).Msg("Top-up retry deferred")
			return PhaseSleeping
		}
		l.logger.Warn().Float64("remaining_gb", snap.RemainingGB).Float64("threshold_gb", l.settings.ThresholdGB).Msg("Below threshold, booking top-up")
		return PhaseToppingUp
	case strategy.DecisionUnavailable:
		l.logger.Warn().Float64("remaining_gb", snap.RemainingGB).Msg("Below threshold but no top-up is offered")
	case strategy.DecisionSuppressed:
		l.logger.Debug().Float64("remaining_gb", snap.RemainingGB).Msg("Top-up already booked for this episode")
	}
	return PhaseSleeping
}

// resetEpisode re-arms the top-up after the remaining volume went up.
func (l *Loop) resetEpisode(snap model.UsageSnapshot) {
	if l.state.TopUpTriggered || l.state.TopUpFailures > 0 {
		l.logger.Info().Float64("remaining_gb", snap.RemainingGB).Msg("Volume increased, top-up re-armed")
	}
	l.state.TopUpTriggered = l.controller.ResetEpisode()
	l.state.TopUpFailures = 0
	l.state.TopUpRetryAt = time.Time{}
}

func (l *Loop) topUp(ctx context.Context) Phase {
	l.publish(time.Time{})
	callCtx, cancel := l.callContext(ctx)
	defer cancel()

	res, err := l.deps.Trigger.TriggerTopUp(callCtx, l.session, l.settings.ContractID)
	now := l.deps.Clock.Now()
	if err != nil {
		kind := portal.Classify(err)
		metrics.TopUpsTotal.WithLabelValues(l.name(), kind.String()).Inc()
		if kind == portal.KindAuth {
			l.logger.Warn().Err(err).Str("phase", PhaseToppingUp.String()).Str("kind", kind.String()).Msg("Portal session rejected")
			return PhaseAuthRecovery
		}
		res = model.TopUpResult{Success: false, Message: err.Error(), At: now}
	}
	if res.At.IsZero() {
		res.At = now
	}

	l.state.TopUpTriggered = l.controller.RecordOutcome(res.Success, l.state.TopUpTriggered)
	remaining := 0.0
	if l.state.LastSnapshot != nil {
		remaining = l.state.LastSnapshot.RemainingGB
	}

	if res.Success {
		metrics.TopUpsTotal.WithLabelValues(l.name(), "success").Inc()
		l.state.TopUpFailures = 0
		l.state.TopUpRetryAt = time.Time{}
		l.logger.Info().Str("result", res.Message).Msg("Top-up booked")
	} else {
		metrics.TopUpsTotal.WithLabelValues(l.name(), "failure").Inc()
		l.state.TopUpFailures++
		wait := l.settings.Policy.Fast * time.Duration(1<<min(l.state.TopUpFailures, 16))
		wait = clampDuration(wait, l.settings.Policy.Fast, l.settings.Policy.Max)
		l.state.TopUpRetryAt = now.Add(wait)
		l.logger.Error().
			Str("result", res.Message).
			Str("phase", PhaseToppingUp.String()).
			Int("failures", l.state.TopUpFailures).
			Time("retry_at", l.state.TopUpRetryAt).
			Msg("Top-up failed")
	}
	l.notify(ctx, Event{Kind: EventTopUp, Result: res, RemainingGB: remaining, Failures: l.state.TopUpFailures})

	l.afterSleep = PhasePolling
	return PhaseSleeping
}

func (l *Loop) newAuthBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.settings.RetryBackoff
	b.MaxInterval = l.settings.Policy.Max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (l *Loop) recoverAuth(ctx context.Context) Phase {
	l.publish(time.Time{})
	if l.authBackoff == nil {
		l.authBackoff = l.newAuthBackoff()
	}

	callCtx, cancel := l.callContext(ctx)
	s, err := l.deps.Sessions.Reauthenticate(callCtx, l.session)
	cancel()
	l.state.AuthAttempts++

	if err == nil {
		metrics.AuthRecoveriesTotal.WithLabelValues("success").Inc()
		if l.state.AuthAttempts > l.settings.MaxConsecutiveFailures {
			l.notify(ctx, Event{Kind: EventAuthRecovered, Failures: l.state.AuthAttempts - 1})
		}
		l.logger.Info().Int("attempts", l.state.AuthAttempts).Msg("Session recovered")
		l.adopt(s)
		l.state.AuthAttempts = 0
		l.state.ConsecutiveFailures = 0
		l.state.LastError = ""
		l.authBackoff = nil
		return PhasePolling
	}

	metrics.AuthRecoveriesTotal.WithLabelValues("failure").Inc()
	l.state.LastError = err.Error()
	delay := l.authBackoff.NextBackOff()
	if delay == backoff.Stop || delay > l.settings.Policy.Max {
		delay = l.settings.Policy.Max
	}
	l.logger.Error().Err(err).
		Str("phase", PhaseAuthRecovery.String()).
		Str("kind", portal.Classify(err).String()).
		Int("attempts", l.state.AuthAttempts).
		Dur("retry_in", delay).
		Msg("Re-authentication failed")
	if l.state.AuthAttempts == l.settings.MaxConsecutiveFailures {
		l.notify(ctx, Event{Kind: EventAuthFailing, Failures: l.state.AuthAttempts, Err: err})
	}

	l.delay = delay
	l.afterSleep = PhaseAuthRecovery
	return PhaseSleeping
}

func (l *Loop) sleep(ctx context.Context) Phase {
	next := l.deps.Clock.Now().Add(l.delay)
	l.publish(next)
	l.logger.Debug().Dur("delay", l.delay).Time("next_poll", next).Msg("Sleeping")

	if err := l.deps.Clock.Sleep(ctx, l.delay); err != nil {
		return PhaseStopped
	}
	return l.afterSleep
}

func (l *Loop) notify(ctx context.Context, ev Event) {
	if l.deps.Notifier == nil {
		return
	}
	ev.Contract = l.name()
	if ev.At.IsZero() {
		ev.At = l.deps.Clock.Now()
	}
	l.deps.Notifier.Notify(ctx, ev)
}

func (l *Loop) publish(nextPoll time.Time) {
	if l.deps.Board == nil {
		return
	}
	l.deps.Board.Update(Status{
		Contract:   l.name(),
		Phase:      l.phase,
		State:      l.state,
		NextPollAt: nextPoll,
		UpdatedAt:  l.deps.Clock.Now(),
	})
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
