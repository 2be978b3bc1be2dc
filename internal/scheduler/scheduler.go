package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"VolumeSentinel/internal/calculator"
	"VolumeSentinel/internal/config"
	"VolumeSentinel/internal/monitor"
	"VolumeSentinel/internal/notifier"
	"VolumeSentinel/internal/retention"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Portal is the part of the portal client the monitor loops use.
type Portal interface {
	monitor.UsageReader
	monitor.TopUpTrigger
}

// Scheduler runs one monitor loop per contract next to the housekeeping jobs.
type Scheduler struct {
	Config     *config.Config
	Sessions   monitor.SessionProvider
	Portal     Portal
	Board      *monitor.Board
	Retention  *retention.Manager
	Dispatcher *notifier.Dispatcher
	Telegram   *notifier.TelegramNotifier
	Clock      monitor.Clock

	// base has no component field; loops add their own.
	base   zerolog.Logger
	logger zerolog.Logger
}

// NewScheduler creates a new Scheduler. Retention, Dispatcher and Telegram
// may be set afterwards; nil disables them.
func NewScheduler(cfg *config.Config, sessions monitor.SessionProvider, p Portal, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		Config:   cfg,
		Sessions: sessions,
		Portal:   p,
		Board:    monitor.NewBoard(),
		Clock:    monitor.RealClock{},
		base:     logger,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Policy builds the interval policy from the monitor configuration.
func Policy(m config.MonitorConfig) calculator.IntervalPolicy {
	return calculator.IntervalPolicy{
		Dynamic:        m.DynamicInterval,
		Fixed:          m.CheckInterval(),
		Fast:           m.FastInterval(),
		Max:            m.MaxInterval(),
		InitialDynamic: m.InitialInterval(),
		ThresholdGB:    m.ThresholdGB,
		GrowthFactor:   m.GrowthFactor,
		ComfortFactor:  m.ComfortFactor,
		SafetyFactor:   m.SafetyFactor,
	}
}

// Settings builds the loop settings for one contract.
func Settings(cfg *config.Config, contractID string) monitor.Settings {
	return monitor.Settings{
		ContractID:             contractID,
		Policy:                 Policy(cfg.Monitor),
		ThresholdGB:            cfg.Monitor.ThresholdGB,
		APITimeout:             cfg.Portal.Timeout(),
		RetryBackoff:           cfg.Monitor.RetryBackoff(),
		MaxConsecutiveFailures: cfg.Monitor.MaxConsecutiveFailures,
	}
}

// Contracts lists the loops to start. A guest link without a configured
// contract runs one loop that learns its contract from the session.
func Contracts(cfg *config.Config) []string {
	if len(cfg.Contracts) == 0 && cfg.Auth.Mode == config.AuthGuestLink {
		return []string{""}
	}
	return cfg.Contracts
}

// Run starts everything and blocks until ctx is cancelled and all loops
// have returned.
func (s *Scheduler) Run(ctx context.Context) error {
	contracts := Contracts(s.Config)
	if len(contracts) == 0 {
		return fmt.Errorf("no contracts to monitor")
	}

	if s.Retention != nil {
		if err := s.Retention.Start(ctx); err != nil {
			return err
		}
		defer s.Retention.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	var events monitor.Notifier
	if s.Dispatcher != nil {
		events = s.Dispatcher
		g.Go(func() error { return s.Dispatcher.Run(gctx) })
	}
	if s.Telegram != nil {
		g.Go(func() error {
			s.Telegram.StartPolling(gctx, s.HandleCommand)
			return nil
		})
	}

	for _, id := range contracts {
		loop := monitor.NewLoop(Settings(s.Config, id), monitor.Deps{
			Sessions: s.Sessions,
			Reader:   s.Portal,
			Trigger:  s.Portal,
			Notifier: events,
			Board:    s.Board,
			Clock:    s.Clock,
		}, s.base)
		g.Go(func() error { return loop.Run(gctx) })
	}

	s.logger.Info().Strs("contracts", contracts).Str("auth", s.Config.Auth.Mode.String()).Msg("Scheduler started")
	err := g.Wait()
	s.logger.Info().Msg("Scheduler stopped")
	return err
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	fields := strings.Fields(strings.ToLower(command))
	if len(fields) == 0 {
		return notifier.FormatHelp()
	}
	// Commands in groups may carry the bot name: /status@my_bot.
	cmd, _, _ := strings.Cut(fields[0], "@")
	switch cmd {
	case "/status":
		return notifier.FormatStatus(s.Board.Snapshot(), time.Now())
	default:
		return notifier.FormatHelp()
	}
}
