package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"VolumeSentinel/internal/config"
	"VolumeSentinel/internal/logging"
	"VolumeSentinel/internal/metrics"
	"VolumeSentinel/internal/notifier"
	"VolumeSentinel/internal/portal"
	"VolumeSentinel/internal/recorder"
	"VolumeSentinel/internal/retention"
	"VolumeSentinel/internal/scheduler"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start monitoring",
	Long:  `Start one monitor loop per configured contract and keep running until interrupted.`,
	RunE:  runMonitor,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	rec, err := recorder.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open log store: %w", err)
	}
	defer rec.Close()

	logger, logOut, err := logging.Setup(cfg.Logging, rec, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logOut.Close()
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("auth", cfg.Auth.Mode.String()).
		Strs("contracts", cfg.Contracts).
		Str("store", cfg.Logging.Store).
		Msg("Starting VolumeSentinel")

	client, sessions, err := openPortal(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}

	sched := scheduler.NewScheduler(cfg, sessions, client, logger)
	sched.Retention = retention.NewManager(
		cfg.Logging.Dir,
		logging.FileName,
		rec,
		cfg.Logging.Retention(),
		cfg.Logging.HousekeepingInterval,
		logger,
	)
	sched.Retention.Rotator = logOut

	if cfg.Telegram.Enabled() {
		tn := notifier.NewTelegramNotifier(cfg.Telegram, cfg.Portal.Proxy, logger)
		sched.Telegram = tn
		sched.Dispatcher = notifier.NewDispatcher(tn, logger)
		logger.Info().Msg("Telegram notifications enabled")
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Addr != "" {
		metricsServer = metrics.NewServer(cfg.Metrics.Addr, logger)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		logger.Info().Str("addr", cfg.Metrics.Addr).Msg("Metrics server started")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifySystemd(logger, daemon.SdNotifyReady)

	err = sched.Run(ctx)

	notifySystemd(logger, daemon.SdNotifyStopping)
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}
	if err != nil {
		logger.Error().Err(err).Msg("Monitor stopped with error")
		return err
	}
	logger.Info().Msg("VolumeSentinel stopped")
	return nil
}

// openPortal builds the portal client and the session manager for the
// configured auth mode. A proxy list that cannot be loaded falls back to
// direct connections.
func openPortal(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*portal.Client, *portal.SessionManager, error) {
	client, err := portal.NewClient(cfg.Portal, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create portal client: %w", err)
	}

	pool, err := portal.LoadProxyPool(ctx, cfg.Portal, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load proxy list, connecting directly")
	}
	client.SetProxyPool(pool)

	var auth portal.Authenticator
	switch cfg.Auth.Mode {
	case config.AuthGuestLink:
		guest := &portal.GuestAuth{Client: client, GuestURL: cfg.Auth.GuestURL}
		if len(cfg.Contracts) > 0 {
			guest.ContractID = cfg.Contracts[0]
		}
		auth = guest
	case config.AuthCredentials:
		auth = &portal.CredentialsAuth{Client: client, Username: cfg.Auth.Username, Password: cfg.Auth.Password}
	default:
		return nil, nil, &config.ConfigError{Field: "auth", Reason: "no credentials or guest link configured"}
	}
	return client, portal.NewSessionManager(auth, logger), nil
}

func notifySystemd(logger zerolog.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Warn().Err(err).Str("state", state).Msg("Failed to send systemd notification")
		return
	}
	if sent {
		logger.Debug().Str("state", state).Msg("Sent systemd notification")
	}
}
