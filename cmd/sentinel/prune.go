package main

import (
	"fmt"
	"os"

	"VolumeSentinel/internal/config"
	"VolumeSentinel/internal/logging"
	"VolumeSentinel/internal/recorder"
	"VolumeSentinel/internal/retention"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Run one retention pass",
	Long:  `Delete rotated log files and stored log records older than the retention window.`,
	Args:  cobra.NoArgs,
	RunE:  runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	rec, err := recorder.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open log store: %w", err)
	}
	defer rec.Close()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	m := retention.NewManager(cfg.Logging.Dir, logging.FileName, rec, cfg.Logging.Retention(), cfg.Logging.HousekeepingInterval, logger)
	res, err := m.RunOnce(cmd.Context())
	fmt.Printf("Removed %d log files and %d records older than %s\n", res.Files, res.Records, cfg.Logging.Retention())
	return err
}
