package main

import (
	"fmt"
	"time"

	"VolumeSentinel/internal/config"
	"VolumeSentinel/internal/recorder"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	logsContract string
	logsSince    time.Duration
	logsLimit    int
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show stored log records",
	Long:  `Query the log record store, newest first.`,
	Example: `  sentinel logs --contract 12345678 --since 2h
  sentinel logs --limit 20`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().StringVar(&logsContract, "contract", "", "Only records of this contract")
	logsCmd.Flags().DurationVar(&logsSince, "since", 0, "Only records younger than this")
	logsCmd.Flags().IntVar(&logsLimit, "limit", 50, "Maximum number of records")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	rec, err := recorder.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open log store: %w", err)
	}
	defer rec.Close()

	q := recorder.Query{Contract: logsContract, Limit: logsLimit}
	if logsSince > 0 {
		q.Since = time.Now().Add(-logsSince)
	}
	records, err := rec.Recent(cmd.Context(), q)
	if err != nil {
		return fmt.Errorf("failed to query log store: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No log records found.")
		return nil
	}

	dim := color.New(color.Faint)
	for _, r := range records {
		dim.Print(r.Timestamp.Local().Format(time.DateTime), " ")
		levelColor(r.Level).Printf("%-5s ", r.Level)
		if r.Contract != "" {
			fmt.Printf("[%s] ", r.Contract)
		}
		fmt.Println(r.Message)
	}
	return nil
}

func levelColor(level string) *color.Color {
	switch level {
	case "debug":
		return color.New(color.FgMagenta)
	case "warn":
		return color.New(color.FgYellow, color.Bold)
	case "error", "fatal", "panic":
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgGreen)
	}
}
