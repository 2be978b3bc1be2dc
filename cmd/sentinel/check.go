package main

import (
	"context"
	"fmt"
	"os"

	"VolumeSentinel/internal/config"
	"VolumeSentinel/internal/logging"
	"VolumeSentinel/internal/model"
	"VolumeSentinel/internal/portal"
	"VolumeSentinel/internal/scheduler"
	"VolumeSentinel/internal/strategy"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	checkTopUp bool
	checkYAML  bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Poll every contract once",
	Long: `Log in, read the current data volume of every configured contract once and print a summary.
With --topup a top-up is booked for contracts below the threshold.`,
	Example: `  sentinel check
  sentinel --config sentinel.yaml check --yaml
  sentinel check --topup`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkTopUp, "topup", false, "Book a top-up for contracts below the threshold")
	checkCmd.Flags().BoolVar(&checkYAML, "yaml", false, "Print the snapshots as YAML")
	rootCmd.AddCommand(checkCmd)
}

type checkResult struct {
	Contract string             `yaml:"contract"`
	Snapshot model.UsageSnapshot `yaml:"snapshot"`
	Below    bool               `yaml:"below_threshold"`
	TopUp    *model.TopUpResult `yaml:"topup,omitempty"`
	Error    string             `yaml:"error,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Quiet logger for one-shot mode
	logger := zerolog.New(os.Stderr).Level(logging.ParseLevel("warn")).With().Timestamp().Logger()

	client, sessions, err := openPortal(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	session, err := withTimeout(ctx, cfg, func(ctx context.Context) (*portal.Session, error) {
		return sessions.Current(ctx)
	})
	if err != nil {
		return fmt.Errorf("login failed (%s): %w", portal.Classify(err), err)
	}

	var results []checkResult
	failed := 0
	for _, id := range scheduler.Contracts(cfg) {
		if id == "" {
			id = session.ContractID
		}
		res := checkContract(ctx, cfg, client, session, id)
		if res.Error != "" {
			failed++
		}
		results = append(results, res)
	}

	if checkYAML {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(results); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
	} else {
		printCheckResults(cfg, results)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d contracts could not be read", failed, len(results))
	}
	return nil
}

func checkContract(ctx context.Context, cfg *config.Config, client *portal.Client, session *portal.Session, id string) checkResult {
	res := checkResult{Contract: id}
	snap, err := withTimeout(ctx, cfg, func(ctx context.Context) (model.UsageSnapshot, error) {
		return client.GetUsage(ctx, session, id)
	})
	if err != nil {
		res.Error = fmt.Sprintf("%s: %v", portal.Classify(err), err)
		return res
	}
	res.Snapshot = snap

	res.Below = strategy.NewController(cfg.Monitor.ThresholdGB).Below(snap)
	if !checkTopUp || !res.Below {
		return res
	}
	if snap.TopUp == model.TopUpUnavailable {
		res.TopUp = &model.TopUpResult{Message: "top-up not offered by the portal"}
		return res
	}
	result, err := withTimeout(ctx, cfg, func(ctx context.Context) (model.TopUpResult, error) {
		return client.TriggerTopUp(ctx, session, id)
	})
	if err != nil {
		result = model.TopUpResult{Message: err.Error()}
	}
	res.TopUp = &result
	return res
}

func withTimeout[T any](ctx context.Context, cfg *config.Config, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Portal.Timeout())
	defer cancel()
	return fn(ctx)
}

func allowanceLine(flat bool, used string, resetDay int) string {
	line := used
	if flat {
		line += " (flat rate)"
	}
	if resetDay > 0 {
		line += fmt.Sprintf(", resets on day %d", resetDay)
	}
	return line
}

// printCheckResults prints the check summary with colors
func printCheckResults(cfg *config.Config, results []checkResult) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("DATA VOLUME CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	for _, res := range results {
		fmt.Println()
		fmt.Printf("Contract:   %s\n", res.Contract)
		if res.Error != "" {
			red.Printf("Error:      %s\n", res.Error)
			continue
		}
		snap := res.Snapshot
		fmt.Printf("Remaining:  %.2f of %.2f GB (%.2f GB used)\n", snap.RemainingGB, snap.TotalGB, snap.ConsumedGB)
		fmt.Printf("Data as of: %s\n", snap.Timestamp.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("Top-up:     %s\n", snap.TopUp)
		if tel := snap.Telephony; tel != nil {
			fmt.Printf("Telephony:  %s\n", allowanceLine(tel.FlatRate, fmt.Sprintf("%.0f min", tel.Minutes()), tel.ResetDay))
		}
		if msg := snap.Messages; msg != nil {
			fmt.Printf("SMS:        %s\n", allowanceLine(msg.FlatRate, fmt.Sprintf("%d sent", msg.Count), msg.ResetDay))
		}

		cyan.Print("Status:     ")
		if res.Below {
			yellow.Printf("BELOW THRESHOLD (%.2f GB)\n", cfg.Monitor.ThresholdGB)
		} else {
			green.Println("OK")
		}

		if res.TopUp != nil {
			cyan.Print("Booking:    ")
			if res.TopUp.Success {
				green.Println("BOOKED")
			} else {
				red.Println("FAILED")
			}
			if res.TopUp.Message != "" {
				fmt.Printf("            → %s\n", res.TopUp.Message)
			}
		}
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}
