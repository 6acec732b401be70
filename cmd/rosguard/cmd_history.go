package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/rosguard/pkg/audit"
	"github.com/newtron-network/rosguard/pkg/cli"
	"github.com/newtron-network/rosguard/pkg/risk"
)

var (
	historyDevice  string
	historyOutcome string
	historyTier    string
	historyPath    string
	historyLast    string
	historyLimit   int
	historyOffset  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past workflows from the audit log",
	Long: `Show recorded workflows, most recent first.

Every run is recorded with its risk tier, execution path (direct, pending,
staged) and outcome (success, failed, rolled-back, pending).

Examples:
  rosguard history
  rosguard history --device core1 --last 24h
  rosguard history --outcome rolled-back --limit 5`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := historyFilter()
		if err != nil {
			return err
		}

		events, err := audit.Query(filter)
		if err != nil {
			return fmt.Errorf("querying audit log: %w", err)
		}

		if app.jsonOutput {
			return printJSON(events)
		}
		if len(events) == 0 {
			fmt.Println("No workflows recorded")
			return nil
		}

		t := cli.NewTable("STARTED", "DEVICE", "TIER", "PATH", "OUTCOME", "DURATION", "COMMAND").
			WithMaxCellWidth(cli.TerminalWidth() / 3)
		for _, e := range events {
			tier := e.Tier
			if parsed, err := risk.ParseTier(e.Tier); err == nil {
				tier = cli.Tier(parsed)
			}
			t.Row(
				e.StartedAt.Local().Format("2006-01-02 15:04:05"),
				e.DeviceID,
				tier,
				e.Path,
				cli.Outcome(e.Outcome),
				e.Duration().Round(time.Millisecond).String(),
				e.Command,
			)
		}
		t.Flush()
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyDevice, "device", "", "Filter by device")
	historyCmd.Flags().StringVar(&historyOutcome, "outcome", "", "Filter by outcome (success, failed, rolled-back, pending)")
	historyCmd.Flags().StringVar(&historyTier, "tier", "", "Filter by risk tier")
	historyCmd.Flags().StringVar(&historyPath, "path", "", "Filter by execution path (direct, pending, staged)")
	historyCmd.Flags().StringVar(&historyLast, "last", "", "Show workflows from the last duration (e.g., 24h)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum workflows to show")
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "Skip this many of the most recent workflows")
}

func historyFilter() (audit.Filter, error) {
	filter := audit.Filter{
		Device:  historyDevice,
		Outcome: historyOutcome,
		Path:    historyPath,
		Limit:   historyLimit,
		Offset:  historyOffset,
	}
	if historyTier != "" {
		t, err := risk.ParseTier(historyTier)
		if err != nil {
			return filter, err
		}
		filter.Tier = t.String()
	}
	if historyLast != "" {
		d, err := time.ParseDuration(historyLast)
		if err != nil {
			return filter, fmt.Errorf("invalid duration: %s", historyLast)
		}
		filter.StartTime = time.Now().Add(-d)
	}
	return filter, nil
}
