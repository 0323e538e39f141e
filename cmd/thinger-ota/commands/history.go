package commands

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/thinger-io/thinger-ota/internal/logging"
	"github.com/thinger-io/thinger-ota/pkg/db"
	"github.com/thinger-io/thinger-ota/pkg/errors"
	"github.com/thinger-io/thinger-ota/pkg/report"
)

var (
	historyDevice string
	historyLimit  int
	historyOutput string
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List past rollouts, the results of one rollout, or the updates of a device",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyDevice, "device", "", "Show the update history of a device")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Max rows (0 for all)")
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", formatTable, "Output format: table, json or yaml")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if err := validOutput(historyOutput); err != nil {
		return err
	}
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	// Ensure database directory exists
	if err := ensureDirectories(cfg.SQLitePath, ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath, logging.Named("db"))
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	ctx := cmd.Context()

	switch {
	case len(args) == 1:
		run, err := repo.GetRun(ctx, args[0])
		if err != nil {
			return errors.Wrap(err, "run lookup failed")
		}
		if run == nil {
			return errors.NewConfigurationError("run not found: " + args[0])
		}
		results, err := repo.ListResults(ctx, run.ID)
		if err != nil {
			return errors.Wrap(err, "results lookup failed")
		}
		return printOutput(os.Stdout, historyOutput, results, func(w io.Writer) {
			printRuns(w, []*db.Run{run})
			fmt.Fprintln(w)
			printResults(w, results)
		})

	case historyDevice != "":
		results, err := repo.DeviceHistory(ctx, historyDevice, historyLimit)
		if err != nil {
			return errors.Wrap(err, "device history failed")
		}
		return printOutput(os.Stdout, historyOutput, results, func(w io.Writer) {
			printResults(w, results)
		})

	default:
		runs, err := repo.ListRuns(ctx, historyLimit)
		if err != nil {
			return errors.Wrap(err, "list failed")
		}
		return printOutput(os.Stdout, historyOutput, runs, func(w io.Writer) {
			printRuns(w, runs)
		})
	}
}

func printRuns(w io.Writer, runs []*db.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No rollouts found")
		return
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-36s %-24s %-28s %-10s %-11s %-9s %s",
		"RUN", "STARTED", "TARGET", "VERSION", "STATUS", "OK/FAIL", "FIRMWARE")))
	for _, r := range runs {
		status := r.Status
		if r.FailureCount > 0 || r.Status == db.StatusFailed {
			status = failureStyle.Render(fmt.Sprintf("%-11s", status))
		} else {
			status = fmt.Sprintf("%-11s", status)
		}
		fmt.Fprintf(w, "%-36s %-24s %-28s %-10s %s %-9s %s\n",
			r.ID, r.StartedAt, r.TargetType+": "+r.TargetID, orDash(r.Version), status,
			fmt.Sprintf("%d/%d", r.SuccessCount, r.FailureCount), r.Environment)
	}
}

func printResults(w io.Writer, results []*db.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No device results found")
		return
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-24s %-24s %-16s %-18s %s",
		"DEVICE", "AT", "RESULT", "DURATION", "DESCRIPTION")))
	for _, r := range results {
		outcome := fmt.Sprintf("%-16s", r.Outcome)
		if r.Outcome == "FAILURE" {
			outcome = failureStyle.Render(outcome)
		}
		duration := "-"
		if r.DurationMS > 0 {
			duration = report.FormatDuration(time.Duration(r.DurationMS) * time.Millisecond)
		}
		fmt.Fprintf(w, "%-24s %-24s %s %-18s %s\n", r.DeviceID, r.CreatedAt, outcome, duration, r.Description)
	}
}
