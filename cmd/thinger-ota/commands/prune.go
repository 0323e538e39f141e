package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/thinger-io/thinger-ota/internal/logging"
	"github.com/thinger-io/thinger-ota/pkg/db"
	"github.com/thinger-io/thinger-ota/pkg/errors"
)

var (
	pruneOlderThan time.Duration
	pruneRun       string
	pruneAll       bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete rollout history",
	Long: `Delete rollouts and their device results from the history database:
  --older-than <duration>  Delete rollouts started before now minus duration (e.g. 720h)
  --run <id>               Delete a single rollout
  --all                    Delete every rollout`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "Delete rollouts older than this")
	pruneCmd.Flags().StringVar(&pruneRun, "run", "", "Delete a specific rollout by ID")
	pruneCmd.Flags().BoolVar(&pruneAll, "all", false, "Delete every rollout")
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

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
	case pruneRun != "":
		run, err := repo.GetRun(ctx, pruneRun)
		if err != nil {
			return errors.Wrap(err, "run lookup failed")
		}
		if run == nil {
			return errors.NewConfigurationError("run not found: " + pruneRun)
		}
		if err := repo.DeleteRun(ctx, pruneRun); err != nil {
			return errors.Wrap(err, "delete failed")
		}
		fmt.Printf("Deleted rollout %s\n", pruneRun)
		return nil

	case pruneAll, pruneOlderThan > 0:
		cutoff := time.Now().Add(-pruneOlderThan)
		if pruneAll {
			// Rows may have been written a moment ago in the same millisecond
			cutoff = time.Now().Add(time.Second)
		}
		deleted, err := repo.DeleteRunsBefore(ctx, cutoff)
		if err != nil {
			return errors.Wrap(err, "prune failed")
		}
		fmt.Printf("Deleted %d rollouts\n", deleted)
		return nil

	default:
		return fmt.Errorf("must specify --older-than, --run, or --all")
	}
}
