package commands

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/superfly/fsm"
	"github.com/thinger-io/thinger-ota/internal/config"
	"github.com/thinger-io/thinger-ota/internal/logging"
	"github.com/thinger-io/thinger-ota/pkg/db"
	"github.com/thinger-io/thinger-ota/pkg/errors"
	"github.com/thinger-io/thinger-ota/pkg/firmware"
	"github.com/thinger-io/thinger-ota/pkg/fleet"
	appfsm "github.com/thinger-io/thinger-ota/pkg/fsm"
	"github.com/thinger-io/thinger-ota/pkg/ota"
	"github.com/thinger-io/thinger-ota/pkg/report"
	"github.com/thinger-io/thinger-ota/pkg/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	pushDevice      string
	pushProduct     string
	pushFile        string
	pushProjectDir  string
	pushEnv         string
	pushBuild       bool
	pushS3Key       string
	pushVersion     string
	pushChunkSize   int
	pushYes         bool
	pushProgress    bool
	pushOutput      string
	pushMetricsAddr string
)

var pushCmd = &cobra.Command{
	Use:   "push (--device <id> | --product <id>)",
	Short: "Push a firmware image to a device or to every device of a product",
	Long: `Push a firmware image to a device or to every device of a product.

The image is taken from one of:
  --file <path>        a firmware binary
  --s3-key <key>       an object in --s3-bucket; a key ending in "/" picks the newest .bin
  --project <dir>      a PlatformIO build (.pio/build/<env>/firmware.bin), the default

Devices are updated one at a time. Ctrl-C stops the rollout after the current request.`,
	Args: cobra.NoArgs,
	RunE: runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)
	pushCmd.Flags().StringVar(&pushDevice, "device", "", "Target device ID")
	pushCmd.Flags().StringVar(&pushProduct, "product", "", "Target product ID")
	pushCmd.Flags().StringVar(&pushFile, "file", "", "Firmware binary")
	pushCmd.Flags().StringVar(&pushProjectDir, "project", ".", "PlatformIO project directory")
	pushCmd.Flags().StringVar(&pushEnv, "env", "", "Firmware environment (PlatformIO env or label)")
	pushCmd.Flags().BoolVar(&pushBuild, "build", false, "Run the PlatformIO build first")
	pushCmd.Flags().StringVar(&pushS3Key, "s3-key", "", "Firmware object key in --s3-bucket")
	pushCmd.Flags().StringVar(&pushVersion, "firmware-version", "", "Firmware version sent to the devices (semver)")
	pushCmd.Flags().IntVar(&pushChunkSize, "chunk-size", 0, "Chunk size when the device reports none (default 8192)")
	pushCmd.Flags().BoolVarP(&pushYes, "yes", "y", false, "Do not ask for confirmation")
	pushCmd.Flags().BoolVar(&pushProgress, "progress", false, "Show a progress bar per device")
	pushCmd.Flags().StringVarP(&pushOutput, "output", "o", formatTable, "Result format: table, json or yaml")
	pushCmd.Flags().StringVar(&pushMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the rollout")
}

func runPush(cmd *cobra.Command, args []string) error {
	target, err := pushTarget()
	if err != nil {
		return err
	}
	if err := validOutput(pushOutput); err != nil {
		return err
	}

	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("chunk-size") {
		cfg.ChunkSize = pushChunkSize
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = pushMetricsAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.Named("push")
	validator := newValidator(cfg)

	provider, err := firmwareProvider(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	image, err := firmware.Load(ctx, provider, validator)
	if err != nil {
		return errors.Wrap(err, "firmware load failed")
	}

	if !pushYes {
		ok, err := confirmPush(target, image)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "Aborted")
			return nil
		}
	}

	fsmDir := ""
	if cfg.FSMEnabled {
		fsmDir = cfg.FSMDBPath
	}
	if err := ensureDirectories(cfg.SQLitePath, fsmDir); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath, logging.Named("db"))
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	// The rollout log goes to stderr when stdout carries machine readable results
	var out io.Writer = os.Stdout
	if pushOutput != formatTable {
		out = os.Stderr
	}
	text := report.NewText(out)
	text.ShowProgress = pushProgress
	metrics := report.NewMetrics()
	history := report.NewHistory(context.WithoutCancel(ctx), repo, logging.Named("history"))

	runner := ota.Direct
	if cfg.FSMEnabled {
		manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
		if err != nil {
			return errors.Wrap(err, "FSM manager failed")
		}
		defer manager.Shutdown(10 * time.Second)

		fsmRunner, err := appfsm.NewRunner(ctx, manager, cfg.FSMMaxRetries, logging.Named("fsm"))
		if err != nil {
			return errors.Wrap(err, "FSM register failed")
		}
		runner = fsmRunner
	}

	orchestrator := fleet.New(newAPIClient(cfg), report.NewMulti(text, metrics, history), fleet.Options{
		Runner: runner,
		Engine: ota.Options{
			DefaultChunkSize: cfg.ChunkSize,
			Validator:        validator,
			Logger:           logging.Named("ota"),
		},
		Logger: logging.Named("fleet"),
	})

	var server *http.Server
	var listener net.Listener
	if cfg.MetricsAddr != "" {
		server, listener, err = listenMetrics(cfg.MetricsAddr, metrics.Handler())
		if err != nil {
			return err
		}
	}

	var results []ota.Result
	var g errgroup.Group

	if server != nil {
		g.Go(func() error {
			logger.Info("metrics_server_start", zap.String("addr", listener.Addr().String()))
			if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics_server_failed", zap.Error(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		if server != nil {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				server.Shutdown(shutdownCtx)
			}()
		}

		var err error
		results, err = orchestrator.Run(ctx, target, image)
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if err := history.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: rollout history incomplete: %v\n", err)
	}

	if pushOutput != formatTable {
		if err := printOutput(os.Stdout, pushOutput, results, nil); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		return errors.NewCancelledError("push", ctx.Err())
	}
	if failed := countFailures(results); failed > 0 {
		return fmt.Errorf("%d of %d device updates failed (run %s)", failed, len(results), history.RunID())
	}
	return nil
}

// pushTarget builds the rollout target from --device and --product
func pushTarget() (ota.Target, error) {
	switch {
	case pushDevice != "" && pushProduct != "":
		return ota.Target{}, errors.NewConfigurationError("use either --device or --product, not both")
	case pushDevice != "":
		return ota.Target{Kind: ota.TargetDevice, ID: pushDevice}, nil
	case pushProduct != "":
		return ota.Target{Kind: ota.TargetProduct, ID: pushProduct}, nil
	default:
		return ota.Target{}, errors.NewConfigurationError("a target is required: --device <id> or --product <id>")
	}
}

// firmwareProvider selects where the image comes from. At most one of --file and
// --s3-key may be given; without either the PlatformIO build is used.
func firmwareProvider(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (firmware.Provider, error) {
	useS3 := cmd.Flags().Changed("s3-key")
	if pushFile != "" && useS3 {
		return nil, errors.NewConfigurationError("use either --file or --s3-key, not both")
	}

	switch {
	case pushFile != "":
		return &firmware.FileProvider{Path: pushFile, Environment: pushEnv, Version: pushVersion}, nil

	case useS3:
		if cfg.S3Bucket == "" {
			return nil, errors.NewConfigurationError("--s3-key requires --s3-bucket")
		}
		client, err := storage.NewClient(ctx, storage.Options{Bucket: cfg.S3Bucket, Region: cfg.S3Region}, logging.Named("s3"))
		if err != nil {
			return nil, errors.Wrap(err, "S3 client failed")
		}
		return &firmware.S3Provider{
			Client:      client,
			Key:         pushS3Key,
			Environment: pushEnv,
			Version:     pushVersion,
			MaxSize:     cfg.MaxFirmwareSize,
		}, nil

	default:
		return &firmware.PlatformIOProvider{
			ProjectDir:  pushProjectDir,
			Environment: pushEnv,
			Version:     pushVersion,
			Build:       pushBuild,
			Stdout:      os.Stderr,
			Stderr:      os.Stderr,
			Logger:      logging.Named("platformio"),
		}, nil
	}
}

func confirmPush(target ota.Target, image *firmware.Image) (bool, error) {
	version := image.Version
	if version == "" {
		version = "unknown version"
	}

	var ok bool
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Push %s (%s, %d bytes) to %s?", image.Environment, version, image.Size(), target)).
			Affirmative("Push").
			Negative("Cancel").
			Value(&ok),
	)).Run()
	if err != nil {
		return false, errors.Wrap(err, "confirmation failed")
	}
	return ok, nil
}

// listenMetrics binds addr for the metrics endpoint. The rollout only starts once the
// address is held.
func listenMetrics(addr string, handler http.Handler) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, errors.Wrap(err, "metrics listen failed")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	return &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}, ln, nil
}

func countFailures(results []ota.Result) int {
	failed := 0
	for _, r := range results {
		if !r.Succeeded() {
			failed++
		}
	}
	return failed
}
