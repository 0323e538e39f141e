// Package fleet rolls a firmware image out to every device of a target, one device
// at a time.
package fleet

import (
	"context"
	"time"

	"github.com/thinger-io/thinger-ota/pkg/api"
	"github.com/thinger-io/thinger-ota/pkg/errors"
	"github.com/thinger-io/thinger-ota/pkg/firmware"
	"github.com/thinger-io/thinger-ota/pkg/ota"
	"go.uber.org/zap"
)

// Client is the server API needed for a rollout. *api.Client implements it.
type Client interface {
	ota.DeviceClient
	ProductDevices(ctx context.Context, product string) ([]api.Device, error)
}

// Options configures an Orchestrator
type Options struct {
	// Runner drives each engine; ota.Direct when nil
	Runner ota.Runner

	// Engine is passed to every engine the orchestrator creates
	Engine ota.Options

	Logger *zap.Logger
}

// Orchestrator runs one engine per device, strictly in sequence
type Orchestrator struct {
	client   Client
	reporter ota.Reporter
	runner   ota.Runner
	engine   ota.Options
	logger   *zap.Logger
}

// New creates an orchestrator. reporter may be nil.
func New(client Client, reporter ota.Reporter, opts Options) *Orchestrator {
	if reporter == nil {
		reporter = ota.NopReporter{}
	}
	if opts.Runner == nil {
		opts.Runner = ota.Direct
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Engine.Logger == nil {
		opts.Engine.Logger = opts.Logger
	}
	return &Orchestrator{
		client:   client,
		reporter: reporter,
		runner:   opts.Runner,
		engine:   opts.Engine,
		logger:   opts.Logger,
	}
}

// Resolve returns the device IDs addressed by target. A product is expanded with a
// single listing call.
func (o *Orchestrator) Resolve(ctx context.Context, target ota.Target) ([]string, error) {
	if target.ID == "" {
		return nil, errors.NewConfigurationError("missing " + string(target.Kind) + " id")
	}

	switch target.Kind {
	case ota.TargetDevice:
		return []string{target.ID}, nil
	case ota.TargetProduct:
		devices, err := o.client.ProductDevices(ctx, target.ID)
		if err != nil {
			o.logger.Error("fleet_list_devices_failed", zap.String("product", target.ID), zap.Error(err))
			return nil, errors.Wrap(err, "failed to list product devices")
		}
		if len(devices) == 0 {
			return nil, errors.NewConfigurationError("no devices found in product " + target.ID)
		}
		ids := make([]string, 0, len(devices))
		for _, d := range devices {
			ids = append(ids, d.Device)
		}
		return ids, nil
	default:
		return nil, errors.NewConfigurationError("target type not supported: " + string(target.Kind))
	}
}

// Run updates every device of target with image and returns one result per device in
// listing order. Device failures do not stop the rollout. Once ctx is cancelled, the
// remaining devices are reported as cancelled without being contacted.
func (o *Orchestrator) Run(ctx context.Context, target ota.Target, image *firmware.Image) ([]ota.Result, error) {
	ids, err := o.Resolve(ctx, target)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	o.logger.Info("fleet_rollout_start",
		zap.Stringer("target", target),
		zap.Int("devices", len(ids)),
		zap.String("environment", image.Environment),
		zap.String("version", image.Version))

	o.reporter.InitReport(target, image)
	progress, _ := o.reporter.(ota.FleetProgressReporter)

	results := make([]ota.Result, 0, len(ids))
	for i, id := range ids {
		var result ota.Result
		if ctx.Err() != nil {
			result = ota.Cancelled(id)
		} else {
			engine := ota.NewEngine(o.client, id, image, o.reporter, o.engine)
			result = o.runner.Run(ctx, engine)
		}

		results = append(results, result)
		o.reporter.LogResult(result)
		if progress != nil {
			progress.LogFleetProgress(i+1, len(ids))
		}
	}

	o.reporter.EndReport()

	succeeded := 0
	for _, r := range results {
		if r.Succeeded() {
			succeeded++
		}
	}
	o.logger.Info("fleet_rollout_complete",
		zap.Stringer("target", target),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", len(results)-succeeded),
		zap.Duration("elapsed", time.Since(start)))

	return results, nil
}
