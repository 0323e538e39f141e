package ota

import (
	"context"
	"fmt"
	"time"

	"github.com/thinger-io/thinger-ota/pkg/api"
	"github.com/thinger-io/thinger-ota/pkg/firmware"
)

// Phase is a step of the device update protocol. Phases run in declaration order.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseBegin
	PhaseWrite
	PhaseEnd
	PhaseReboot
)

var phaseNames = [...]string{"init", "begin", "write", "end", "reboot"}

// String returns the lowercase phase name
func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// ParsePhase is the inverse of Phase.String
func ParsePhase(name string) (Phase, bool) {
	for i, n := range phaseNames {
		if n == name {
			return Phase(i), true
		}
	}
	return 0, false
}

// State is the engine state: a running phase or one of the absorbing outcomes
type State string

const (
	StatePending        State = "pending"
	StateInit           State = "init"
	StateBegin          State = "begin"
	StateWrite          State = "write"
	StateEnd            State = "end"
	StateReboot         State = "reboot"
	StateCancelled      State = "cancelled"
	StateFailed         State = "failed"
	StateAlreadyUpdated State = "already_updated"
	StateDone           State = "done"
)

// Terminal reports whether s is absorbing
func (s State) Terminal() bool {
	switch s {
	case StateCancelled, StateFailed, StateAlreadyUpdated, StateDone:
		return true
	}
	return false
}

func stateOf(p Phase) State {
	return State(p.String())
}

// Outcome is the terminal classification of a device update
type Outcome string

const (
	OutcomeSuccess        Outcome = "SUCCESS"
	OutcomeFailure        Outcome = "FAILURE"
	OutcomeAlreadyUpdated Outcome = "ALREADY_UPDATED"
)

// Result describes how one device update ended
type Result struct {
	DeviceID    string        `json:"device" yaml:"device"`
	Outcome     Outcome       `json:"result" yaml:"result"`
	Description string        `json:"description" yaml:"description"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
	State       State         `json:"state" yaml:"state"`
	BytesSent   int           `json:"bytes_sent" yaml:"bytes_sent"`

	// Compression is the scheme actually used on the wire, empty when the image was
	// sent as is.
	Compression string `json:"compression,omitempty" yaml:"compression,omitempty"`
}

// Succeeded reports whether the device ended up running the image
func (r Result) Succeeded() bool {
	return r.Outcome == OutcomeSuccess || r.Outcome == OutcomeAlreadyUpdated
}

// Cancelled builds the result for a device that was never contacted
func Cancelled(deviceID string) Result {
	return Result{
		DeviceID:    deviceID,
		Outcome:     OutcomeFailure,
		Description: DescriptionCancelled,
		State:       StateCancelled,
	}
}

// TargetKind selects how a target ID is interpreted
type TargetKind string

const (
	TargetDevice  TargetKind = "device"
	TargetProduct TargetKind = "product"
)

// Target is the destination of a rollout
type Target struct {
	Kind TargetKind `json:"type" yaml:"type"`
	ID   string     `json:"id" yaml:"id"`
}

func (t Target) String() string {
	return string(t.Kind) + ": " + t.ID
}

// Reporter receives progress and outcome events. Implementations are passed to
// engines and orchestrators explicitly.
type Reporter interface {
	InitReport(target Target, image *firmware.Image)
	LogCompressionResult(scheme string, originalSize, compressedSize int)
	LogProgress(deviceID string, percent float64)
	LogResult(result Result)
	EndReport()
}

// FleetProgressReporter is implemented by reporters that track rollout progress
// across devices.
type FleetProgressReporter interface {
	LogFleetProgress(done, total int)
}

// NopReporter discards every event
type NopReporter struct{}

func (NopReporter) InitReport(Target, *firmware.Image) {}
func (NopReporter) LogCompressionResult(string, int, int) {}
func (NopReporter) LogProgress(string, float64) {}
func (NopReporter) LogResult(Result) {}
func (NopReporter) EndReport() {}

// DeviceClient is the device side of the OTA resource protocol. *api.Client
// implements it.
type DeviceClient interface {
	DeviceOTAOptions(ctx context.Context, device string) (*api.DeviceOTAOptions, error)
	BeginDeviceOTA(ctx context.Context, device string, options *api.OTAOptions) (*api.OTAResult, error)
	WriteDeviceOTA(ctx context.Context, device string, chunk []byte) (*api.OTAResult, error)
	EndDeviceOTA(ctx context.Context, device string) (*api.OTAResult, error)
	RebootDeviceOTA(ctx context.Context, device string) error
}

// Runner drives an engine to completion. Engine.Run is the in-process runner; the
// fsm package provides a journaled one.
type Runner interface {
	Run(ctx context.Context, engine *Engine) Result
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, engine *Engine) Result

// Run implements Runner
func (f RunnerFunc) Run(ctx context.Context, engine *Engine) Result {
	return f(ctx, engine)
}

// Direct runs engines in the calling goroutine
var Direct Runner = RunnerFunc(func(ctx context.Context, engine *Engine) Result {
	return engine.Run(ctx)
})
