// Package fsm runs device updates as a journaled superfly/fsm workflow. Each
// protocol phase is an FSM state; transitions are recorded in the manager's
// database so a rollout leaves an audit trail per device.
package fsm

import (
	"context"

	"github.com/google/uuid"
	"github.com/superfly/fsm"
	"github.com/thinger-io/thinger-ota/pkg/errors"
	"github.com/thinger-io/thinger-ota/pkg/ota"
	"go.uber.org/zap"
)

// Register registers the transfer FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[TransferRequest, TransferResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[TransferRequest, TransferResponse](manager, workflowName).
		Start(StateInit, m.handleInit).
		To(StateBegin, m.handleBegin).
		To(StateWrite, m.handleWrite).
		To(StateEnd, m.handleEnd).
		To(StateReboot, m.handleReboot).
		End(StateDone).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}

// Runner implements ota.Runner on top of an FSM manager
type Runner struct {
	machine *Machine
	manager *fsm.Manager
	start   fsm.Start[TransferRequest, TransferResponse]
}

// NewRunner registers the transfer FSM with manager
func NewRunner(ctx context.Context, manager *fsm.Manager, maxRetries int, logger *zap.Logger) (*Runner, error) {
	machine := NewMachine(maxRetries, logger)
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return nil, err
	}
	return &Runner{machine: machine, manager: manager, start: start}, nil
}

// Run drives engine through the FSM and returns its result
func (r *Runner) Run(ctx context.Context, engine *ota.Engine) ota.Result {
	runID := uuid.NewString()
	r.machine.track(ctx, runID, engine)
	defer r.machine.forget(runID)

	req := &TransferRequest{RunID: runID, DeviceID: engine.DeviceID()}
	resp := &TransferResponse{}

	version, err := r.start(ctx, runID, fsm.NewRequest(req, resp))
	if err != nil {
		return engine.Finish(errors.Wrap(err, "FSM start failed"))
	}

	r.machine.logger.Debug("fsm_started", zap.String("run_id", runID), zap.String("device", engine.DeviceID()),
		zap.Any("version", version))

	// The engine observes ctx itself; waiting past cancellation keeps the engine
	// owned by the FSM until its handler returns.
	if err := r.manager.Wait(context.WithoutCancel(ctx), version); err != nil {
		if ctx.Err() != nil {
			return engine.Finish(errors.NewCancelledError("fsm", ctx.Err()))
		}
		return engine.Finish(errors.Wrap(err, "FSM execution failed"))
	}

	return engine.Finish(nil)
}
