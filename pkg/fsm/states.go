package fsm

import (
	"context"
	"fmt"
	"sync"

	"github.com/superfly/fsm"
	"github.com/thinger-io/thinger-ota/pkg/ota"
	"go.uber.org/zap"
)

// DefaultMaxRetries bounds how many times a state may be retried by the FSM manager
const DefaultMaxRetries = 3

// transfer is a device update in flight. ctx is the caller's context: cancelling
// the rollout must reach the engine even though the FSM manager runs handlers
// under its own context.
type transfer struct {
	ctx    context.Context
	engine *ota.Engine
}

// Machine holds the engines driven by the transfer FSM
type Machine struct {
	logger     *zap.Logger
	maxRetries int

	mu        sync.Mutex
	transfers map[string]*transfer
}

// NewMachine creates a new FSM machine
func NewMachine(maxRetries int, logger *zap.Logger) *Machine {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		logger:     logger,
		maxRetries: maxRetries,
		transfers:  make(map[string]*transfer),
	}
}

func (m *Machine) track(ctx context.Context, runID string, engine *ota.Engine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers[runID] = &transfer{ctx: ctx, engine: engine}
}

func (m *Machine) forget(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.transfers, runID)
}

func (m *Machine) lookup(runID string) (*transfer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[runID]
	return t, ok
}

func (m *Machine) handleInit(ctx context.Context, req *fsm.Request[TransferRequest, TransferResponse]) (*fsm.Response[TransferResponse], error) {
	return m.step(ctx, req, ota.PhaseInit)
}

func (m *Machine) handleBegin(ctx context.Context, req *fsm.Request[TransferRequest, TransferResponse]) (*fsm.Response[TransferResponse], error) {
	return m.step(ctx, req, ota.PhaseBegin)
}

func (m *Machine) handleWrite(ctx context.Context, req *fsm.Request[TransferRequest, TransferResponse]) (*fsm.Response[TransferResponse], error) {
	return m.step(ctx, req, ota.PhaseWrite)
}

func (m *Machine) handleEnd(ctx context.Context, req *fsm.Request[TransferRequest, TransferResponse]) (*fsm.Response[TransferResponse], error) {
	return m.step(ctx, req, ota.PhaseEnd)
}

// handleReboot is the last phase; a successful reboot completes the transfer
func (m *Machine) handleReboot(ctx context.Context, req *fsm.Request[TransferRequest, TransferResponse]) (*fsm.Response[TransferResponse], error) {
	return m.step(ctx, req, ota.PhaseReboot)
}

// step runs one engine phase. Device failures are not FSM errors: they finish the
// engine and the remaining states pass through, since a partially written image
// cannot be resumed by retrying a state.
func (m *Machine) step(ctx context.Context, req *fsm.Request[TransferRequest, TransferResponse], phase ota.Phase) (*fsm.Response[TransferResponse], error) {
	m.logger.Info("fsm_state_"+phase.String(), zap.String("run_id", req.Msg.RunID), zap.String("device", req.Msg.DeviceID))

	// Check retry limit
	if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(m.maxRetries) {
		m.logger.Error("max_retries_exceeded", zap.String("run_id", req.Msg.RunID), zap.Int("max_retries", m.maxRetries))
		return nil, fsm.Abort(fmt.Errorf("max retries (%d) exceeded", m.maxRetries))
	}

	t, ok := m.lookup(req.Msg.RunID)
	if !ok {
		m.logger.Error("transfer_not_found", zap.String("run_id", req.Msg.RunID))
		return nil, fsm.Abort(fmt.Errorf("transfer %s not found", req.Msg.RunID))
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &TransferResponse{}
	}

	if t.engine.State().Terminal() {
		m.logger.Debug("fsm_state_skipped", zap.String("run_id", req.Msg.RunID), zap.Stringer("phase", phase),
			zap.String("state", string(t.engine.State())))
		return fsm.NewResponse(resp), nil
	}

	err := t.engine.Step(t.ctx, phase)
	resp.Phase = phase.String()
	if err != nil || phase == ota.PhaseReboot {
		result := t.engine.Finish(err)
		resp.Outcome = string(result.Outcome)
		resp.Description = result.Description
		m.logger.Info("fsm_transfer_finished", zap.String("run_id", req.Msg.RunID),
			zap.String("outcome", resp.Outcome), zap.Stringer("phase", phase))
	}

	return fsm.NewResponse(resp), nil
}
