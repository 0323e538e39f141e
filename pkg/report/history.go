package report

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/thinger-io/thinger-ota/pkg/db"
	"github.com/thinger-io/thinger-ota/pkg/firmware"
	"github.com/thinger-io/thinger-ota/pkg/ota"
	"go.uber.org/zap"
)

// History records rollouts in the run history database. Storage errors are
// logged and kept in Err; they never interrupt a rollout.
type History struct {
	ctx    context.Context
	repo   *db.Repository
	logger *zap.Logger

	mu             sync.Mutex
	runID          string
	position       int
	success        int
	failure        int
	cancelled      bool
	compressedSize int
	err            error
}

// NewHistory creates a history reporter. ctx bounds database calls and should
// outlive the rollout so that cancelled runs are still recorded.
func NewHistory(ctx context.Context, repo *db.Repository, logger *zap.Logger) *History {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &History{ctx: ctx, repo: repo, logger: logger}
}

// RunID returns the ID of the current run, empty before InitReport
func (h *History) RunID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runID
}

// Err returns the first storage error, if any
func (h *History) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// InitReport implements ota.Reporter
func (h *History) InitReport(target ota.Target, image *firmware.Image) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.runID = uuid.NewString()
	h.position, h.success, h.failure, h.compressedSize = 0, 0, 0, 0
	h.cancelled = false

	run := &db.Run{
		ID:             h.runID,
		TargetType:     string(target.Kind),
		TargetID:       target.ID,
		Environment:    image.Environment,
		Version:        image.Version,
		FirmwarePath:   image.Path,
		FirmwareSHA256: image.SHA256,
		FirmwareSize:   int64(image.Size()),
	}
	if err := h.repo.CreateRun(h.ctx, run); err != nil {
		h.fail("history_create_run_failed", err)
		h.runID = ""
		return
	}
	h.logger.Debug("history_run_started", zap.String("run_id", h.runID), zap.Stringer("target", target))
}

// LogCompressionResult implements ota.Reporter
func (h *History) LogCompressionResult(_ string, _, compressedSize int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.compressedSize = compressedSize
}

// LogProgress implements ota.Reporter
func (h *History) LogProgress(string, float64) {}

// LogResult implements ota.Reporter
func (h *History) LogResult(result ota.Result) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if result.Succeeded() {
		h.success++
	} else {
		h.failure++
	}
	if result.State == ota.StateCancelled {
		h.cancelled = true
	}

	res := &db.Result{
		RunID:       h.runID,
		Position:    h.position,
		DeviceID:    result.DeviceID,
		Outcome:     string(result.Outcome),
		Description: result.Description,
		State:       string(result.State),
		DurationMS:  result.Duration.Milliseconds(),
		BytesSent:   int64(result.BytesSent),
		Compression: result.Compression,
	}
	if result.Compression != "" {
		res.CompressedSize = int64(h.compressedSize)
	}
	h.position++
	h.compressedSize = 0

	if h.runID == "" {
		return
	}
	if err := h.repo.AddResult(h.ctx, res); err != nil {
		h.fail("history_add_result_failed", err)
	}
}

// EndReport implements ota.Reporter
func (h *History) EndReport() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.runID == "" {
		return
	}
	status := db.StatusCompleted
	if h.cancelled {
		status = db.StatusCancelled
	}
	if err := h.repo.FinishRun(h.ctx, h.runID, status, h.success, h.failure, ""); err != nil {
		h.fail("history_finish_run_failed", err)
		return
	}
	h.logger.Debug("history_run_finished", zap.String("run_id", h.runID), zap.String("status", status),
		zap.Int("success", h.success), zap.Int("failure", h.failure))
}

func (h *History) fail(event string, err error) {
	h.logger.Warn(event, zap.String("run_id", h.runID), zap.Error(err))
	if h.err == nil {
		h.err = err
	}
}
