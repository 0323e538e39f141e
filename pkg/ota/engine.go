// Package ota drives a single device through the firmware update protocol.
//
// An update runs the phases INIT, BEGIN, WRITE, END and REBOOT in that order. INIT
// negotiates chunk size, compression and checksum with the device. WRITE streams the
// payload in ascending chunks, one request in flight at a time. Any failure ends the
// update; nothing is retried or resumed.
package ota

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/thinger-io/thinger-ota/pkg/api"
	"github.com/thinger-io/thinger-ota/pkg/codec"
	"github.com/thinger-io/thinger-ota/pkg/errors"
	"github.com/thinger-io/thinger-ota/pkg/firmware"
	"github.com/thinger-io/thinger-ota/pkg/security"
	"go.uber.org/zap"
)

// DefaultChunkSize is used when the device does not report a usable block size
const DefaultChunkSize = 8192

// Descriptions shared by several phases
const (
	DescriptionOK             = "OK"
	DescriptionCancelled      = "Operation cancelled"
	DescriptionAlreadyUpdated = "Firmware version is already up-to-date"
)

// ErrAlreadyUpdated ends an update whose device already runs the image version
var ErrAlreadyUpdated = errors.New("firmware already up-to-date")

// Failure is a phase failure carrying the description shown to the user
type Failure struct {
	Phase       Phase
	Description string
	Err         error
}

func (f *Failure) Error() string {
	return f.Description
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Options tunes an Engine
type Options struct {
	// DefaultChunkSize applies when the device reports no usable block size
	DefaultChunkSize int

	// Validator bounds the device block size and decides whether compression pays
	// off. Optional.
	Validator *security.Validator

	Logger *zap.Logger
}

// Engine updates one device with one image. An Engine is single use and not safe
// for concurrent use; nothing in it is shared with other engines.
type Engine struct {
	device   DeviceClient
	deviceID string
	image    *firmware.Image
	reporter Reporter
	opts     Options
	logger   *zap.Logger

	next    Phase
	state   State
	started time.Time

	options     api.OTAOptions
	chunkSize   int
	payload     []byte
	compression string
	sent        int

	result *Result
}

// NewEngine creates an engine for deviceID. reporter may be nil.
func NewEngine(device DeviceClient, deviceID string, image *firmware.Image, reporter Reporter, opts Options) *Engine {
	if reporter == nil {
		reporter = NopReporter{}
	}
	if opts.DefaultChunkSize <= 0 {
		opts.DefaultChunkSize = DefaultChunkSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		device:   device,
		deviceID: deviceID,
		image:    image,
		reporter: reporter,
		opts:     opts,
		logger:   logger.With(zap.String("device", deviceID)),
		state:    StatePending,
	}
}

// DeviceID returns the device this engine updates
func (e *Engine) DeviceID() string {
	return e.deviceID
}

// State returns the current engine state
func (e *Engine) State() State {
	return e.state
}

// Options returns the transfer options negotiated during INIT
func (e *Engine) Options() api.OTAOptions {
	return e.options
}

// BytesSent returns how much of the payload the device has accepted
func (e *Engine) BytesSent() int {
	return e.sent
}

// Steps returns the phases in the order they must be executed
func (e *Engine) Steps() []Phase {
	return []Phase{PhaseInit, PhaseBegin, PhaseWrite, PhaseEnd, PhaseReboot}
}

// Run executes every phase and returns the outcome. It never returns an error;
// failures are described in the result.
func (e *Engine) Run(ctx context.Context) Result {
	for _, phase := range e.Steps() {
		if err := e.Step(ctx, phase); err != nil {
			return e.Finish(err)
		}
	}
	return e.Finish(nil)
}

// Step executes a single phase. Phases must be stepped in order and at most once.
// A non-nil error ends the update and should be handed to Finish.
func (e *Engine) Step(ctx context.Context, phase Phase) error {
	if e.state.Terminal() || phase != e.next {
		return fmt.Errorf("phase %s out of order (state %s)", phase, e.state)
	}
	if phase == PhaseInit {
		e.started = time.Now()
	}
	if err := ctx.Err(); err != nil {
		return errors.NewCancelledError(phase.String(), err)
	}

	e.state = stateOf(phase)
	e.next = phase + 1
	e.logger.Debug("ota_phase_start", zap.Stringer("phase", phase))

	var err error
	switch phase {
	case PhaseInit:
		err = e.init(ctx)
	case PhaseBegin:
		err = e.begin(ctx)
	case PhaseWrite:
		err = e.write(ctx)
	case PhaseEnd:
		err = e.end(ctx)
	case PhaseReboot:
		err = e.reboot(ctx)
	}

	if err != nil && !errors.Is(err, ErrAlreadyUpdated) {
		e.logger.Warn("ota_phase_failed", zap.Stringer("phase", phase), zap.Error(err))
	}
	return err
}

// Finish converts the error that ended the update, nil on success, into the final
// result. Subsequent calls return the same result.
func (e *Engine) Finish(err error) Result {
	if e.result != nil {
		return *e.result
	}

	r := Result{
		DeviceID:    e.deviceID,
		BytesSent:   e.sent,
		Compression: e.compression,
	}
	if !e.started.IsZero() {
		r.Duration = time.Since(e.started)
	}

	var failure *Failure
	switch {
	case err == nil:
		r.Outcome, r.Description, r.State = OutcomeSuccess, DescriptionOK, StateDone
	case errors.Is(err, ErrAlreadyUpdated):
		r.Outcome, r.Description, r.State = OutcomeAlreadyUpdated, DescriptionAlreadyUpdated, StateAlreadyUpdated
	case errors.IsCancelled(err):
		r.Outcome, r.Description, r.State = OutcomeFailure, DescriptionCancelled, StateCancelled
	case errors.As(err, &failure):
		r.Outcome, r.Description, r.State = OutcomeFailure, failure.Description, StateFailed
	default:
		r.Outcome, r.Description, r.State = OutcomeFailure, err.Error(), StateFailed
	}

	e.state = r.State
	e.result = &r

	e.logger.Info("ota_finished",
		zap.String("outcome", string(r.Outcome)),
		zap.String("description", r.Description),
		zap.Duration("duration", r.Duration),
		zap.Int("bytes_sent", r.BytesSent))

	return r
}

func (e *Engine) init(ctx context.Context) error {
	e.options = api.OTAOptions{
		Firmware:  e.image.Environment,
		Version:   e.image.Version,
		Size:      e.image.Size(),
		ChunkSize: e.opts.DefaultChunkSize,
	}
	e.chunkSize = e.opts.DefaultChunkSize
	e.payload = e.image.Data

	caps, err := e.device.DeviceOTAOptions(ctx, e.deviceID)
	if err != nil {
		switch {
		case errors.IsCancelled(err):
			return err
		case errors.IsForbidden(err):
			return e.fail(PhaseInit, "Cannot retrieve device OTA options.", err)
		case errors.IsNotFound(err):
			return e.fail(PhaseInit, "Disconnected or not supporting OTA", err)
		default:
			return e.fail(PhaseInit, "Cannot initialize OTA: "+describe(err), err)
		}
	}

	e.logger.Debug("ota_options_received",
		zap.Bool("enabled", caps.Enabled),
		zap.Int("block_size", caps.ChunkSize(0)),
		zap.String("compression", caps.CompressionScheme()),
		zap.String("checksum", caps.ChecksumAlgorithm()),
		zap.String("version", caps.FirmwareVersion()))

	if v := caps.FirmwareVersion(); v != "" && v == e.image.Version {
		return ErrAlreadyUpdated
	}

	if !caps.Enabled {
		return e.fail(PhaseInit, "OTA disabled on device "+e.deviceID, nil)
	}

	if caps.BlockSize != nil {
		e.chunkSize = e.acceptChunkSize(*caps.BlockSize)
		e.options.ChunkSize = e.chunkSize
	}

	if scheme := caps.CompressionScheme(); scheme != "" {
		e.negotiateCompression(scheme)
	}

	switch algo := caps.ChecksumAlgorithm(); algo {
	case "":
	case "md5":
		e.options.Checksum = md5Hex(e.image.Data)
		if e.compression != "" {
			e.options.CompressedChecksum = md5Hex(e.payload)
		}
	default:
		e.logger.Warn("ota_checksum_unsupported", zap.String("checksum", algo))
	}

	return nil
}

func (e *Engine) acceptChunkSize(size int) int {
	if e.opts.Validator != nil {
		return e.opts.Validator.ChunkSize(size, e.opts.DefaultChunkSize)
	}
	if size <= 0 {
		return e.opts.DefaultChunkSize
	}
	return size
}

// negotiateCompression compresses the image with scheme and adopts the result when it
// is worth sending. Unsupported schemes and encoder errors leave the image as is.
func (e *Engine) negotiateCompression(scheme string) {
	if !codec.Supported(scheme) {
		e.logger.Warn("ota_compression_unsupported",
			zap.Error(errors.NewCodecError(scheme, codec.ErrUnsupported)))
		return
	}

	start := time.Now()
	packed, err := codec.Compress(scheme, e.image.Data)
	if err != nil {
		e.logger.Warn("ota_compression_failed", zap.String("scheme", scheme), zap.Error(err))
		return
	}

	e.reporter.LogCompressionResult(scheme, e.image.Size(), len(packed))
	e.logger.Info("ota_compression_complete",
		zap.String("scheme", scheme),
		zap.Int("original_size", e.image.Size()),
		zap.Int("compressed_size", len(packed)),
		zap.Duration("elapsed", time.Since(start)))

	if !e.worthCompressing(len(packed)) {
		return
	}

	e.payload = packed
	e.compression = scheme
	e.options.Compression = scheme
	e.options.CompressedSize = len(packed)
}

func (e *Engine) worthCompressing(compressedSize int) bool {
	if e.opts.Validator != nil {
		return e.opts.Validator.AcceptCompression(e.image.Size(), compressedSize)
	}
	return compressedSize > 0 && compressedSize < e.image.Size()
}

func (e *Engine) begin(ctx context.Context) error {
	e.logger.Debug("ota_begin",
		zap.String("firmware", e.options.Firmware),
		zap.Int("size", e.options.Size),
		zap.Int("chunk_size", e.options.ChunkSize),
		zap.String("compression", e.options.Compression))

	options := e.options
	ack, err := e.device.BeginDeviceOTA(ctx, e.deviceID, &options)
	if err != nil {
		if errors.IsCancelled(err) {
			return err
		}
		return e.fail(PhaseBegin, "Cannot begin OTA Upgrade: "+describe(err), err)
	}

	if !ack.Success {
		if ack.Error != "" {
			return e.reject(PhaseBegin, "Error while initializing OTA: "+ack.Error, ack.Error)
		}
		return e.reject(PhaseBegin, "Device cannot initialize OTA!", "")
	}
	return nil
}

func (e *Engine) write(ctx context.Context) error {
	total := len(e.payload)
	plan := ChunkPlan(total, e.chunkSize)

	e.logger.Info("ota_write_start",
		zap.Int("payload_size", total),
		zap.Int("chunk_size", e.chunkSize),
		zap.Int("chunks", len(plan)))

	for i, n := range plan {
		if err := ctx.Err(); err != nil {
			return errors.NewCancelledError(PhaseWrite.String(), err)
		}

		chunk := e.payload[e.sent : e.sent+n]
		ack, err := e.device.WriteDeviceOTA(ctx, e.deviceID, chunk)
		if err != nil {
			if errors.IsCancelled(err) {
				return err
			}
			return e.fail(PhaseWrite, "Error while writing to device: "+describe(err), err)
		}
		if !ack.Success {
			if ack.Error != "" {
				return e.reject(PhaseWrite, "Error while writing to device: "+ack.Error, ack.Error)
			}
			return e.reject(PhaseWrite, "Error while writing to device: invalid firmware part?", "")
		}

		e.sent += n
		e.reporter.LogProgress(e.deviceID, float64(e.sent)/float64(total)*100)
		e.logger.Debug("ota_chunk_written",
			zap.Int("chunk", i+1),
			zap.Int("chunks", len(plan)),
			zap.Int("bytes_sent", e.sent))
	}

	return nil
}

func (e *Engine) end(ctx context.Context) error {
	ack, err := e.device.EndDeviceOTA(ctx, e.deviceID)
	if err != nil {
		if errors.IsCancelled(err) {
			return err
		}
		return e.fail(PhaseEnd, "Error while ending OTA update: "+describe(err), err)
	}
	if !ack.Success {
		if ack.Error != "" {
			return e.reject(PhaseEnd, "Error while ending OTA update: "+ack.Error, ack.Error)
		}
		return e.reject(PhaseEnd, "Error while ending OTA update: bad image or checksum?", "")
	}
	return nil
}

// reboot failures are reported as FAILURE even though the image was accepted by END
func (e *Engine) reboot(ctx context.Context) error {
	if err := e.device.RebootDeviceOTA(ctx, e.deviceID); err != nil {
		if errors.IsCancelled(err) {
			return err
		}
		return e.fail(PhaseReboot, "Error while rebooting device: "+describe(err), err)
	}
	e.logger.Info("ota_device_rebooting")
	return nil
}

func (e *Engine) fail(phase Phase, description string, err error) error {
	return &Failure{Phase: phase, Description: description, Err: err}
}

// reject records an explicit failure response from the device
func (e *Engine) reject(phase Phase, description, deviceMessage string) error {
	return &Failure{
		Phase:       phase,
		Description: description,
		Err:         errors.NewProtocolError(phase.String(), deviceMessage),
	}
}

// describe renders a transport error without the request line
func describe(err error) string {
	var e *errors.Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
