package security

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/mod/semver"
)

// Validator enforces limits on firmware images and negotiated transfer parameters
type Validator struct {
	maxFirmwareSize int64
	minChunkSize    int
	maxChunkSize    int

	logger *zap.Logger
}

// NewValidator creates a new security validator
func NewValidator(maxFirmwareSize int64, minChunkSize, maxChunkSize int, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("security_validator_init",
		zap.Int64("max_firmware_size_kb", maxFirmwareSize/1024),
		zap.Int("min_chunk_size", minChunkSize),
		zap.Int("max_chunk_size", maxChunkSize))

	return &Validator{
		maxFirmwareSize: maxFirmwareSize,
		minChunkSize:    minChunkSize,
		maxChunkSize:    maxChunkSize,
		logger:          logger,
	}
}

// ValidateFirmwareSize rejects empty images and images above the configured maximum
func (v *Validator) ValidateFirmwareSize(size int64) error {
	if size <= 0 {
		v.logger.Error("security_firmware_validation_failed", zap.String("reason", "empty_image"))
		return fmt.Errorf("security: firmware image is empty")
	}
	if size > v.maxFirmwareSize {
		v.logger.Error("security_firmware_size_exceeded",
			zap.Int64("firmware_size", size),
			zap.Int64("max_firmware_size", v.maxFirmwareSize))
		return fmt.Errorf("security: firmware size %d exceeds max %d", size, v.maxFirmwareSize)
	}
	return nil
}

// ValidateChunkSize checks a block size against the configured bounds
func (v *Validator) ValidateChunkSize(size int) error {
	if size < v.minChunkSize || size > v.maxChunkSize {
		return fmt.Errorf("security: chunk size %d outside [%d, %d]", size, v.minChunkSize, v.maxChunkSize)
	}
	return nil
}

// ChunkSize returns the chunk size to use for a device reporting size. Devices that
// report none get def; sizes above the maximum are capped. Small sizes are kept since
// the device buffer cannot take more.
func (v *Validator) ChunkSize(size, def int) int {
	switch {
	case size <= 0:
		return def
	case size > v.maxChunkSize:
		v.logger.Warn("security_chunk_size_capped",
			zap.Int("chunk_size", size),
			zap.Int("max_chunk_size", v.maxChunkSize))
		return v.maxChunkSize
	case size < v.minChunkSize:
		v.logger.Warn("security_chunk_size_small",
			zap.Int("chunk_size", size),
			zap.Int("min_chunk_size", v.minChunkSize))
	}
	return size
}

// ValidateVersion accepts an empty version or a semantic version with or without the
// leading "v".
func (v *Validator) ValidateVersion(version string) error {
	if version == "" {
		return nil
	}
	if !semver.IsValid(canonicalPrefix(version)) {
		return fmt.Errorf("security: invalid firmware version %q", version)
	}
	return nil
}

// CompareVersions orders two semantic versions; invalid versions sort first
func CompareVersions(a, b string) int {
	return semver.Compare(canonicalPrefix(a), canonicalPrefix(b))
}

// AcceptCompression reports whether a compressed payload is worth sending
func (v *Validator) AcceptCompression(originalSize, compressedSize int) bool {
	if compressedSize <= 0 {
		v.logger.Warn("security_compression_rejected", zap.String("reason", "empty_result"))
		return false
	}
	if compressedSize >= originalSize {
		v.logger.Info("security_compression_rejected",
			zap.String("reason", "no_gain"),
			zap.Int("original_size", originalSize),
			zap.Int("compressed_size", compressedSize))
		return false
	}
	return true
}

func canonicalPrefix(version string) string {
	if strings.HasPrefix(version, "v") {
		return version
	}
	return "v" + version
}
