package report

import (
	"github.com/thinger-io/thinger-ota/pkg/firmware"
	"github.com/thinger-io/thinger-ota/pkg/ota"
)

// Multi forwards every event to each reporter in order
type Multi []ota.Reporter

// NewMulti builds a Multi, skipping nil reporters
func NewMulti(reporters ...ota.Reporter) Multi {
	var m Multi
	for _, r := range reporters {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}

func (m Multi) InitReport(target ota.Target, image *firmware.Image) {
	for _, r := range m {
		r.InitReport(target, image)
	}
}

func (m Multi) LogCompressionResult(scheme string, originalSize, compressedSize int) {
	for _, r := range m {
		r.LogCompressionResult(scheme, originalSize, compressedSize)
	}
}

func (m Multi) LogProgress(deviceID string, percent float64) {
	for _, r := range m {
		r.LogProgress(deviceID, percent)
	}
}

func (m Multi) LogResult(result ota.Result) {
	for _, r := range m {
		r.LogResult(result)
	}
}

// LogFleetProgress forwards to the reporters that track fleet progress
func (m Multi) LogFleetProgress(done, total int) {
	for _, r := range m {
		if f, ok := r.(ota.FleetProgressReporter); ok {
			f.LogFleetProgress(done, total)
		}
	}
}

func (m Multi) EndReport() {
	for _, r := range m {
		r.EndReport()
	}
}
