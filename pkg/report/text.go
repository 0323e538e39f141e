// Package report implements ota.Reporter sinks: a human readable log, Prometheus
// metrics and the SQLite run history.
package report

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/thinger-io/thinger-ota/pkg/firmware"
	"github.com/thinger-io/thinger-ota/pkg/ota"
)

var (
	successColor = lipgloss.Color("#43BF6D")
	errorColor   = lipgloss.Color("#FF5555")
	warningColor = lipgloss.Color("#FFA500")
	mutedColor   = lipgloss.Color("#626262")
)

// Text writes a timestamped log of a rollout, one line per event
type Text struct {
	// ShowProgress redraws a per-device progress line. Only useful on terminals.
	ShowProgress bool

	// Now is the clock used for timestamps and durations
	Now func() time.Time

	mu       sync.Mutex
	w        io.Writer
	started  time.Time
	success  int
	failure  int
	drawing  bool
	infoTag  lipgloss.Style
	errTag   lipgloss.Style
	warnTag  lipgloss.Style
	muted    lipgloss.Style
	okStyle  lipgloss.Style
	badStyle lipgloss.Style
}

// NewText creates a text reporter writing to w. Colors are only used when w is a
// terminal.
func NewText(w io.Writer) *Text {
	r := lipgloss.NewRenderer(w)
	return &Text{
		Now:      time.Now,
		w:        w,
		infoTag:  r.NewStyle().Foreground(successColor),
		errTag:   r.NewStyle().Foreground(errorColor).Bold(true),
		warnTag:  r.NewStyle().Foreground(warningColor),
		muted:    r.NewStyle().Foreground(mutedColor),
		okStyle:  r.NewStyle().Foreground(successColor).Bold(true),
		badStyle: r.NewStyle().Foreground(errorColor).Bold(true),
	}
}

// InitReport implements ota.Reporter
func (t *Text) InitReport(target ota.Target, image *firmware.Image) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.started = t.Now()
	t.success, t.failure = 0, 0

	t.line(t.infoTag, "info", fmt.Sprintf("OTA update process started for %s", target))

	version := image.Version
	if version == "" {
		version = "Unknown"
	}
	sum := image.SHA256
	if len(sum) > 12 {
		sum = sum[:12]
	}
	t.line(t.infoTag, "info", fmt.Sprintf("Firmware: %s. Version: %s. Size: %d bytes. SHA256: %s",
		image.Environment, version, image.Size(), t.muted.Render(sum)))
}

// LogCompressionResult implements ota.Reporter
func (t *Text) LogCompressionResult(scheme string, originalSize, compressedSize int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.line(t.infoTag, "info", fmt.Sprintf(
		"Compression: %s. Original size: %d bytes. Compressed size: %d bytes. Compression ratio: %s%%",
		strings.ToUpper(scheme), originalSize, compressedSize, Ratio(originalSize, compressedSize)))
}

// LogProgress implements ota.Reporter
func (t *Text) LogProgress(deviceID string, percent float64) {
	if !t.ShowProgress {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.w, "\r  %s %s %6.2f%%", deviceID, bar(percent, 30), percent)
	t.drawing = true
}

// LogResult implements ota.Reporter
func (t *Text) LogResult(result ota.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tag, level, desc := t.infoTag, "info", t.okStyle.Render(result.Description)
	if result.Succeeded() {
		t.success++
	} else {
		t.failure++
		tag, level, desc = t.errTag, "error", t.badStyle.Render(result.Description)
	}

	device := result.DeviceID
	if device == "" {
		device = "Unknown"
	}
	duration := "N/A"
	if result.Duration > 0 {
		duration = FormatDuration(result.Duration)
	}

	t.line(tag, level, fmt.Sprintf("Device: %s. Duration: %s. Description: %s", device, duration, desc))
}

// LogFleetProgress implements ota.FleetProgressReporter
func (t *Text) LogFleetProgress(done, total int) {
	if total <= 1 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.line(t.muted, "info", t.muted.Render(fmt.Sprintf("Progress: %d/%d devices", done, total)))
}

// EndReport implements ota.Reporter
func (t *Text) EndReport() {
	t.mu.Lock()
	defer t.mu.Unlock()

	tag, level := t.infoTag, "info"
	if t.failure > 0 {
		tag, level = t.warnTag, "warn"
	}
	t.line(tag, level, fmt.Sprintf("OTA update process completed. Total duration: %s. Success: %d, Failures: %d",
		FormatDuration(t.Now().Sub(t.started)), t.success, t.failure))
}

// Counts returns the successes and failures logged since InitReport
func (t *Text) Counts() (success, failure int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.success, t.failure
}

func (t *Text) line(tag lipgloss.Style, level, msg string) {
	if t.drawing {
		fmt.Fprintln(t.w)
		t.drawing = false
	}
	fmt.Fprintf(t.w, "%s %s %s\n", t.Now().UTC().Format("2006-01-02T15:04:05.000Z"), tag.Render("["+level+"]"), msg)
}

// FormatDuration renders d as "1 h 2 m 3 s 4 ms", omitting zero units
func FormatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	parts := []struct {
		value int64
		unit  string
	}{
		{ms / 3_600_000, "h"},
		{ms / 60_000 % 60, "m"},
		{ms / 1000 % 60, "s"},
		{ms % 1000, "ms"},
	}

	var out []string
	for _, p := range parts {
		if p.value > 0 {
			out = append(out, fmt.Sprintf("%d %s", p.value, p.unit))
		}
	}
	if len(out) == 0 {
		return "0 ms"
	}
	return strings.Join(out, " ")
}

// Ratio renders compressed/original as a percentage with two decimals
func Ratio(originalSize, compressedSize int) string {
	if originalSize <= 0 {
		return "0.00"
	}
	return fmt.Sprintf("%.2f", float64(compressedSize)/float64(originalSize)*100)
}

func bar(percent float64, width int) string {
	filled := int(percent / 100 * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(" ", width-filled) + "]"
}
