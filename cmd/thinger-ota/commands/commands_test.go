package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinger-io/thinger-ota/internal/config"
	"github.com/thinger-io/thinger-ota/pkg/api"
	"github.com/thinger-io/thinger-ota/pkg/db"
	"github.com/thinger-io/thinger-ota/pkg/errors"
	"github.com/thinger-io/thinger-ota/pkg/firmware"
	"github.com/thinger-io/thinger-ota/pkg/lzss"
	"github.com/thinger-io/thinger-ota/pkg/ota"
	"gopkg.in/yaml.v3"
)

func setTarget(t *testing.T, device, product string) {
	t.Helper()
	pushDevice, pushProduct = device, product
	t.Cleanup(func() { pushDevice, pushProduct = "", "" })
}

func TestPushTarget(t *testing.T) {
	tests := []struct {
		name    string
		device  string
		product string
		want    ota.Target
		wantErr bool
	}{
		{"device", "esp32", "", ota.Target{Kind: ota.TargetDevice, ID: "esp32"}, false},
		{"product", "", "greenhouse", ota.Target{Kind: ota.TargetProduct, ID: "greenhouse"}, false},
		{"both", "esp32", "greenhouse", ota.Target{}, true},
		{"none", "", "", ota.Target{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setTarget(t, tt.device, tt.product)
			got, err := pushTarget()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsKind(err, errors.KindConfiguration))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFirmwareProviderSelection(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{MaxFirmwareSize: 1024}

	t.Run("platformio by default", func(t *testing.T) {
		p, err := firmwareProvider(ctx, pushCmd, cfg)
		require.NoError(t, err)
		assert.IsType(t, &firmware.PlatformIOProvider{}, p)
	})

	t.Run("file", func(t *testing.T) {
		pushFile = "firmware.bin"
		t.Cleanup(func() { pushFile = "" })

		p, err := firmwareProvider(ctx, pushCmd, cfg)
		require.NoError(t, err)
		assert.Equal(t, "firmware.bin", p.(*firmware.FileProvider).Path)
	})

	t.Run("s3 needs a bucket", func(t *testing.T) {
		require.NoError(t, pushCmd.Flags().Set("s3-key", "builds/"))
		t.Cleanup(func() {
			pushS3Key = ""
			pushCmd.Flags().Lookup("s3-key").Changed = false
		})

		_, err := firmwareProvider(ctx, pushCmd, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--s3-bucket")

		pushFile = "firmware.bin"
		defer func() { pushFile = "" }()
		_, err = firmwareProvider(ctx, pushCmd, cfg)
		assert.Error(t, err)
	})
}

func TestPrintOutput(t *testing.T) {
	results := []ota.Result{{DeviceID: "A", Outcome: ota.OutcomeSuccess, Description: "OK", State: ota.StateDone}}

	var buf bytes.Buffer
	require.NoError(t, printOutput(&buf, formatJSON, results, nil))
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "A", decoded[0]["device"])
	assert.Equal(t, "SUCCESS", decoded[0]["result"])

	buf.Reset()
	require.NoError(t, printOutput(&buf, formatYAML, results, nil))
	var fromYAML []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Equal(t, "OK", fromYAML[0]["description"])

	called := false
	require.NoError(t, printOutput(&buf, formatTable, results, func(io.Writer) { called = true }))
	assert.True(t, called)

	err := printOutput(&buf, "xml", results, nil)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))
	assert.Error(t, validOutput("csv"))
	assert.NoError(t, validOutput(formatYAML))
}

func TestPrintDevices(t *testing.T) {
	var buf bytes.Buffer
	printDevices(&buf, []api.Device{
		{Device: "A", Name: "Greenhouse A", Connection: &api.Connection{Active: true}},
		{Device: "B"},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "DEVICE")
	assert.True(t, strings.HasPrefix(lines[1], "●"), lines[1])
	assert.Contains(t, lines[1], "Greenhouse A")
	assert.True(t, strings.HasPrefix(lines[2], "○"), lines[2])
	assert.Contains(t, lines[2], " -")

	buf.Reset()
	printDevices(&buf, nil)
	assert.Equal(t, "No devices found\n", buf.String())
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	printRuns(&buf, []*db.Run{{ID: "run-1", TargetType: "product", TargetID: "greenhouse", Status: db.StatusCompleted,
		SuccessCount: 2, FailureCount: 1, Environment: "esp32dev"}})
	assert.Contains(t, buf.String(), "product: greenhouse")
	assert.Contains(t, buf.String(), "2/1")

	buf.Reset()
	printResults(&buf, []*db.Result{{DeviceID: "A", Outcome: "SUCCESS", DurationMS: 1500, Description: "OK"}})
	assert.Contains(t, buf.String(), "1 s 500 ms")
}

func TestListenMetrics(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	_, _, err = listenMetrics(busy.Addr().String(), http.NotFoundHandler())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics listen failed")

	server, ln, err := listenMetrics("127.0.0.1:0", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "thinger_ota_rollouts_total 1\n")
	}))
	require.NoError(t, err)
	go server.Serve(ln)
	defer server.Close()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "thinger_ota_rollouts_total")
}

func TestCountFailures(t *testing.T) {
	results := []ota.Result{
		{Outcome: ota.OutcomeSuccess},
		{Outcome: ota.OutcomeAlreadyUpdated},
		{Outcome: ota.OutcomeFailure},
	}
	assert.Equal(t, 1, countFailures(results))
	assert.Zero(t, countFailures(nil))
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, ensureDirectories(filepath.Join(dir, "db", "history.db"), filepath.Join(dir, "fsm")))

	for _, p := range []string{"db", "fsm"} {
		info, err := os.Stat(filepath.Join(dir, p))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestLZSSTransform(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "firmware.bin")
	packed := filepath.Join(dir, "firmware.lzss")
	unpacked := filepath.Join(dir, "firmware.out")
	data := bytes.Repeat([]byte("thinger ota "), 200)
	require.NoError(t, os.WriteFile(input, data, 0o644))

	require.NoError(t, transform(input, packed, lzss.CompressFile, "compressed"))
	require.NoError(t, transform(packed, unpacked, lzss.DecompressFile, "decompressed"))

	got, err := os.ReadFile(unpacked)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	assert.Equal(t, "thinger-ota dev\n", buf.String())
}
