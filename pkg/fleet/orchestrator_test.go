package fleet

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinger-io/thinger-ota/pkg/api"
	"github.com/thinger-io/thinger-ota/pkg/errors"
	"github.com/thinger-io/thinger-ota/pkg/firmware"
	"github.com/thinger-io/thinger-ota/pkg/ota"
)

// fakeServer answers for every device; devices listed in failWrite reject their
// first chunk.
type fakeServer struct {
	products  map[string][]api.Device
	listErr   error
	failWrite map[string]bool

	calls []string
}

func (s *fakeServer) ProductDevices(ctx context.Context, product string) ([]api.Device, error) {
	s.calls = append(s.calls, "list:"+product)
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.products[product], nil
}

func (s *fakeServer) DeviceOTAOptions(ctx context.Context, device string) (*api.DeviceOTAOptions, error) {
	s.calls = append(s.calls, device+":options")
	return &api.DeviceOTAOptions{Enabled: true}, nil
}

func (s *fakeServer) BeginDeviceOTA(ctx context.Context, device string, _ *api.OTAOptions) (*api.OTAResult, error) {
	s.calls = append(s.calls, device+":begin")
	return &api.OTAResult{Success: true}, nil
}

func (s *fakeServer) WriteDeviceOTA(ctx context.Context, device string, _ []byte) (*api.OTAResult, error) {
	s.calls = append(s.calls, device+":write")
	if s.failWrite[device] {
		return &api.OTAResult{Success: false, Error: "flash error"}, nil
	}
	return &api.OTAResult{Success: true}, nil
}

func (s *fakeServer) EndDeviceOTA(ctx context.Context, device string) (*api.OTAResult, error) {
	s.calls = append(s.calls, device+":end")
	return &api.OTAResult{Success: true}, nil
}

func (s *fakeServer) RebootDeviceOTA(ctx context.Context, device string) error {
	s.calls = append(s.calls, device+":reboot")
	return nil
}

func (s *fakeServer) touched(device string) bool {
	for _, c := range s.calls {
		if strings.HasPrefix(c, device+":") {
			return true
		}
	}
	return false
}

type events struct {
	ota.NopReporter
	inits, ends int
	results     []ota.Result
	fleet       [][2]int
}

func (e *events) InitReport(ota.Target, *firmware.Image) { e.inits++ }
func (e *events) EndReport() { e.ends++ }
func (e *events) LogResult(r ota.Result) { e.results = append(e.results, r) }
func (e *events) LogFleetProgress(done, total int) { e.fleet = append(e.fleet, [2]int{done, total}) }

func greenhouse() *fakeServer {
	return &fakeServer{
		products: map[string][]api.Device{
			"greenhouse": {{Device: "A"}, {Device: "B"}, {Device: "C"}},
		},
		failWrite: map[string]bool{},
	}
}

var testImage = firmware.NewImage([]byte("firmware image"), "esp32dev", "1.0.0", "")

func TestProductRolloutContinuesAfterFailure(t *testing.T) {
	server := greenhouse()
	server.failWrite["B"] = true
	rec := &events{}

	results, err := New(server, rec, Options{}).Run(context.Background(),
		ota.Target{Kind: ota.TargetProduct, ID: "greenhouse"}, testImage)
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, "A", results[0].DeviceID)
	assert.Equal(t, ota.OutcomeSuccess, results[0].Outcome)
	assert.Equal(t, "B", results[1].DeviceID)
	assert.Equal(t, ota.OutcomeFailure, results[1].Outcome)
	assert.Equal(t, "Error while writing to device: flash error", results[1].Description)
	assert.Equal(t, "C", results[2].DeviceID)
	assert.Equal(t, ota.OutcomeSuccess, results[2].Outcome)
	assert.Contains(t, server.calls, "C:reboot")

	assert.Equal(t, 1, rec.inits)
	assert.Equal(t, 1, rec.ends)
	assert.Equal(t, results, rec.results)
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, rec.fleet)
}

func TestCancellationStopsDispatch(t *testing.T) {
	server := greenhouse()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := ota.RunnerFunc(func(ctx context.Context, engine *ota.Engine) ota.Result {
		result := engine.Run(ctx)
		cancel()
		return result
	})

	results, err := New(server, nil, Options{Runner: runner}).Run(ctx,
		ota.Target{Kind: ota.TargetProduct, ID: "greenhouse"}, testImage)
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, ota.OutcomeSuccess, results[0].Outcome)
	for _, r := range results[1:] {
		assert.Equal(t, ota.OutcomeFailure, r.Outcome)
		assert.Equal(t, ota.DescriptionCancelled, r.Description)
		assert.Zero(t, r.Duration)
	}
	assert.False(t, server.touched("B"))
	assert.False(t, server.touched("C"))
}

func TestDeviceTarget(t *testing.T) {
	server := greenhouse()

	results, err := New(server, nil, Options{}).Run(context.Background(),
		ota.Target{Kind: ota.TargetDevice, ID: "solo"}, testImage)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "solo", results[0].DeviceID)
	assert.NotContains(t, server.calls, "list:solo")
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name   string
		server *fakeServer
		target ota.Target
	}{
		{"empty product", greenhouse(), ota.Target{Kind: ota.TargetProduct, ID: "empty"}},
		{"listing failure", &fakeServer{listErr: errors.NewHTTPError("GET devices", 500, "")}, ota.Target{Kind: ota.TargetProduct, ID: "greenhouse"}},
		{"unknown kind", greenhouse(), ota.Target{Kind: "asset", ID: "x"}},
		{"missing id", greenhouse(), ota.Target{Kind: ota.TargetDevice}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &events{}
			results, err := New(tt.server, rec, Options{}).Run(context.Background(), tt.target, testImage)
			assert.Error(t, err)
			assert.Nil(t, results)
			assert.Zero(t, rec.inits)
		})
	}
}
