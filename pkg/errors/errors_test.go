package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ignored"))

	base := New("boom")
	err := Wrap(base, "load failed")
	assert.EqualError(t, err, "load failed: boom")
	assert.True(t, Is(err, base))
}

func TestTransportClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		forbidden bool
		notFound  bool
		cancelled bool
	}{
		{"forbidden", NewHTTPError("options", http.StatusForbidden, ""), true, false, false},
		{"not found", NewHTTPError("options", http.StatusNotFound, "missing"), false, true, false},
		{"server error", NewHTTPError("options", http.StatusBadGateway, ""), false, false, false},
		{"cancelled request", NewTransportError("write", context.Canceled), false, false, true},
		{"wrapped cancellation", fmt.Errorf("outer: %w", context.Canceled), false, false, true},
		{"network", NewTransportError("write", New("connection reset")), false, false, false},
		{"checkpoint", NewCancelledError("write", context.DeadlineExceeded), false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.forbidden, IsForbidden(tt.err))
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
			assert.Equal(t, tt.cancelled, IsCancelled(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := NewHTTPError("GET /options", http.StatusNotFound, "")
	assert.Equal(t, "GET /options: unexpected status 404 Not Found", err.Error())
	assert.True(t, IsKind(Wrap(err, "init"), KindTransport))

	codec := NewCodecError("brotli", New("unsupported"))
	assert.Equal(t, `compression scheme "brotli": unsupported`, codec.Error())
	assert.Equal(t, "codec error", codec.Kind.String())
}
