package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/link-checkout/internal/config"
	"github.com/openkcm/link-checkout/pkg/bridge"
)

func testConfig() *config.Config {
	return &config.Config{
		BaseConfig: commoncfg.BaseConfig{
			Application: commoncfg.Application{
				Name:        "test-app",
				Environment: "test",
			},
		},
	}
}

func TestInitMeters(t *testing.T) {
	err := initMeters(t.Context(), testConfig())
	assert.NoError(t, err)
}

func TestNewTraceMiddleware(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, initMeters(t.Context(), cfg))

	tests := []struct {
		name          string
		requestID     string
		traceparent   string
		wantRequestID string
	}{
		{
			name:          "keeps the caller request id",
			requestID:     "req-1",
			wantRequestID: "req-1",
		},
		{
			name: "generates a request id",
		},
		{
			name:          "extracts parent trace context from headers",
			requestID:     "req-2",
			traceparent:   "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
			wantRequestID: "req-2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = r.Header.Get(bridge.RequestIDHeader)
				w.WriteHeader(http.StatusTeapot)
			})

			req := httptest.NewRequest(http.MethodPost, "/bridge/debug", nil)
			req.Header.Set("User-Agent", "test-agent")
			if tt.requestID != "" {
				req.Header.Set(bridge.RequestIDHeader, tt.requestID)
			}
			if tt.traceparent != "" {
				req.Header.Set("Traceparent", tt.traceparent)
			}
			w := httptest.NewRecorder()

			newTraceMiddleware(cfg, "bridge")(next).ServeHTTP(w, req)

			assert.Equal(t, http.StatusTeapot, w.Code)
			if tt.wantRequestID != "" {
				assert.Equal(t, tt.wantRequestID, seen)
			} else {
				assert.NotEmpty(t, seen)
			}
		})
	}
}
