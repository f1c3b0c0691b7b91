package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestContextLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	reqCtx := NewRequestContextWithID(logger, "req-1", "user-a")
	reqCtx.SetCapability("market_brief")
	reqCtx.Info("answered", slog.Int("sources", 3))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "answered", entry["msg"])
	assert.Equal(t, "req-1", entry[LogFieldRequestID])
	assert.Equal(t, "user-a", entry[LogFieldUserID])
	assert.Equal(t, "market_brief", entry[LogFieldCapability])
	assert.EqualValues(t, 3, entry["sources"])
}

func TestRequestContextRoundTrip(t *testing.T) {
	reqCtx := NewRequestContext(nil, "user-a")
	assert.NotEmpty(t, reqCtx.RequestID)

	ctx := WithRequestContext(context.Background(), reqCtx)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, reqCtx, got)
	assert.Same(t, reqCtx, FromContextOrNew(ctx, "other"))

	fresh := FromContextOrNew(context.Background(), "user-b")
	assert.Equal(t, "user-b", fresh.UserID)
}

func TestHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewHTTPMetrics(reg)
	require.NoError(t, err)

	done := m.Begin()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.inFlight))
	done("/api/v1/chat", "POST", 200)
	m.Begin()("/api/v1/chat", "POST", 429)

	assert.Equal(t, float64(0), testutil.ToFloat64(m.inFlight))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("/api/v1/chat", "POST", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("/api/v1/chat", "POST", "429")))

	_, err = NewHTTPMetrics(reg)
	assert.Error(t, err, "duplicate registration")
}
