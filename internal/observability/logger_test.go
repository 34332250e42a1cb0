package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf, ServiceName: "svc"})

	ctx := ContextWithRequestID(context.Background(), "req-1")
	logger.WithContext(ctx).WithRun("run-9").Info().Int("pages", 3).Msg("scored")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "svc", line["service"])
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "run-9", line["run_id"])
	assert.Equal(t, float64(3), line["pages"])
	assert.Equal(t, "scored", line["message"])
}

func TestNewLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})

	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestRequestIDFromContext_Missing(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestLogger_DocumentAndBatchFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Output: &buf})

	logger.WithDocument("manual.pdf", "0123456789abcdef0123").Debug().Batch(1, 4).Msg("Batch complete")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "manual.pdf", line["filename"])
	assert.Equal(t, "0123456789ab", line["content_hash"])
	assert.Equal(t, float64(2), line["batch"])
	assert.Equal(t, float64(4), line["total_batches"])
	assert.NotContains(t, line, "service")
}

func TestContextWithRequestID_EmptyIsIgnored(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "")
	assert.Empty(t, RequestIDFromContext(ctx))
}

func TestNopLogger_DisabledEventsAreSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		NopLogger().Info().Str("k", "v").Batch(0, 1).Ints("pages", []int{1}).Msg("dropped")
	})
}
