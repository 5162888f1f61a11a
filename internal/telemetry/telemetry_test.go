package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "dittorpc", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()

	shutdown, err := Init(ctx, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, shutdown(ctx))
	assert.False(t, IsEnabled())
}

func TestNoopSpans(t *testing.T) {
	ctx, span := StartRequestSpan(context.Background(), "127.0.0.1")
	defer span.End()

	ctx, call := StartCallSpan(ctx, "sid", "counter", "increment")
	RecordError(ctx, assert.AnError)
	RecordError(ctx, nil)
	SetAttributes(ctx)
	AddEvent(ctx, "replay")
	call.End()

	assert.Empty(t, TraceID(ctx))
	assert.Empty(t, SpanID(ctx))
}

func TestParseProfileTypes(t *testing.T) {
	types, err := parseProfileTypes([]string{"cpu", "inuse_space"})
	require.NoError(t, err)
	assert.Len(t, types, 2)

	_, err = parseProfileTypes([]string{"heap"})
	assert.Error(t, err)
}

func TestInitProfilingDisabled(t *testing.T) {
	stop, err := InitProfiling(ProfilingConfig{})
	require.NoError(t, err)
	assert.NoError(t, stop())
}
