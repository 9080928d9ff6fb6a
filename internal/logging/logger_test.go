package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_JSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	Info().Str("query", "dune").Msg("retrieved")

	out := buf.String()
	assert.Contains(t, out, `"message":"retrieved"`)
	assert.Contains(t, out, `"query":"dune"`)
	assert.Contains(t, out, `"level":"info"`)
}

func TestInit_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	Info().Msg("hidden")
	Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
	assert.True(t, ValidLevel("trace"))
	assert.False(t, ValidLevel("bogus"))
}

func TestCtx_AddsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := ContextWithLogger(context.Background(), base)
	ctx = ContextWithCorrelationID(ctx, "abc123")

	Ctx(ctx).Info().Msg("hello")
	assert.Contains(t, buf.String(), `"correlation_id":"abc123"`)
}

func TestContextWithNewCorrelationID(t *testing.T) {
	ctx := ContextWithNewCorrelationID(context.Background())
	id := CorrelationIDFromContext(ctx)
	require.Len(t, id, 8)
	assert.Empty(t, CorrelationIDFromContext(context.Background()))
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))
	t.Cleanup(func() { Init(DefaultConfig()) })

	l := WithComponent("retriever")
	l.Info().Msg("x")
	assert.Contains(t, buf.String(), `"component":"retriever"`)
}
