package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithoutContext(t *testing.T) {
	for _, tc := range []struct {
		name          string
		expectedLevel zapcore.Level
	}{
		{
			name:          "Info",
			expectedLevel: zapcore.InfoLevel,
		},
		{
			name:          "Debug",
			expectedLevel: zapcore.DebugLevel,
		},
		{
			name:          "Warn",
			expectedLevel: zapcore.WarnLevel,
		},
		{
			name:          "Error",
			expectedLevel: zapcore.ErrorLevel,
		},
	} {
		observerLogger, logs := observer.New(zap.DebugLevel)
		dut := ZapLogger{zap.New(observerLogger)}
		const testMessage = "ABC"
		switch tc.name {
		case "Info":
			dut.Info(testMessage)
		case "Debug":
			dut.Debug(testMessage)
		case "Warn":
			dut.Warn(testMessage)
		case "Error":
			dut.Error(testMessage)
		default:
			t.Errorf("%s: Unknown name", tc.name)
		}
		require.Equal(t, 1, logs.Len())

		actualMessage := logs.All()[0]
		require.Equal(t, testMessage, actualMessage.Message)
		require.Empty(t, actualMessage.ContextMap())
		require.Equal(t, tc.expectedLevel, actualMessage.Level)
	}
}

func TestWithContextAddsTraceIDs(t *testing.T) {
	observerLogger, logs := observer.New(zap.DebugLevel)
	dut := ZapLogger{zap.New(observerLogger)}

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	dut.InfoWithContext(ctx, "loaded", zap.Int("count", 3))
	dut.WarnWithContext(context.Background(), "no span")

	entries := logs.TakeAll()
	require.Len(t, entries, 2)

	fields := entries[0].ContextMap()
	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", fields["trace_id"])
	require.Equal(t, "00f067aa0ba902b7", fields["span_id"])
	require.EqualValues(t, 3, fields["count"])

	require.Empty(t, entries[1].ContextMap())
	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestWithKeepsFields(t *testing.T) {
	l, logs := NewObserverLogger("debug")

	child := l.With(zap.String("component", "pump"))
	child.Debug("flushed")

	entries := logs.TakeAll()
	require.Len(t, entries, 1)
	require.Equal(t, "pump", entries[0].ContextMap()["component"])
}

func TestNewLogger(t *testing.T) {
	t.Run("none_level_is_noop", func(t *testing.T) {
		l, err := NewLogger("text", "none", "Unix")
		require.NoError(t, err)
		require.NotNil(t, l)
	})

	t.Run("unknown_level", func(t *testing.T) {
		_, err := NewLogger("json", "verbose", "Unix")
		require.ErrorContains(t, err, "unknown log level")
	})

	t.Run("unknown_timestamp_format", func(t *testing.T) {
		_, err := NewLogger("json", "info", "RFC822")
		require.ErrorContains(t, err, "unknown timestamp format")
	})

	t.Run("json_iso8601", func(t *testing.T) {
		l, err := NewLogger("json", "info", "ISO8601")
		require.NoError(t, err)
		require.NotNil(t, l)
	})

	t.Run("must_panics_on_error", func(t *testing.T) {
		require.Panics(t, func() {
			MustNewLogger("json", "loud", "Unix")
		})
	})
}
