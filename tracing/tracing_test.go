package tracing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestInitializeNoneAndShutdown(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, Initialize(ctx, Config{ServiceName: "test", Exporter: "none"}))
	require.Error(t, Initialize(ctx, Config{ServiceName: "test", Exporter: "none"}))

	_, span := StartSpan(ctx, "unit", RunAttrs("run-1", true)...)
	require.False(t, span.IsRecording())
	End(span, errors.New("boom"))

	require.NoError(t, Shutdown(ctx))
	require.NoError(t, Shutdown(ctx))
}

func TestInitializeRejectsUnknownExporter(t *testing.T) {
	require.Error(t, Initialize(context.Background(), Config{Exporter: "zipkin"}))
}

func TestTraceIDWithoutSpan(t *testing.T) {
	require.Empty(t, TraceID(context.Background()))
}

func TestInitializeStdoutRecordsSpans(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	require.NoError(t, Initialize(ctx, Config{ServiceName: "test", ServiceVersion: "v0", Exporter: "stdout", Writer: &out}))

	spanCtx, span := StartSpan(ctx, "train.epoch", attribute.Int(AttrEpoch, 3))
	require.True(t, span.IsRecording())
	require.NotEmpty(t, TraceID(spanCtx))
	End(span, nil)

	require.NoError(t, Shutdown(ctx))
	require.Contains(t, out.String(), `"Name": "train.epoch"`)
	require.Contains(t, out.String(), AttrEpoch)
	require.Contains(t, out.String(), "test")
}
