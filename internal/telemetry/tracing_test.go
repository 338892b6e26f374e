package telemetry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func restoreProvider(t *testing.T) {
	t.Helper()
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestInitTracerProviderRecordsSpans(t *testing.T) {
	restoreProvider(t)
	rec := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(context.Background(), "mangashelf-test", sdktrace.WithSpanProcessor(rec))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, ok := Tracer().Start(context.Background(), "ok")
	End(ok, nil)
	_, bad := Tracer().Start(context.Background(), "bad")
	End(bad, errors.New("boom"))

	ended := rec.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "ok", ended[0].Name())
	assert.Equal(t, codes.Unset, ended[0].Status().Code)
	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.Equal(t, "boom", ended[1].Status().Description)
	require.Len(t, ended[1].Events(), 1, "error recorded as event")
}

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), "mangashelf", Config{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupWritesSpansToFile(t *testing.T) {
	restoreProvider(t)
	path := filepath.Join(t.TempDir(), "spans.jsonl")

	shutdown, err := Setup(context.Background(), "mangashelf", Config{Enabled: true, File: path})
	require.NoError(t, err)
	_, span := Tracer().Start(context.Background(), "sweep")
	End(span, nil)
	require.NoError(t, shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Name":"sweep"`)
}

func TestSetupBadFile(t *testing.T) {
	_, err := Setup(context.Background(), "mangashelf", Config{
		Enabled: true,
		File:    filepath.Join(t.TempDir(), "missing", "spans.jsonl"),
	})
	require.Error(t, err)
}
