package tracing

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func readRecords(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestNewFileExporter_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "traces.jsonl")

	exporter, err := NewFileExporter(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.NoError(t, exporter.Shutdown(context.Background()))
}

func TestFileExporter_AppendsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"earlier":"run"}`+"\n"), 0o600))

	exporter, err := NewFileExporter(path)
	require.NoError(t, err)

	start := time.Now()
	send := tracetest.SpanStub{
		Name:      SpanRemoteSend,
		SpanKind:  trace.SpanKindClient,
		StartTime: start,
		EndTime:   start.Add(15 * time.Millisecond),
		Status:    sdktrace.Status{Code: codes.Error, Description: "E247: no registered server"},
		Attributes: []attribute.KeyValue{
			attribute.String(AttrServerName, "VIMPILOT_AB12CD34_1"),
			attribute.Int(AttrInputLen, 7),
		},
	}
	dispatch := tracetest.SpanStub{
		Name:       SpanRunExCommand,
		StartTime:  start,
		EndTime:    start.Add(time.Millisecond),
		Attributes: []attribute.KeyValue{attribute.String(AttrMode, "visual"), attribute.String(AttrCommand, "s/a/b/")},
		Events: []sdktrace.Event{{
			Name:       EventModeResolved,
			Time:       start,
			Attributes: []attribute.KeyValue{attribute.String(AttrMode, "v")},
		}},
	}
	require.NoError(t, exporter.ExportSpans(context.Background(),
		[]sdktrace.ReadOnlySpan{send.Snapshot(), dispatch.Snapshot()}))
	require.NoError(t, exporter.Shutdown(context.Background()))

	lines := readRecords(t, path)
	require.Len(t, lines, 3, "earlier content should be kept")

	var rec SpanRecord
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	require.Equal(t, SpanRemoteSend, rec.Name)
	require.Equal(t, "client", rec.Kind)
	require.Equal(t, "E247: no registered server", rec.Error)
	require.Equal(t, "VIMPILOT_AB12CD34_1", rec.Server)
	require.Equal(t, map[string]any{AttrInputLen: float64(7)}, rec.Attributes)
	require.InDelta(t, 15.0, rec.Millis, 0.001)

	rec = SpanRecord{}
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &rec))
	require.Empty(t, rec.Error)
	require.Equal(t, "visual", rec.Mode)
	require.Equal(t, "s/a/b/", rec.Command)
	require.Empty(t, rec.Attributes)
	require.Len(t, rec.Events, 1)
	require.Equal(t, "v", rec.Events[0].Attributes[AttrMode])
}

func TestFileExporter_ExportAfterShutdown(t *testing.T) {
	exporter, err := NewFileExporter(filepath.Join(t.TempDir(), "traces.jsonl"))
	require.NoError(t, err)
	require.NoError(t, exporter.Shutdown(context.Background()))
	require.NoError(t, exporter.Shutdown(context.Background()))

	stub := tracetest.SpanStub{Name: "late"}
	err = exporter.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()})
	require.ErrorIs(t, err, errExporterClosed)
}
