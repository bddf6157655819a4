package tracing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var errExporterClosed = errors.New("trace file exporter is closed")

// FileExporter appends spans to a file, one JSON object per line, so a
// scenario run can be inspected with jq after the fact.
type FileExporter struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

var _ sdktrace.SpanExporter = (*FileExporter)(nil)

// NewFileExporter opens path for appending, creating parent directories.
func NewFileExporter(path string) (*FileExporter, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating trace directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) // #nosec G304 -- user-configured trace path
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	return &FileExporter{file: f, enc: json.NewEncoder(f)}, nil
}

// ExportSpans writes spans in the order given.
func (e *FileExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.file == nil {
		return errExporterClosed
	}
	for _, span := range spans {
		if err := e.enc.Encode(newSpanRecord(span)); err != nil {
			return fmt.Errorf("writing span %s: %w", span.Name(), err)
		}
	}
	return nil
}

// Shutdown closes the file. Later exports fail.
func (e *FileExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.file == nil {
		return nil
	}
	err := e.file.Close()
	e.file, e.enc = nil, nil
	return err
}

// SpanRecord is one line of the trace file. The editor server and the ex
// command or scenario step a span belongs to are lifted out of the
// attributes for easier filtering.
type SpanRecord struct {
	TraceID  string  `json:"trace_id"`
	SpanID   string  `json:"span_id"`
	ParentID string  `json:"parent_id,omitempty"`
	Name     string  `json:"name"`
	Kind     string  `json:"kind"`
	Start    string  `json:"start"`
	Millis   float64 `json:"ms"`
	Error    string  `json:"error,omitempty"`

	Server  string `json:"server,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Command string `json:"command,omitempty"`
	Script  string `json:"script,omitempty"`

	Attributes map[string]any `json:"attrs,omitempty"`
	Events     []EventRecord  `json:"events,omitempty"`
}

// EventRecord is a span event, such as one readiness poll.
type EventRecord struct {
	Name       string         `json:"name"`
	At         string         `json:"at"`
	Attributes map[string]any `json:"attrs,omitempty"`
}

// promoted maps attribute keys to the SpanRecord field they fill.
var promoted = map[attribute.Key]func(*SpanRecord, string){
	AttrServerName: func(r *SpanRecord, v string) { r.Server = v },
	AttrMode:       func(r *SpanRecord, v string) { r.Mode = v },
	AttrCommand:    func(r *SpanRecord, v string) { r.Command = v },
	AttrScript:     func(r *SpanRecord, v string) { r.Script = v },
}

func newSpanRecord(span sdktrace.ReadOnlySpan) SpanRecord {
	rec := SpanRecord{
		TraceID: span.SpanContext().TraceID().String(),
		SpanID:  span.SpanContext().SpanID().String(),
		Name:    span.Name(),
		Kind:    span.SpanKind().String(),
		Start:   span.StartTime().Format(time.RFC3339Nano),
		Millis:  float64(span.EndTime().Sub(span.StartTime()).Microseconds()) / 1000,
	}
	if parent := span.Parent(); parent.IsValid() {
		rec.ParentID = parent.SpanID().String()
	}
	if st := span.Status(); st.Code == codes.Error {
		rec.Error = st.Description
		if rec.Error == "" {
			rec.Error = "error"
		}
	}

	for _, kv := range span.Attributes() {
		if set, ok := promoted[kv.Key]; ok && kv.Value.Type() == attribute.STRING {
			set(&rec, kv.Value.AsString())
			continue
		}
		if rec.Attributes == nil {
			rec.Attributes = make(map[string]any)
		}
		rec.Attributes[string(kv.Key)] = kv.Value.AsInterface()
	}

	for _, ev := range span.Events() {
		rec.Events = append(rec.Events, EventRecord{
			Name:       ev.Name,
			At:         ev.Time.Format(time.RFC3339Nano),
			Attributes: attrMap(ev.Attributes),
		})
	}
	return rec
}

func attrMap(kvs []attribute.KeyValue) map[string]any {
	if len(kvs) == 0 {
		return nil
	}
	m := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}
