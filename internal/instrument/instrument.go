package instrument

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Context keys
type ctxKey int

const (
	traceIDKey ctxKey = iota
	parentSpanIDKey
	instrumenterKey
	userIDKey
)

// Instrumenter interface defines the tracing API.
type Instrumenter interface {
	StartSpan(ctx context.Context, source, component, action string) (context.Context, Span)
}

// Span interface represents a timed operation span.
type Span interface {
	End()
	SetStatus(status string)
	SetMetadata(key string, value any)
	SetModel(model, recordID string)
	TraceID() string
	SpanID() string
}

// Event is one finished span.
type Event struct {
	TraceID      string         `json:"trace_id"`
	SpanID       string         `json:"span_id"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	Source       string         `json:"source"`
	Component    string         `json:"component"`
	Action       string         `json:"action"`
	Model        string         `json:"model,omitempty"`
	RecordID     string         `json:"record_id,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	DurationMs   float64        `json:"duration_ms"`
	Status       string         `json:"status,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func newUUID() string {
	return uuid.New().String()
}

// Context helpers

// WithTraceID sets the trace ID in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

func withParentSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, parentSpanIDKey, spanID)
}

func getParentSpanID(ctx context.Context) string {
	if v, ok := ctx.Value(parentSpanIDKey).(string); ok {
		return v
	}
	return ""
}

// WithInstrumenter sets the instrumenter in the context.
func WithInstrumenter(ctx context.Context, inst Instrumenter) context.Context {
	return context.WithValue(ctx, instrumenterKey, inst)
}

// GetInstrumenter returns the instrumenter from the context,
// or a NoopInstrumenter if none is set.
func GetInstrumenter(ctx context.Context) Instrumenter {
	if v, ok := ctx.Value(instrumenterKey).(Instrumenter); ok {
		return v
	}
	return &NoopInstrumenter{}
}

// WithUserID sets the user ID in the context for instrumentation.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func getUserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// Recorder is the instrumenter that keeps finished spans in a Buffer.
type Recorder struct {
	buffer *Buffer
}

func NewRecorder(buffer *Buffer) *Recorder {
	return &Recorder{buffer: buffer}
}

// StartSpan creates a new span and returns the updated context.
func (r *Recorder) StartSpan(ctx context.Context, source, component, action string) (context.Context, Span) {
	span := &recordedSpan{
		event: Event{
			TraceID:      GetTraceID(ctx),
			SpanID:       newUUID(),
			ParentSpanID: getParentSpanID(ctx),
			Source:       source,
			Component:    component,
			Action:       action,
			UserID:       getUserID(ctx),
		},
		start:  time.Now(),
		buffer: r.buffer,
	}

	// Child spans reference this span as parent
	return withParentSpanID(ctx, span.event.SpanID), span
}

type recordedSpan struct {
	mu     sync.Mutex
	event  Event
	start  time.Time
	buffer *Buffer
	ended  bool
}

func (s *recordedSpan) TraceID() string { return s.event.TraceID }
func (s *recordedSpan) SpanID() string  { return s.event.SpanID }

func (s *recordedSpan) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.event.Status = status
}

func (s *recordedSpan) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.event.Metadata == nil {
		s.event.Metadata = make(map[string]any)
	}
	s.event.Metadata[key] = value
}

func (s *recordedSpan) SetModel(model, recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.event.Model = model
	s.event.RecordID = recordID
}

func (s *recordedSpan) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true

	s.event.DurationMs = float64(time.Since(s.start).Microseconds()) / 1000.0
	s.event.CreatedAt = time.Now().UTC()
	s.buffer.Add(s.event)
}

// Finish marks span ok or error from err and ends it.
func Finish(span Span, err error) {
	if err != nil {
		span.SetStatus("error")
		span.SetMetadata("error", err.Error())
	} else {
		span.SetStatus("ok")
	}
	span.End()
}
