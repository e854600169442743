// Telemetry Bus: fans every span/event emitted during a request out to
// per-trace subscribers (the debug UI, the response streamer) while also
// handing the same OTel SpanData to a persistent sink. Complements
// telemetry.go's Init, which wires the exporters this bus's
// BusSpanExporter plugs in alongside (spec §4.10).
package telemetry

import (
	"context"
	"sync"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/llm/gateway"
)

// Span is the bus's domain projection of an OTel ReadOnlySpan, trimmed
// to what a debug consumer or billing sink actually needs.
type Span struct {
	TraceID    string
	SpanID     string
	Name       string
	StartTime  time.Time
	EndTime    time.Time
	Attributes map[string]string
}

// Sink persists spans beyond the bus's in-memory buffer (spec's
// GORM/Mongo persistence layer).
type Sink interface {
	Persist(ctx context.Context, spans []Span) error
}

// Bus fans spans and gateway.ModelEvent values out to subscribers keyed
// by trace id, bounded per trace so a forgotten subscriber cannot leak
// memory indefinitely.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan gateway.ModelEvent
	buffer      map[string][]Span
	bufferCap   int
	sink        Sink
	logger      *zap.Logger
}

// NewBus creates a Bus; bufferCap bounds how many spans are retained
// per trace id before the oldest are dropped (a fixed-size ring avoids
// unbounded growth for long-running or abandoned traces).
func NewBus(bufferCap int, sink Sink, logger *zap.Logger) *Bus {
	if bufferCap <= 0 {
		bufferCap = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subscribers: map[string][]chan gateway.ModelEvent{},
		buffer:      map[string][]Span{},
		bufferCap:   bufferCap,
		sink:        sink,
		logger:      logger,
	}
}

// Subscribe returns a channel delivering every ModelEvent published for
// traceID from this point on. The channel is buffered (1024, matching
// the gateway's inner/outer channel convention, spec §5) so a slow
// subscriber cannot stall publishers.
func (b *Bus) Subscribe(traceID string) <-chan gateway.ModelEvent {
	ch := make(chan gateway.ModelEvent, 1024)
	b.mu.Lock()
	b.subscribers[traceID] = append(b.subscribers[traceID], ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch from traceID's subscriber list.
func (b *Bus) Unsubscribe(traceID string, ch <-chan gateway.ModelEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[traceID]
	for i, c := range subs {
		if c == ch {
			close(c)
			b.subscribers[traceID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[traceID]) == 0 {
		delete(b.subscribers, traceID)
	}
}

// Publish fans ev out to every current subscriber of ev.TraceID. A full
// subscriber channel drops the event for that subscriber rather than
// blocking the publisher (a stalled debug UI must not stall a live
// request).
func (b *Bus) Publish(ev gateway.ModelEvent) {
	b.mu.RLock()
	subs := append([]chan gateway.ModelEvent(nil), b.subscribers[ev.TraceID]...)
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("telemetry bus: subscriber channel full, dropping event", zap.String("trace_id", ev.TraceID))
		}
	}
}

// RecordSpan appends span to its trace's bounded buffer, evicting the
// oldest entry once bufferCap is exceeded.
func (b *Bus) RecordSpan(span Span) {
	b.mu.Lock()
	buf := append(b.buffer[span.TraceID], span)
	if len(buf) > b.bufferCap {
		buf = buf[len(buf)-b.bufferCap:]
	}
	b.buffer[span.TraceID] = buf
	b.mu.Unlock()
}

// Spans returns the buffered spans for traceID, oldest first.
func (b *Bus) Spans(traceID string) []Span {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Span(nil), b.buffer[traceID]...)
}

// Flush persists every buffered span for traceID via the configured
// Sink and drops them from the in-memory buffer.
func (b *Bus) Flush(ctx context.Context, traceID string) error {
	b.mu.Lock()
	spans := b.buffer[traceID]
	delete(b.buffer, traceID)
	b.mu.Unlock()

	if len(spans) == 0 || b.sink == nil {
		return nil
	}
	return b.sink.Persist(ctx, spans)
}

// BusSpanExporter adapts the bus to the sdktrace.SpanExporter interface
// so it can be registered as a second batcher alongside the OTLP
// exporter Init already wires (telemetry.go), without modifying that
// exporter's own export path.
type BusSpanExporter struct {
	bus *Bus
}

func NewBusSpanExporter(bus *Bus) *BusSpanExporter {
	return &BusSpanExporter{bus: bus}
}

func (e *BusSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		attrs := map[string]string{}
		for _, kv := range s.Attributes() {
			attrs[string(kv.Key)] = kv.Value.Emit()
		}
		e.bus.RecordSpan(Span{
			TraceID:    s.SpanContext().TraceID().String(),
			SpanID:     s.SpanContext().SpanID().String(),
			Name:       s.Name(),
			StartTime:  s.StartTime(),
			EndTime:    s.EndTime(),
			Attributes: attrs,
		})
	}
	return nil
}

func (e *BusSpanExporter) Shutdown(context.Context) error { return nil }
