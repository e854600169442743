package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentflow/llm/gateway"
)

type fakeSink struct {
	persisted []Span
}

func (s *fakeSink) Persist(_ context.Context, spans []Span) error {
	s.persisted = append(s.persisted, spans...)
	return nil
}

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	b := NewBus(16, nil, nil)
	ch := b.Subscribe("trace-1")

	b.Publish(gateway.ModelEvent{Kind: gateway.EventLlmContent, TraceID: "trace-1", Content: "hi"})

	select {
	case ev := <-ch:
		assert.Equal(t, "hi", ev.Content)
	case <-time.After(time.Second):
		t.Fatal("expected event, got none")
	}
}

func TestBus_PublishIgnoresOtherTraces(t *testing.T) {
	b := NewBus(16, nil, nil)
	ch := b.Subscribe("trace-1")
	b.Publish(gateway.ModelEvent{Kind: gateway.EventLlmContent, TraceID: "trace-2", Content: "nope"})

	select {
	case <-ch:
		t.Fatal("should not have received an event for a different trace")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBus(16, nil, nil)
	ch := b.Subscribe("trace-1")
	b.Unsubscribe("trace-1", ch)

	_, ok := <-ch
	assert.False(t, ok)
}

func TestBus_RecordSpanBufferIsBounded(t *testing.T) {
	b := NewBus(2, nil, nil)
	for i := 0; i < 5; i++ {
		b.RecordSpan(Span{TraceID: "t", SpanID: string(rune('a' + i))})
	}
	spans := b.Spans("t")
	require.Len(t, spans, 2)
	assert.Equal(t, "d", spans[0].SpanID)
	assert.Equal(t, "e", spans[1].SpanID)
}

func TestBus_FlushPersistsAndClearsBuffer(t *testing.T) {
	sink := &fakeSink{}
	b := NewBus(16, sink, nil)
	b.RecordSpan(Span{TraceID: "t", SpanID: "a"})
	b.RecordSpan(Span{TraceID: "t", SpanID: "b"})

	require.NoError(t, b.Flush(context.Background(), "t"))
	assert.Len(t, sink.persisted, 2)
	assert.Empty(t, b.Spans("t"))
}
