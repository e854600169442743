package interceptor

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sync/atomic"
	"testing"

	"github.com/BaSui01/agentflow/llm/gateway"
	"github.com/BaSui01/agentflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func messageWithContent(content string) []types.Message {
	return []types.Message{{Role: types.RoleUser, Content: content}}
}

func regexpQuote(s string) string {
	return regexp.QuoteMeta(s)
}

type countingInterceptor struct {
	Base
	name    string
	calls   int32
	result  json.RawMessage
	failErr error
}

func (c *countingInterceptor) Name() string { return c.name }

func (c *countingInterceptor) PreRequest(context.Context, *Context) (json.RawMessage, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.failErr != nil {
		return nil, c.failErr
	}
	return c.result, nil
}

func (c *countingInterceptor) PostRequest(context.Context, *Context, json.RawMessage) (json.RawMessage, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.result, nil
}

func newContext() *Context {
	return &Context{
		Request:  &gateway.ChatCompletionRequest{Model: "openai/gpt-4o-mini"},
		Headers:  map[string]string{},
		State:    NewState(),
		Metadata: map[string]any{},
	}
}

func TestLazyManager_ExecutesAtMostOnce(t *testing.T) {
	guard := &countingInterceptor{name: "guardrail", result: json.RawMessage(`{"result":true}`)}
	ic := newContext()
	m := NewLazyManager(map[string]Interceptor{"guardrail": guard}, ic)

	_, ok1, err1 := m.GetResult(context.Background(), "guardrail")
	_, ok2, err2 := m.GetResult(context.Background(), "guardrail")

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.EqualValues(t, 1, guard.calls)
}

func TestLazyManager_UnreferencedNeverExecuted(t *testing.T) {
	guard := &countingInterceptor{name: "never_used", result: json.RawMessage(`{}`)}
	ic := newContext()
	// Materialise an empty set: "never_used" is not in the map.
	m := NewLazyManager(map[string]Interceptor{}, ic)

	_, ok, err := m.GetResult(context.Background(), "never_used")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.EqualValues(t, 0, guard.calls)
}

func TestChain_FailureDoesNotAbort(t *testing.T) {
	failing := &countingInterceptor{name: "a", failErr: errors.New("boom")}
	ok := &countingInterceptor{name: "b", result: json.RawMessage(`{"x":1}`)}
	chain := NewChain()
	chain.Add(failing)
	chain.Add(ok)

	ic := newContext()
	chain.ExecutePreRequest(context.Background(), ic)

	require.Len(t, ic.State.PreResults, 2)
	assert.False(t, ic.State.PreResults[0].Success)
	assert.True(t, ic.State.PreResults[1].Success)
	assert.EqualValues(t, 1, ok.calls)
}

func TestChain_PreservesRegistrationOrder(t *testing.T) {
	chain := NewChain()
	names := []string{"first", "second", "third"}
	for _, n := range names {
		chain.Add(&countingInterceptor{name: n, result: json.RawMessage(`{}`)})
	}
	ic := newContext()
	chain.ExecutePreRequest(context.Background(), ic)

	require.Len(t, ic.State.PreResults, 3)
	for i, n := range names {
		assert.Equal(t, n, ic.State.PreResults[i].Name)
	}
}

func TestTransformer_NoOpRoundTrip(t *testing.T) {
	tr := &Transformer{
		TransformerName: "noop",
		Direction:       DirectionPreRequest,
		Rules:           []TransformRule{{Pattern: "secret", Replacement: "secret", Flags: "g"}},
	}
	ic := newContext()
	ic.Request.Messages = append(ic.Request.Messages, messageWithContent("this has a secret word")...)

	_, err := tr.PreRequest(context.Background(), ic)
	require.NoError(t, err)
	assert.Equal(t, "this has a secret word", ic.Request.Messages[0].Content)
}

func TestTransformer_NoOpRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		text := rapid.StringMatching(`[a-zA-Z0-9 ]{1,30}`).Draw(rt, "text")
		tr := &Transformer{
			TransformerName: "id",
			Direction:       DirectionPreRequest,
			Rules:           []TransformRule{{Pattern: regexpQuote(text), Replacement: text, Flags: "g"}},
		}
		ic := newContext()
		ic.Request.Messages = append(ic.Request.Messages, messageWithContent(text)...)
		_, err := tr.PreRequest(context.Background(), ic)
		require.NoError(rt, err)
		assert.Equal(rt, text, ic.Request.Messages[0].Content)
	})
}
