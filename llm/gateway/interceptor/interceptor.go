// Package interceptor implements the ordered pre/post hook chain that
// runs around routing and execution, including the lazy variant used by
// the conditional router (spec §4.3).
package interceptor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/BaSui01/agentflow/llm/gateway"
)

// Result is the outcome of running one interceptor once.
type Result struct {
	Name          string          `json:"interceptor_name"`
	ExecutionTime time.Duration   `json:"execution_time_ms"`
	Data          json.RawMessage `json:"data"`
	Success       bool            `json:"success"`
	Error         string          `json:"error,omitempty"`
}

// State is the shared bag threaded through a chain's execution: ordered
// pre/post results, a metadata map and an optional request id.
type State struct {
	mu          sync.RWMutex
	PreResults  []Result
	PostResults []Result
	RequestID   string
	Metadata    map[string]any
}

func NewState() *State {
	return &State{Metadata: make(map[string]any)}
}

func (s *State) AddPreResult(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PreResults = append(s.PreResults, r)
}

func (s *State) AddPostResult(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PostResults = append(s.PostResults, r)
}

// GetPreResult returns the cached pre-request data for name, if present.
func (s *State) GetPreResult(name string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.PreResults {
		if r.Name == name {
			return r.Data, true
		}
	}
	return nil, false
}

func (s *State) GetPostResult(name string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.PostResults {
		if r.Name == name {
			return r.Data, true
		}
	}
	return nil, false
}

// Context is passed to every interceptor invocation.
type Context struct {
	Request  *gateway.ChatCompletionRequest
	Headers  map[string]string
	State    *State
	Metadata map[string]any
}

// Interceptor is a named pre/post hook implementation.
type Interceptor interface {
	Name() string
	PreRequest(ctx context.Context, ic *Context) (json.RawMessage, error)
	PostRequest(ctx context.Context, ic *Context, response json.RawMessage) (json.RawMessage, error)
	// ShouldExecute optionally gates the interceptor for this request;
	// default true.
	ShouldExecute(ic *Context) bool
}

// Base embeds a no-op ShouldExecute so concrete interceptors need not
// implement it.
type Base struct{}

func (Base) ShouldExecute(*Context) bool { return true }

// Factory creates an Interceptor from its spec.
type Factory interface {
	Create(spec gateway.InterceptorSpec) (Interceptor, error)
}

// Chain runs interceptors in registration order, sharing one State.
// Failure of one interceptor is recorded but does not abort the chain
// (spec §4.3).
type Chain struct {
	interceptors []Interceptor
}

func NewChain() *Chain { return &Chain{} }

func (c *Chain) Add(i Interceptor) {
	c.interceptors = append(c.interceptors, i)
}

func (c *Chain) ExecutePreRequest(ctx context.Context, ic *Context) {
	for _, i := range c.interceptors {
		if !i.ShouldExecute(ic) {
			continue
		}
		start := time.Now()
		data, err := i.PreRequest(ctx, ic)
		result := Result{Name: i.Name(), ExecutionTime: time.Since(start)}
		if err != nil {
			result.Success = false
			result.Error = err.Error()
			result.Data = json.RawMessage("null")
		} else {
			result.Success = true
			result.Data = data
		}
		ic.State.AddPreResult(result)
	}
}

func (c *Chain) ExecutePostRequest(ctx context.Context, ic *Context, response json.RawMessage) {
	for _, i := range c.interceptors {
		if !i.ShouldExecute(ic) {
			continue
		}
		start := time.Now()
		data, err := i.PostRequest(ctx, ic, response)
		result := Result{Name: i.Name(), ExecutionTime: time.Since(start)}
		if err != nil {
			result.Success = false
			result.Error = err.Error()
			result.Data = json.RawMessage("null")
		} else {
			result.Success = true
			result.Data = data
		}
		ic.State.AddPostResult(result)
	}
}

// LazyManager materialises only a subset of interceptors (by name) and
// executes each at most once, caching its result in the shared State.
// Two route conditions referencing the same interceptor share the one
// execution (spec §4.3, §8).
type LazyManager struct {
	mu           sync.Mutex
	interceptors map[string]Interceptor
	ic           *Context
}

func NewLazyManager(interceptors map[string]Interceptor, ic *Context) *LazyManager {
	return &LazyManager{interceptors: interceptors, ic: ic}
}

// GetResult returns the cached pre-request result for name if present,
// else executes it exactly once and caches the result. Returns
// (nil, false, nil) if name is not one of the materialised interceptors.
func (m *LazyManager) GetResult(ctx context.Context, name string) (json.RawMessage, bool, error) {
	if data, ok := m.ic.State.GetPreResult(name); ok {
		return data, true, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check under the lock: another goroutine may have executed it
	// while we waited.
	if data, ok := m.ic.State.GetPreResult(name); ok {
		return data, true, nil
	}

	i, ok := m.interceptors[name]
	if !ok {
		return nil, false, nil
	}

	start := time.Now()
	data, err := i.PreRequest(ctx, m.ic)
	result := Result{Name: name, ExecutionTime: time.Since(start)}
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		result.Data = json.RawMessage("null")
		m.ic.State.AddPreResult(result)
		return nil, false, err
	}
	result.Success = true
	result.Data = data
	m.ic.State.AddPreResult(result)
	return data, true, nil
}

// AllResults returns every interceptor's cached pre-request output.
func (m *LazyManager) AllResults() map[string]json.RawMessage {
	m.ic.State.mu.RLock()
	defer m.ic.State.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(m.ic.State.PreResults))
	for _, r := range m.ic.State.PreResults {
		out[r.Name] = r.Data
	}
	return out
}
