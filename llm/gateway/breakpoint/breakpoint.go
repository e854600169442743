// Package breakpoint implements the request-interception facility: a
// pending request can be paused before execution and resumed later with
// either Continue or a modified request body (spec §4.9).
package breakpoint

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/llm/gateway"
)

// ActionKind tags a resolved Action.
type ActionKind int

const (
	ActionContinue ActionKind = iota
	ActionModifyRequest
)

// Action is what a caller resolves a pending breakpoint with.
type Action struct {
	Kind    ActionKind
	Request *gateway.ChatCompletionRequest // set when Kind == ActionModifyRequest
}

// ErrNotFound is returned by Resolve when the id names no pending
// breakpoint.
type ErrNotFound struct{ ID string }

func (e ErrNotFound) Error() string { return "breakpoint: not found: " + e.ID }

// ErrChannelClosed is returned when a breakpoint's resolution channel was
// already closed by a prior resolve (double-resolve).
type ErrChannelClosed struct{ ID string }

func (e ErrChannelClosed) Error() string { return "breakpoint: channel closed: " + e.ID }

// Manager tracks pending breakpoints and lets a separate control path
// (the debug API) resolve or bulk-continue them. There is no timeout: a
// breakpoint waits exactly as long as the caller holding Wait's context
// allows, by contract (spec §4.9, grounded on
// executor/chat_completion/breakpoint.rs's oneshot-channel design —
// deliberately NOT the agent/hitl InterruptManager's 24h-timeout
// pattern).
type Manager struct {
	mu           sync.Mutex
	pending      map[string]chan Action
	requests     map[string]*gateway.ChatCompletionRequest
	interceptAll atomic.Bool
	logger       *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		pending:  make(map[string]chan Action),
		requests: make(map[string]*gateway.ChatCompletionRequest),
		logger:   logger,
	}
}

// SetInterceptAll toggles whether every request (not just those tagged
// "debug") should pause at a breakpoint. Turning it off implies
// ContinueAll: no request already paused should be left stuck waiting on
// a debugger that just detached (spec §4.9, §8).
func (m *Manager) SetInterceptAll(v bool) {
	m.interceptAll.Store(v)
	if !v {
		m.ContinueAll()
	}
}

func (m *Manager) InterceptAll() bool { return m.interceptAll.Load() }

// ShouldIntercept reports whether a request carrying the given tags
// should pause, per intercept_all or an explicit "debug" tag.
func (m *Manager) ShouldIntercept(tags map[string]string) bool {
	if m.InterceptAll() {
		return true
	}
	_, ok := tags["debug"]
	return ok
}

// Register creates a pending breakpoint and returns the channel a
// resolver will deliver an Action on. The caller is responsible for
// picking breakpointID (the orchestrator derives it from the current
// span id).
func (m *Manager) Register(breakpointID string, req *gateway.ChatCompletionRequest) <-chan Action {
	ch := make(chan Action, 1)
	m.mu.Lock()
	m.pending[breakpointID] = ch
	m.requests[breakpointID] = req
	m.mu.Unlock()
	return ch
}

// Resolve delivers action to the named pending breakpoint, unblocking
// its Wait call exactly once.
func (m *Manager) Resolve(breakpointID string, action Action) error {
	m.mu.Lock()
	ch, ok := m.pending[breakpointID]
	if ok {
		delete(m.pending, breakpointID)
		delete(m.requests, breakpointID)
	}
	m.mu.Unlock()

	if !ok {
		return ErrNotFound{ID: breakpointID}
	}
	select {
	case ch <- action:
	default:
		return ErrChannelClosed{ID: breakpointID}
	}
	close(ch)
	return nil
}

// ContinueAll resolves every currently pending breakpoint with Continue,
// used when intercept_all is turned off mid-flight so no request is
// left stuck waiting on a debugger that is no longer attached.
func (m *Manager) ContinueAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Resolve(id, Action{Kind: ActionContinue}); err != nil {
			m.logger.Warn("breakpoint: continue_all resolve failed", zap.String("id", id), zap.Error(err))
		}
	}
}

// HasBreakpoint reports whether breakpointID currently has a pending
// resolution.
func (m *Manager) HasBreakpoint(breakpointID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[breakpointID]
	return ok
}

// PendingBreakpoint describes one entry for the debug-list API.
type PendingBreakpoint struct {
	ID      string
	Request *gateway.ChatCompletionRequest
}

// ListBreakpoints returns every currently pending breakpoint and its
// paused request, for a debug UI/CLI to inspect.
func (m *Manager) ListBreakpoints() []PendingBreakpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PendingBreakpoint, 0, len(m.pending))
	for id, req := range m.requests {
		out = append(out, PendingBreakpoint{ID: id, Request: req})
	}
	return out
}

// Wait blocks until breakpointID is resolved or ctx is cancelled,
// returning the request that should replace the in-flight one: req
// itself for Continue, or the resolved Action's Request for
// ModifyRequest.
func Wait(ctx context.Context, m *Manager, breakpointID string, req *gateway.ChatCompletionRequest, ch <-chan Action) (*gateway.ChatCompletionRequest, error) {
	select {
	case action, ok := <-ch:
		if !ok {
			return nil, ErrChannelClosed{ID: breakpointID}
		}
		if action.Kind == ActionModifyRequest && action.Request != nil {
			return action.Request, nil
		}
		return req, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
