package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/llm/gateway"
	"github.com/BaSui01/agentflow/llm/gateway/breakpoint"
	"github.com/BaSui01/agentflow/llm/gateway/executor"
	"github.com/BaSui01/agentflow/llm/gateway/mcptools"
	"github.com/BaSui01/agentflow/llm/gateway/router"
	"github.com/BaSui01/agentflow/types"
)

// GatewayHandler wires the routing orchestrator, executor, breakpoint
// manager, and MCP tool resolver to three HTTP entrypoints: the routed
// chat completions path, an OpenAI /v1/responses-shaped adapter over
// the same pipeline, and the debug continue endpoint (SPEC_FULL.md §4,
// §6; the streaming path mirrors ChatHandler.HandleStream's SSE
// framing in chat.go).
type GatewayHandler struct {
	Orchestrator *router.Orchestrator
	Executor     *executor.Executor
	Breakpoints  *breakpoint.Manager
	MCPResolver  *mcptools.Resolver
	Logger       *zap.Logger
}

func NewGatewayHandler(orch *router.Orchestrator, exec *executor.Executor, bp *breakpoint.Manager, mcpResolver *mcptools.Resolver, logger *zap.Logger) *GatewayHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GatewayHandler{Orchestrator: orch, Executor: exec, Breakpoints: bp, MCPResolver: mcpResolver, Logger: logger}
}

// execAdapter satisfies router.Executor by delegating to the gateway
// executor and translating breakpoint interception before dispatch.
type execAdapter struct {
	h    *GatewayHandler
	w    http.ResponseWriter
	tags map[string]string
}

func (a *execAdapter) Execute(ctx context.Context, req *gateway.ChatCompletionRequest) (*router.ExecResult, error) {
	if a.h.Breakpoints != nil && a.h.Breakpoints.ShouldIntercept(a.tags) {
		id := breakpointIDFromContext(ctx)
		ch := a.h.Breakpoints.Register(id, req)
		resolved, err := breakpoint.Wait(ctx, a.h.Breakpoints, id, req, ch)
		if err != nil {
			return nil, gateway.NewError(gateway.KindBreakpoint, "waiting for breakpoint resolution", err)
		}
		req = resolved
	}

	if a.h.MCPResolver != nil && len(req.MCPServers) > 0 {
		resolved, err := a.h.MCPResolver.ResolveTools(ctx, req.MCPServers)
		if err != nil {
			return nil, err
		}
		if len(resolved) > 0 {
			req = req.Clone()
			req.Tools = append(req.Tools, resolved...)
		}
	}

	if req.Stream {
		stream, err := a.h.Executor.ExecuteStream(ctx, req)
		if err != nil {
			return nil, err
		}
		writeSSEStream(a.w, stream, a.h.Logger)
		return &router.ExecResult{Response: nil}, nil
	}

	result, err := a.h.Executor.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return &router.ExecResult{Response: result}, nil
}

// HandleChatCompletions routes a request through the conditional/metric
// router chain before dispatch, honouring its stream flag for SSE vs.
// single-shot JSON.
func (h *GatewayHandler) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.Logger) {
		return
	}

	var req gateway.ChatCompletionRequest
	if err := DecodeJSONBody(w, r, &req, h.Logger); err != nil {
		return
	}

	adapter := &execAdapter{h: h, w: w, tags: req.Tags}
	result, err := h.Orchestrator.Run(r.Context(), &req, adapter)
	if err != nil {
		writeGatewayError(w, err, h.Logger)
		return
	}

	if req.Stream {
		// The stream was already written by execAdapter.Execute.
		return
	}

	if execResult, ok := result.Response.(*executor.Result); ok {
		w.Header().Set("X-Trace-Id", execResult.Headers.TraceID)
		w.Header().Set("X-Model-Name", execResult.Headers.ModelName)
		w.Header().Set("X-Provider-Name", execResult.Headers.ProviderName)
		if execResult.Headers.ThreadID != "" {
			w.Header().Set("X-Thread-Id", execResult.Headers.ThreadID)
		}
		WriteSuccess(w, execResult.Response)
		return
	}
	WriteSuccess(w, result.Response)
}

// HandleResponses adapts the same routing/execution pipeline behind the
// /v1/responses body shape (SPEC_FULL.md's supplemented feature): it
// accepts the same gateway.ChatCompletionRequest body (a strict superset
// of the Responses API's minimal fields) and returns the same envelope,
// since the gateway's internal representation does not distinguish the
// two wire formats once decoded.
func (h *GatewayHandler) HandleResponses(w http.ResponseWriter, r *http.Request) {
	h.HandleChatCompletions(w, r)
}

// HandleDebugContinue resolves a pending breakpoint, either continuing
// the paused request unchanged or replacing it with a caller-supplied
// modification.
func (h *GatewayHandler) HandleDebugContinue(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.Logger) {
		return
	}

	var body struct {
		BreakpointID string                         `json:"breakpoint_id"`
		Request      *gateway.ChatCompletionRequest `json:"request,omitempty"`
	}
	if err := DecodeJSONBody(w, r, &body, h.Logger); err != nil {
		return
	}

	action := breakpoint.Action{Kind: breakpoint.ActionContinue}
	if body.Request != nil {
		action = breakpoint.Action{Kind: breakpoint.ActionModifyRequest, Request: body.Request}
	}

	if err := h.Breakpoints.Resolve(body.BreakpointID, action); err != nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "no such pending breakpoint").WithCause(err), h.Logger)
		return
	}
	WriteSuccess(w, map[string]string{"status": "resolved"})
}

func writeSSEStream(w http.ResponseWriter, stream <-chan executor.StreamChunk, logger *zap.Logger) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("gateway: response writer does not support flushing")
		return
	}

	for chunk := range stream {
		if chunk.Err != nil {
			logger.Warn("gateway: stream chunk error", zap.Error(chunk.Err))
			payload, _ := json.Marshal(map[string]string{"error": chunk.Err.Error()})
			w.Write([]byte("event: error\ndata: "))
			w.Write(payload)
			w.Write([]byte("\n\n"))
			flusher.Flush()
			continue
		}
		payload, err := json.Marshal(map[string]any{
			"delta": chunk.Delta,
			"cost":  chunk.Cost,
		})
		if err != nil {
			continue
		}
		w.Write([]byte("data: "))
		w.Write(payload)
		w.Write([]byte("\n\n"))
		flusher.Flush()
	}

	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

func writeGatewayError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if ge, ok := err.(*gateway.Error); ok {
		apiErr := types.NewError(types.ErrInternalError, ge.Error()).WithHTTPStatus(ge.HTTPStatus())
		WriteError(w, apiErr, logger)
		return
	}
	WriteError(w, types.NewError(types.ErrInternalError, "gateway error").WithCause(err), logger)
}

type traceIDKey struct{}

func breakpointIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey{}).(string); ok && id != "" {
		return id
	}
	return "bp-" + uuid.New().String()
}
