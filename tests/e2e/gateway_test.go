// 网关端到端测试：通过真实 HTTP 服务器驱动路由编排、执行与断点恢复。
//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/api/handlers"
	"github.com/BaSui01/agentflow/llm"
	"github.com/BaSui01/agentflow/llm/gateway"
	"github.com/BaSui01/agentflow/llm/gateway/breakpoint"
	"github.com/BaSui01/agentflow/llm/gateway/cost"
	"github.com/BaSui01/agentflow/llm/gateway/executor"
	"github.com/BaSui01/agentflow/llm/gateway/interceptor"
	"github.com/BaSui01/agentflow/llm/gateway/router"
	"github.com/BaSui01/agentflow/testutil/mocks"
)

// newGatewayServer wires a full gateway stack (registry, orchestrator,
// executor, breakpoint manager) behind a real *httptest.Server, the
// same composition cmd/agentflow/server.go builds for production.
func newGatewayServer(t *testing.T, registry *llm.ProviderRegistry) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()

	calc := cost.NewCalculator(cost.NewStaticSchedule(nil))
	exec := executor.New(registry, calc.Calculate, logger)
	factory := interceptor.NewDefaultFactory(interceptor.NewTokenBucketCounter(1000, 1000))
	conditional := router.NewConditionalRouter(factory)
	orchestrator := router.NewOrchestrator(conditional, router.NewInMemoryMetricsRepository(nil))
	bp := breakpoint.NewManager(logger)

	h := handlers.NewGatewayHandler(orchestrator, exec, bp, nil, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", h.HandleChatCompletions)
	mux.HandleFunc("/v1/responses", h.HandleResponses)
	mux.HandleFunc("/debug/continue", h.HandleDebugContinue)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// TestGateway_BarePassthrough covers scenario S1: a request naming no
// router is dispatched directly to its provider/model.
func TestGateway_BarePassthrough(t *testing.T) {
	registry := llm.NewProviderRegistry()
	provider := mocks.NewMockProvider().WithResponse("hello from passthrough")
	registry.Register(provider.Name(), provider)

	srv := newGatewayServer(t, registry)

	resp := postJSON(t, srv.URL+"/v1/chat/completions", gateway.ChatCompletionRequest{
		Model: "mock/gpt-test",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-Id"))
	assert.Equal(t, "mock", resp.Header.Get("X-Provider-Name"))

	var body struct {
		Data *llm.ChatResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body.Data)
	assert.Equal(t, "hello from passthrough", body.Data.Choices[0].Message.Content)
}

// TestGateway_ConditionalRouteWithGuardrail covers scenario S2: a
// guardrail pre-request interceptor feeds a conditional route's
// matching decision.
func TestGateway_ConditionalRouteWithGuardrail(t *testing.T) {
	registry := llm.NewProviderRegistry()
	provider := mocks.NewMockProvider().WithResponse("routed via guardrail")
	registry.Register(provider.Name(), provider)

	srv := newGatewayServer(t, registry)

	req := gateway.ChatCompletionRequest{
		Model:    "mock/ignored",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "plain content"}},
	}
	req.Router = &gateway.RoutingStrategy{
		Kind: gateway.RoutingConditional,
		Conditional: &gateway.ConditionalRouting{
			PreRequest: []gateway.InterceptorSpec{
				{
					Name:            "content-guard",
					InterceptorType: "guardrail",
					Extra:           map[string]any{"banned_substrings": []any{"sk-live-"}},
				},
			},
			Routes: []gateway.Route{
				{
					Name: "clean",
					Conditions: &gateway.RouteCondition{
						Kind: gateway.ConditionExpr,
						Expr: map[string]gateway.ConditionOp{
							"pre_request.content-guard.result": {"eq": true},
						},
					},
					Targets: []gateway.Target{{"model": "mock/gpt-test", "router": nil}},
				},
			},
		},
	}

	resp := postJSON(t, srv.URL+"/v1/chat/completions", req)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Data *llm.ChatResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body.Data)
	assert.Equal(t, "routed via guardrail", body.Data.Choices[0].Message.Content)
}

// TestGateway_MetricRoutePrefersLowerLatency covers scenario S4: a
// "min" metric strategy picks the candidate with the smaller recorded
// latency over a wildcard-matched default.
func TestGateway_MetricRoutePrefersLowerLatency(t *testing.T) {
	registry := llm.NewProviderRegistry()
	fast := mocks.NewMockProvider().WithResponse("fast provider")
	registry.Register(fast.Name(), fast)

	logger := zap.NewNop()
	calc := cost.NewCalculator(cost.NewStaticSchedule(nil))
	exec := executor.New(registry, calc.Calculate, logger)
	factory := interceptor.NewDefaultFactory(interceptor.NewTokenBucketCounter(1000, 1000))
	conditional := router.NewConditionalRouter(factory)
	metrics := router.NewInMemoryMetricsRepository(map[string]router.ProviderMetrics{
		"mock": {Models: map[string]router.WindowedMetrics{
			"fast": {Total: router.Metrics{Latency: ptrFloat(0.05)}},
			"slow": {Total: router.Metrics{Latency: ptrFloat(5.0)}},
		}},
	})
	orchestrator := router.NewOrchestrator(conditional, metrics)
	bp := breakpoint.NewManager(logger)
	h := handlers.NewGatewayHandler(orchestrator, exec, bp, nil, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", h.HandleChatCompletions)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	req := gateway.ChatCompletionRequest{
		Model:    "mock/ignored",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "pick fastest"}},
	}
	req.Router = &gateway.RoutingStrategy{
		Kind:   gateway.RoutingMin,
		Metric: string(router.MetricLatency),
		Models: []string{"mock/fast", "mock/slow"},
	}

	resp := postJSON(t, srv.URL+"/v1/chat/completions", req)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "mock", resp.Header.Get("X-Provider-Name"))
	assert.Equal(t, "fast", resp.Header.Get("X-Model-Name"))
}

// TestGateway_DebugContinueResumesPausedRequest covers scenario S6: a
// request tagged for debug interception blocks until /debug/continue
// resolves it, then completes normally.
func TestGateway_DebugContinueResumesPausedRequest(t *testing.T) {
	registry := llm.NewProviderRegistry()
	provider := mocks.NewMockProvider().WithResponse("resumed")
	registry.Register(provider.Name(), provider)

	logger := zap.NewNop()
	calc := cost.NewCalculator(cost.NewStaticSchedule(nil))
	exec := executor.New(registry, calc.Calculate, logger)
	factory := interceptor.NewDefaultFactory(interceptor.NewTokenBucketCounter(1000, 1000))
	conditional := router.NewConditionalRouter(factory)
	orchestrator := router.NewOrchestrator(conditional, router.NewInMemoryMetricsRepository(nil))
	bp := breakpoint.NewManager(logger)
	bp.SetInterceptAll(true)

	h := handlers.NewGatewayHandler(orchestrator, exec, bp, nil, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", h.HandleChatCompletions)
	mux.HandleFunc("/debug/continue", h.HandleDebugContinue)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	done := make(chan *http.Response, 1)
	go func() {
		resp := postJSON(t, srv.URL+"/v1/chat/completions", gateway.ChatCompletionRequest{
			Model:    "mock/gpt-test",
			Messages: []llm.Message{{Role: llm.RoleUser, Content: "paused request"}},
		})
		done <- resp
	}()

	var pending []breakpoint.PendingBreakpoint
	require.Eventually(t, func() bool {
		pending = bp.ListBreakpoints()
		return len(pending) == 1
	}, 2*time.Second, 10*time.Millisecond)

	continueResp := postJSON(t, srv.URL+"/debug/continue", map[string]string{
		"breakpoint_id": pending[0].ID,
	})
	defer continueResp.Body.Close()
	assert.Equal(t, http.StatusOK, continueResp.StatusCode)

	resp := <-done
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data *llm.ChatResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body.Data)
	assert.Equal(t, "resumed", body.Data.Choices[0].Message.Content)
}

func ptrFloat(v float64) *float64 { return &v }
