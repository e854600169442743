// Package executor dispatches a routed, router-free request to a
// concrete llm.Provider and shapes its result back into gateway terms:
// a basic (single-shot) path and a streaming path that re-emits
// provider chunks as gateway.ModelEvent values with per-chunk cost
// stamping (spec §4.7, grounded on
// executor/chat_completion/routed_executor.rs's execute_request).
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/llm"
	"github.com/BaSui01/agentflow/llm/gateway"
	"github.com/BaSui01/agentflow/llm/gateway/credentials"
)

// Headers names the response headers the original caches for trace
// correlation (spec §4.7).
type Headers struct {
	TraceID      string
	ModelName    string
	ProviderName string
	ThreadID     string
}

// CostFunc prices one usage sample; the cost package supplies the real
// implementation, kept as a function type here to avoid executor
// depending on cost's internal price-schedule lookup.
type CostFunc func(ctx context.Context, provider, model string, usage llm.ChatUsage) (float64, error)

// Result is a basic (non-streaming) execution's output.
type Result struct {
	Response *llm.ChatResponse
	Headers  Headers
	Cost     float64
}

// Executor resolves "provider/model" against a registry and runs either
// the basic or the streaming path.
type Executor struct {
	Registry *llm.ProviderRegistry
	Cost     CostFunc
	Logger   *zap.Logger

	// Cache backs the response cache hook (spec §4.11). Nil disables it
	// regardless of what a request's Extra.cache asks for.
	Cache    ResponseCache
	CacheTTL time.Duration

	// Credentials resolves the per-provider API key injected into the
	// outgoing provider call (spec §2's "Client → Credential resolution
	// → ..." data flow). Nil disables resolution: the provider call
	// falls back to whatever static credential it was constructed with.
	Credentials *credentials.Resolver
}

func New(registry *llm.ProviderRegistry, cost CostFunc, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{Registry: registry, Cost: cost, Logger: logger}
}

// WithCache attaches a response cache to an already-constructed executor,
// returning it for chaining at call sites (cmd/agentflow/server.go).
func (e *Executor) WithCache(cache ResponseCache, ttl time.Duration) *Executor {
	e.Cache = cache
	e.CacheTTL = ttl
	return e
}

// WithCredentials attaches a credential resolver to an already-constructed
// executor, returning it for chaining at call sites
// (cmd/agentflow/server.go).
func (e *Executor) WithCredentials(resolver *credentials.Resolver) *Executor {
	e.Credentials = resolver
	return e
}

// defaultCacheTTL is used when an Executor has a Cache but no explicit
// CacheTTL was configured.
const defaultCacheTTL = 5 * time.Minute

// resolvedCredential is the shape a credential blob is deserialised into;
// it mirrors credentials.Resolver.envCredential's own
// {"api_key": "..."} encoding.
type resolvedCredential struct {
	APIKey    string `json:"api_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
}

// injectCredential resolves providerName's credential for the request's
// tenant/project (carried as gateway tags, same convention as
// req.Tags["thread_id"]) and, on a hit, attaches it to ctx via
// llm.WithCredentialOverride so the provider adapter picks it up the same
// way it does for any other per-request override (spec §4.1, §2).
func (e *Executor) injectCredential(ctx context.Context, providerName string, req *gateway.ChatCompletionRequest) context.Context {
	if e.Credentials == nil {
		return ctx
	}
	tenant := req.Tags["tenant_id"]
	if tenant == "" {
		tenant = "default"
	}
	id := credentials.NewProviderCredentialsID(tenant, providerName, req.Tags["project_id"])

	var cred resolvedCredential
	found, err := credentials.ExtractInto(ctx, e.Credentials, id, &cred)
	if err != nil {
		e.Logger.Warn("executor: credential resolution failed", zap.String("provider", providerName), zap.Error(err))
		return ctx
	}
	if !found || (cred.APIKey == "" && cred.SecretKey == "") {
		return ctx
	}
	return llm.WithCredentialOverride(ctx, llm.CredentialOverride{APIKey: cred.APIKey, SecretKey: cred.SecretKey})
}

// resolve splits "provider/model" and looks the provider up in the
// registry. When the split has no slash, the whole string is both the
// lookup key and the model name (a bare alias registered directly).
func (e *Executor) resolve(modelRef string) (llm.Provider, string, string, error) {
	provider, model, ok := strings.Cut(modelRef, "/")
	if !ok {
		provider, model = modelRef, modelRef
	}
	p, found := e.Registry.Get(provider)
	if !found {
		return nil, "", "", gateway.NewError(gateway.KindUpstreamProvider, fmt.Sprintf("provider %q not registered", provider), nil)
	}
	return p, provider, model, nil
}

func toChatRequest(req *gateway.ChatCompletionRequest, provider, model, traceID string) *llm.ChatRequest {
	cr := &llm.ChatRequest{
		TraceID:  traceID,
		Model:    model,
		Messages: req.Messages,
		Tools:    req.Tools,
		Stop:     req.Stop,
	}
	if req.Temperature != nil {
		cr.Temperature = float32(*req.Temperature)
	}
	if req.MaxTokens != nil {
		cr.MaxTokens = *req.MaxTokens
	}
	if req.TopP != nil {
		cr.TopP = float32(*req.TopP)
	}
	if req.User != "" {
		cr.UserID = req.User
	}
	return cr
}

// Execute runs the basic (non-streaming) path: a single request/response
// round trip against the resolved provider, with cost calculated once
// over the final usage.
func (e *Executor) Execute(ctx context.Context, req *gateway.ChatCompletionRequest) (*Result, error) {
	provider, providerName, model, err := e.resolve(req.Model)
	if err != nil {
		return nil, err
	}

	traceID := traceIDFromContext(ctx)
	headers := Headers{
		TraceID:      traceID,
		ModelName:    model,
		ProviderName: providerName,
		ThreadID:     req.Tags["thread_id"],
	}

	ctx = e.injectCredential(ctx, providerName, req)

	cacheEnabled := e.Cache != nil && req.Cache != nil && req.Cache.Enabled
	var fingerprint string
	if cacheEnabled {
		fingerprint = Fingerprint(req)
		if cached, hit, err := e.Cache.Get(ctx, fingerprint); err != nil {
			e.Logger.Warn("executor: cache lookup failed", zap.Error(err))
		} else if hit {
			return &Result{Response: cached, Headers: headers}, nil
		}
	}

	resp, err := provider.Completion(ctx, toChatRequest(req, providerName, model, traceID))
	if err != nil {
		return nil, gateway.NewError(gateway.KindUpstreamProvider, "provider completion failed", err)
	}
	if err := deriveFinishReasons(resp); err != nil {
		return nil, err
	}

	var cost float64
	if e.Cost != nil {
		cost, err = e.Cost(ctx, providerName, model, resp.Usage)
		if err != nil {
			e.Logger.Warn("executor: cost calculation failed", zap.Error(err))
		}
	}

	if cacheEnabled {
		ttl := e.CacheTTL
		if ttl <= 0 {
			ttl = defaultCacheTTL
		}
		if err := e.Cache.Set(ctx, fingerprint, resp, ttl); err != nil {
			e.Logger.Warn("executor: cache store failed", zap.Error(err))
		}
	}

	return &Result{
		Response: resp,
		Headers:  headers,
		Cost:     cost,
	}, nil
}

// deriveFinishReasons applies spec §4.7's basic-path finish_reason rule
// to every choice: tool_calls if the message carries any, else whatever
// the provider reported. A choice with neither content nor tool calls is
// a fatal error, mirroring the streaming path's empty-content check.
func deriveFinishReasons(resp *llm.ChatResponse) error {
	for i := range resp.Choices {
		choice := &resp.Choices[i]
		if len(choice.Message.ToolCalls) > 0 {
			choice.FinishReason = "tool_calls"
			continue
		}
		if choice.Message.Content == "" {
			return gateway.NewError(gateway.KindUpstreamProvider, "provider response has no content and no tool calls", nil)
		}
	}
	return nil
}

// StreamChunk is one event on the gateway's outer stream: either a
// provider delta (with per-chunk cost attached once usage is known) or
// a terminal error.
type StreamChunk struct {
	Delta llm.Message
	Usage *llm.ChatUsage
	Cost  float64
	Done  bool
	Err   error
}

// ExecuteStream runs the streaming path: the provider's inner channel is
// forwarded chunk-by-chunk onto an outer channel, stamping cost on any
// chunk that carries usage, and closing cleanly (no DONE sentinel value
// is written to the Go channel itself — that belongs to the HTTP SSE
// adapter, which terminates the wire format with "data: [DONE]\n\n" once
// this channel closes).
func (e *Executor) ExecuteStream(ctx context.Context, req *gateway.ChatCompletionRequest) (<-chan StreamChunk, error) {
	provider, providerName, model, err := e.resolve(req.Model)
	if err != nil {
		return nil, err
	}

	traceID := traceIDFromContext(ctx)
	ctx = e.injectCredential(ctx, providerName, req)
	inner, err := provider.Stream(ctx, toChatRequest(req, providerName, model, traceID))
	if err != nil {
		return nil, gateway.NewError(gateway.KindUpstreamProvider, "provider stream failed", err)
	}

	out := make(chan StreamChunk, 16)
	go e.drain(ctx, inner, out, providerName, model)
	return out, nil
}

func (e *Executor) drain(ctx context.Context, inner <-chan llm.StreamChunk, out chan<- StreamChunk, providerName, model string) {
	defer close(out)

	sawContent := false
	for {
		select {
		case <-ctx.Done():
			out <- StreamChunk{Err: ctx.Err(), Done: true}
			return
		case chunk, ok := <-inner:
			if !ok {
				if !sawContent {
					out <- StreamChunk{Err: gateway.NewError(gateway.KindUpstreamProvider, "stream produced no content and no tool calls", nil), Done: true}
				}
				return
			}
			if chunk.Err != nil {
				// Per spec: error chunks are forwarded but are not
				// individually fatal — the stream continues unless the
				// provider also closes the channel.
				out <- StreamChunk{Err: fmt.Errorf("%s", chunk.Err.Message), Done: false}
				continue
			}
			if chunk.Delta.Content != "" || len(chunk.Delta.ToolCalls) > 0 {
				sawContent = true
			}

			var cost float64
			if chunk.Usage != nil && e.Cost != nil {
				var err error
				cost, err = e.Cost(ctx, providerName, model, *chunk.Usage)
				if err != nil {
					e.Logger.Warn("executor: per-chunk cost calculation failed", zap.Error(err))
				}
			}

			out <- StreamChunk{
				Delta: chunk.Delta,
				Usage: chunk.Usage,
				Cost:  cost,
				Done:  chunk.FinishReason != "",
			}
		}
	}
}

type traceIDKey struct{}

// WithTraceID attaches a trace id to ctx for traceIDFromContext to pick
// up; the telemetry bus sets this from the active span.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

func traceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey{}).(string); ok && id != "" {
		return id
	}
	return fmt.Sprintf("trace-%d", time.Now().UnixNano())
}
