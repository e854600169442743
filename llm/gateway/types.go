// Package gateway implements the request-path engine that sits between
// client chat/completions requests and the concrete LLM providers: routing
// decisions, interceptor chains, MCP tool resolution, breakpoints,
// credential resolution and telemetry.
package gateway

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/agentflow/llm"
)

// Extra carries the gateway-specific bag of fields that ride alongside an
// OpenAI-compatible chat completion body.
type Extra struct {
	User      string                     `json:"user,omitempty"`
	Variables map[string]any             `json:"variables,omitempty"`
	Cache     *CacheOptions              `json:"cache,omitempty"`
	Router    *RoutingStrategy           `json:"router,omitempty"`
	MCPServers []ServerTools             `json:"mcp_servers,omitempty"`
	Metadata  map[string]any             `json:"metadata,omitempty"`
	Fields    map[string]json.RawMessage `json:"-"`
}

// CacheOptions controls the response cache hook (§4.11).
type CacheOptions struct {
	Enabled     bool   `json:"enabled"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// ChatCompletionRequest is the gateway's working representation of an
// incoming chat completions request. It is always mutated on a clone,
// never on the caller-supplied value (spec §3).
type ChatCompletionRequest struct {
	Model       string             `json:"model"`
	Messages    []llm.Message      `json:"messages"`
	Tools       []llm.ToolSchema   `json:"tools,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	MaxTokens   *int               `json:"max_tokens,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	Stop        []string           `json:"stop,omitempty"`
	Tags        map[string]string  `json:"tags,omitempty"`

	// Extra is embedded anonymously so its fields (user, variables, cache,
	// router, mcp_servers, metadata) serialise inline at the top level of
	// the request body, alongside model/messages/etc, matching how a
	// client actually sends them and how Target overlays address them by
	// bare key (spec §3, §4.6).
	Extra
}

// Clone returns a deep copy so that routing/interception mutation never
// touches the original client-supplied value.
func (r *ChatCompletionRequest) Clone() *ChatCompletionRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.Messages = append([]llm.Message(nil), r.Messages...)
	out.Tools = append([]llm.ToolSchema(nil), r.Tools...)
	out.Stop = append([]string(nil), r.Stop...)
	if r.Tags != nil {
		out.Tags = make(map[string]string, len(r.Tags))
		for k, v := range r.Tags {
			out.Tags[k] = v
		}
	}
	return &out
}

// ChatCompletionRequestWithTools pairs a request with an optional routing
// specification of type T — either a RoutingStrategy or no router at all.
type ChatCompletionRequestWithTools[T any] struct {
	Request *ChatCompletionRequest
	Router  *T
}

// Target is a partial overlay merged into the working request before
// execution; null (absent) fields preserve the prior value (GLOSSARY).
type Target map[string]any

// MergeInto applies non-null fields from the target onto a JSON-shaped
// view of the request, returning a new request. Implements the
// merge_request_with_target invariant from spec §8: a target with all
// null values round-trips the request unchanged.
func MergeInto(req *ChatCompletionRequest, target Target) (*ChatCompletionRequest, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	for k, v := range target {
		if v == nil {
			continue
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if string(encoded) == "null" {
			continue
		}
		obj[k] = encoded
	}
	merged, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var out ChatCompletionRequest
	if err := json.Unmarshal(merged, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RoutingKind tags the RoutingStrategy variant.
type RoutingKind string

const (
	RoutingCost        RoutingKind = "cost"
	RoutingLatency      RoutingKind = "latency"
	RoutingTime         RoutingKind = "time"
	RoutingRandom       RoutingKind = "random"
	RoutingPercentage   RoutingKind = "percentage"
	RoutingTransformed  RoutingKind = "transformed"
	RoutingScript       RoutingKind = "script"
	RoutingMin          RoutingKind = "min"
	RoutingConditional  RoutingKind = "conditional"
)

// WeightedModel is one side of a Percentage split: (model name, weight).
type WeightedModel struct {
	Model  string  `json:"model"`
	Weight float64 `json:"weight"`
}

// RoutingStrategy is the tagged union describing how a router picks or
// rewrites the working request (spec §3).
type RoutingStrategy struct {
	Kind RoutingKind `json:"type"`

	Name   string   `json:"name,omitempty"`
	Models []string `json:"models,omitempty"`

	// Cost
	MaxCostPerMillionTokens float64 `json:"max_cost_per_million_tokens,omitempty"`
	WillingnessToPay        float64 `json:"willingness_to_pay,omitempty"`

	// Percentage
	A WeightedModel `json:"a,omitempty"`
	B WeightedModel `json:"b,omitempty"`

	// Transformed
	Parameters map[string]any `json:"parameters,omitempty"`

	// Script
	Script string `json:"script,omitempty"`

	// Min
	Metric string `json:"metric,omitempty"`

	// Conditional
	Conditional *ConditionalRouting `json:"conditional,omitempty"`

	// Targets used when this strategy resolves directly to a fixed
	// overlay list (used by the Percentage/Random/Min/Metric/Transformed
	// paths once they have picked a single model).
	Targets []Target `json:"targets,omitempty"`
}

// InterceptorSpec names a concrete interceptor plus its configuration.
type InterceptorSpec struct {
	Name            string         `json:"name"`
	InterceptorType string         `json:"interceptor_type"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// Route is a single entry in a ConditionalRouting's ordered route list.
type Route struct {
	Name       string          `json:"name"`
	Conditions *RouteCondition `json:"conditions,omitempty"`
	Targets    []Target        `json:"targets,omitempty"`
}

// ConditionalRouting is the Conditional RoutingStrategy payload: ordered
// pre-request interceptors, ordered routes, ordered post-request
// interceptors.
type ConditionalRouting struct {
	PreRequest  []InterceptorSpec `json:"pre_request,omitempty"`
	Routes      []Route           `json:"routes"`
	PostRequest []InterceptorSpec `json:"post_request,omitempty"`
}

// ConditionKind tags a RouteCondition tree node.
type ConditionKind int

const (
	ConditionAll ConditionKind = iota
	ConditionAny
	ConditionExpr
)

// ConditionOp is a map from comparison operator ("eq", ...) to the value
// compared against.
type ConditionOp map[string]any

// RouteCondition is a node in the boolean condition tree (spec §3).
// Exactly one of All/Any/Expr is populated, per Kind.
type RouteCondition struct {
	Kind ConditionKind

	All []RouteCondition `json:"all,omitempty"`
	Any []RouteCondition `json:"any,omitempty"`
	// Expr maps a dotted key (pre_request.<name>.<field> or
	// metadata.<key>) to its comparison operator map.
	Expr map[string]ConditionOp `json:"-"`
}

// MarshalJSON renders whichever branch is populated.
func (c RouteCondition) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case ConditionAll:
		return json.Marshal(struct {
			All []RouteCondition `json:"all"`
		}{c.All})
	case ConditionAny:
		return json.Marshal(struct {
			Any []RouteCondition `json:"any"`
		}{c.Any})
	default:
		return json.Marshal(c.Expr)
	}
}

// UnmarshalJSON detects which branch is present.
func (c *RouteCondition) UnmarshalJSON(data []byte) error {
	var probe struct {
		All *[]RouteCondition `json:"all"`
		Any *[]RouteCondition `json:"any"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	switch {
	case probe.All != nil:
		c.Kind = ConditionAll
		c.All = *probe.All
	case probe.Any != nil:
		c.Kind = ConditionAny
		c.Any = *probe.Any
	default:
		c.Kind = ConditionExpr
		var expr map[string]ConditionOp
		if err := json.Unmarshal(data, &expr); err != nil {
			return err
		}
		c.Expr = expr
	}
	return nil
}

// TransportKind enumerates the MCP transport variants.
type TransportKind string

const (
	TransportHTTP  TransportKind = "http"
	TransportSSE   TransportKind = "sse"
	TransportWS    TransportKind = "ws"
	TransportStdio TransportKind = "stdio"
)

// ToolFilterMode selects whether all server tools pass, or only a
// descriptor-matched subset.
type ToolFilterMode string

const (
	ToolFilterAll      ToolFilterMode = "all"
	ToolFilterSelected ToolFilterMode = "selected"
)

// ToolDescriptor names (literally or by regex) one tool to keep, with an
// optional description override.
type ToolDescriptor struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// ToolsFilter selects which tools a server exposes to the gateway.
type ToolsFilter struct {
	Mode     ToolFilterMode   `json:"mode"`
	Selected []ToolDescriptor `json:"selected,omitempty"`
}

// McpDefinition binds a transport to connection details plus a filter.
type McpDefinition struct {
	Transport TransportKind     `json:"transport"`
	URL       string            `json:"url,omitempty"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// ServerTools is one MCP server declaration plus its tool filter.
type ServerTools struct {
	Name   string        `json:"name"`
	Server McpDefinition `json:"server"`
	Filter ToolsFilter   `json:"filter"`
}

// ModelEventKind tags a ModelEvent variant.
type ModelEventKind string

const (
	EventLlmStart        ModelEventKind = "llm_start"
	EventLlmContent       ModelEventKind = "llm_content"
	EventLlmStop          ModelEventKind = "llm_stop"
	EventToolStart        ModelEventKind = "tool_start"
	EventCustomCost       ModelEventKind = "custom.cost"
	EventCustomSpanStart  ModelEventKind = "custom.span_start"
	EventCustomBreakpoint ModelEventKind = "custom.breakpoint"
	EventCustomResume     ModelEventKind = "custom.breakpoint_resume"
)

// ModelEvent is the tagged event carried on the inner/outer event
// channels and the telemetry bus (spec §3).
type ModelEvent struct {
	Kind      ModelEventKind `json:"type"`
	TraceID   string         `json:"trace_id"`
	SpanID    string         `json:"span_id"`
	Timestamp time.Time      `json:"timestamp"`

	Content string `json:"content,omitempty"`

	Output *string          `json:"output,omitempty"`
	Usage  *llm.TokenUsage  `json:"usage,omitempty"`

	ToolName string          `json:"tool_name,omitempty"`
	ToolArgs json.RawMessage `json:"tool_args,omitempty"`

	CostValue float64 `json:"cost_value,omitempty"`

	BreakpointRequest  *ChatCompletionRequest `json:"breakpoint_request,omitempty"`
	BreakpointUpdated  *ChatCompletionRequest `json:"breakpoint_updated_request,omitempty"`
}
