package interceptor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/agentflow/llm/gateway"
)

// DefaultFactory builds the three concrete interceptor kinds the
// gateway ships (guardrail, transformer, rate_limiter) from their
// InterceptorSpec's Extra payload. A Counter backend is supplied once
// and shared by every rate_limiter instance this factory creates,
// mirroring how a single Redis/token-bucket client backs every limiter
// in a process (spec §4.3, §9 open question d).
type DefaultFactory struct {
	RateLimiterBackend Counter
}

func NewDefaultFactory(backend Counter) *DefaultFactory {
	return &DefaultFactory{RateLimiterBackend: backend}
}

func (f *DefaultFactory) Create(spec gateway.InterceptorSpec) (Interceptor, error) {
	switch spec.InterceptorType {
	case "guardrail":
		return f.buildGuardrail(spec)
	case "transformer":
		return f.buildTransformer(spec)
	case "rate_limiter":
		return f.buildRateLimiter(spec)
	default:
		return nil, fmt.Errorf("interceptor: unknown interceptor_type %q", spec.InterceptorType)
	}
}

// buildGuardrail constructs a content-length policy check driven by
// extra.max_length / extra.banned_substrings — a data-driven stand-in
// for the gateway's pluggable moderation hook, since an arbitrary
// external policy call cannot be expressed from JSON configuration
// alone.
func (f *DefaultFactory) buildGuardrail(spec gateway.InterceptorSpec) (Interceptor, error) {
	stage, _ := spec.Extra["stage"].(string)
	if stage == "" {
		stage = "input"
	}
	maxLen := 0
	if v, ok := spec.Extra["max_length"].(float64); ok {
		maxLen = int(v)
	}
	var banned []string
	if raw, ok := spec.Extra["banned_substrings"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				banned = append(banned, s)
			}
		}
	}

	check := func(_ context.Context, ic *Context, stage string) (bool, map[string]any, error) {
		var content strings.Builder
		if ic.Request != nil {
			for _, m := range ic.Request.Messages {
				content.WriteString(m.Content)
			}
		}
		text := content.String()

		if maxLen > 0 && len(text) > maxLen {
			return false, map[string]any{"reason": "max_length_exceeded"}, nil
		}
		for _, b := range banned {
			if b != "" && strings.Contains(text, b) {
				return false, map[string]any{"reason": "banned_substring", "match": b}, nil
			}
		}
		return true, nil, nil
	}

	return &Guardrail{GuardName: spec.Name, Stage: stage, Check: check}, nil
}

func (f *DefaultFactory) buildTransformer(spec gateway.InterceptorSpec) (Interceptor, error) {
	direction := DirectionPreRequest
	if d, ok := spec.Extra["direction"].(string); ok {
		direction = Direction(d)
	}

	var rules []TransformRule
	raw, ok := spec.Extra["rules"].([]any)
	if !ok {
		return nil, fmt.Errorf("transformer %q: extra.rules must be an array", spec.Name)
	}
	for _, r := range raw {
		encoded, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("transformer %q: %w", spec.Name, err)
		}
		var rule TransformRule
		if err := json.Unmarshal(encoded, &rule); err != nil {
			return nil, fmt.Errorf("transformer %q: %w", spec.Name, err)
		}
		rules = append(rules, rule)
	}

	return &Transformer{TransformerName: spec.Name, Direction: direction, Rules: rules}, nil
}

func (f *DefaultFactory) buildRateLimiter(spec gateway.InterceptorSpec) (Interceptor, error) {
	if f.RateLimiterBackend == nil {
		return nil, fmt.Errorf("rate_limiter %q: no Counter backend configured", spec.Name)
	}
	limit, _ := spec.Extra["limit"].(float64)
	target := LimitTarget("requests")
	if t, ok := spec.Extra["target"].(string); ok {
		target = LimitTarget(t)
	}
	entity := LimitEntity("user_id")
	if e, ok := spec.Extra["entity"].(string); ok {
		entity = LimitEntity(e)
	}
	period := LimitPeriod("total")
	if p, ok := spec.Extra["period"].(string); ok {
		period = LimitPeriod(p)
	}

	return &RateLimiter{
		LimiterName: spec.Name,
		Limit:       limit,
		Target:      target,
		Entity:      entity,
		Period:      period,
		Backend:     f.RateLimiterBackend,
	}, nil
}
