package interceptor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Direction selects which request phase a Message Transformer rule
// applies to.
type Direction string

const (
	DirectionPreRequest  Direction = "pre_request"
	DirectionPostResponse Direction = "post_response"
	DirectionBoth        Direction = "both"
)

// --- Guardrail -------------------------------------------------------

// GuardCheckFunc evaluates a policy stage and reports pass/fail plus any
// extra detail to surface in the result object.
type GuardCheckFunc func(ctx context.Context, ic *Context, stage string) (bool, map[string]any, error)

// Guardrail applies a named policy stage (input/output) and produces
// {result, stage, ...} for route conditions to key off of.
type Guardrail struct {
	Base
	GuardName string
	Stage     string
	Check     GuardCheckFunc
}

func (g *Guardrail) Name() string { return g.GuardName }

func (g *Guardrail) PreRequest(ctx context.Context, ic *Context) (json.RawMessage, error) {
	return g.run(ctx, ic, "pre_request")
}

func (g *Guardrail) PostRequest(ctx context.Context, ic *Context, _ json.RawMessage) (json.RawMessage, error) {
	return g.run(ctx, ic, "post_request")
}

func (g *Guardrail) run(ctx context.Context, ic *Context, phase string) (json.RawMessage, error) {
	pass, extra, err := g.Check(ctx, ic, g.Stage)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"result": pass, "stage": g.Stage, "phase": phase}
	for k, v := range extra {
		payload[k] = v
	}
	return json.Marshal(payload)
}

// --- Message Transformer ---------------------------------------------

// TransformRule is one {pattern, replacement, flags} entry. Flag "g"
// replaces all matches (default: first only); flag "i" is
// case-insensitive.
type TransformRule struct {
	Pattern     string
	Replacement string
	Flags       string
}

func (r TransformRule) compile() (*regexp.Regexp, error) {
	pattern := r.Pattern
	if strings.Contains(r.Flags, "i") {
		pattern = "(?i)" + pattern
	}
	return regexp.Compile(pattern)
}

func (r TransformRule) apply(s string) (string, error) {
	re, err := r.compile()
	if err != nil {
		return s, err
	}
	if strings.Contains(r.Flags, "g") {
		return re.ReplaceAllString(s, r.Replacement), nil
	}
	loc := re.FindStringIndex(s)
	if loc == nil {
		return s, nil
	}
	replaced := re.ReplaceAllString(s[loc[0]:loc[1]], r.Replacement)
	return s[:loc[0]] + replaced + s[loc[1]:], nil
}

// Transformer rewrites request messages (pre-request) or response
// choices' content (post-request) by a sequence of regex rules.
type Transformer struct {
	Base
	TransformerName string
	Direction       Direction
	Rules           []TransformRule
}

func (t *Transformer) Name() string { return t.TransformerName }

func (t *Transformer) PreRequest(_ context.Context, ic *Context) (json.RawMessage, error) {
	if t.Direction != DirectionPreRequest && t.Direction != DirectionBoth {
		return json.Marshal(map[string]any{"applied": false})
	}
	applied := 0
	for i := range ic.Request.Messages {
		content := ic.Request.Messages[i].Content
		for _, rule := range t.Rules {
			next, err := rule.apply(content)
			if err != nil {
				return nil, fmt.Errorf("transformer %q: %w", t.TransformerName, err)
			}
			if next != content {
				applied++
			}
			content = next
		}
		ic.Request.Messages[i].Content = content
	}
	return json.Marshal(map[string]any{"applied": applied > 0, "count": applied})
}

func (t *Transformer) PostRequest(_ context.Context, _ *Context, response json.RawMessage) (json.RawMessage, error) {
	if t.Direction != DirectionPostResponse && t.Direction != DirectionBoth {
		return json.Marshal(map[string]any{"applied": false})
	}
	var body struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(response, &body); err != nil {
		return nil, fmt.Errorf("transformer %q: decoding response: %w", t.TransformerName, err)
	}
	applied := 0
	for i := range body.Choices {
		content := body.Choices[i].Message.Content
		for _, rule := range t.Rules {
			next, err := rule.apply(content)
			if err != nil {
				return nil, fmt.Errorf("transformer %q: %w", t.TransformerName, err)
			}
			if next != content {
				applied++
			}
			content = next
		}
		body.Choices[i].Message.Content = content
	}
	return json.Marshal(map[string]any{"applied": applied > 0, "count": applied, "choices": body.Choices})
}

// --- Rate Limiter ------------------------------------------------------

// LimitTarget selects what a rate limit counts.
type LimitTarget string

const (
	LimitRequests LimitTarget = "requests"
	LimitCost     LimitTarget = "cost"
)

// LimitEntity selects the key a rate limit is scoped to.
type LimitEntity string

const (
	EntityUserID   LimitEntity = "user_id"
	EntityUserTier LimitEntity = "user_tier"
)

// LimitPeriod is the rate-limit accounting window.
type LimitPeriod string

const (
	PeriodHour  LimitPeriod = "hour"
	PeriodDay   LimitPeriod = "day"
	PeriodMonth LimitPeriod = "month"
	PeriodTotal LimitPeriod = "total"
)

// Counter is the pluggable rate-limiter backend: increments and reports
// current usage for an entity within a period. Resolves spec §9 open
// question (d) by requiring a real implementation be supplied (see
// RedisCounter / TokenBucketCounter).
type Counter interface {
	Increment(ctx context.Context, entityID string, period LimitPeriod, amount float64) (current float64, err error)
}

// TokenBucketCounter backs the "total" period using
// golang.org/x/time/rate, grounded on the teacher's
// llm/middleware/chain.go RateLimiter interface pattern.
type TokenBucketCounter struct {
	limiter *rate.Limiter
	used    float64
}

func NewTokenBucketCounter(ratePerSecond float64, burst int) *TokenBucketCounter {
	return &TokenBucketCounter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

func (c *TokenBucketCounter) Increment(_ context.Context, _ string, _ LimitPeriod, amount float64) (float64, error) {
	c.used += amount
	_ = c.limiter.AllowN(time.Now(), int(amount))
	return c.used, nil
}

// RateLimiter queries a pluggable Counter and records the verdict; it
// does not itself reject — a post-check route condition acts on
// "allowed" (spec §4.3).
type RateLimiter struct {
	Base
	LimiterName string
	Limit       float64
	Target      LimitTarget
	Entity      LimitEntity
	Period      LimitPeriod
	Backend     Counter
}

func (l *RateLimiter) Name() string { return l.LimiterName }

func (l *RateLimiter) PreRequest(ctx context.Context, ic *Context) (json.RawMessage, error) {
	entityID := l.entityID(ic)
	amount := 1.0
	if l.Target == LimitCost {
		amount = 0 // cost is not known until after execution; pre-request only checks current usage
	}
	current, err := l.Backend.Increment(ctx, entityID, l.Period, amount)
	if err != nil {
		return nil, err
	}
	allowed := current <= l.Limit
	remaining := l.Limit - current
	if remaining < 0 {
		remaining = 0
	}
	return json.Marshal(map[string]any{
		"entity_id":     entityID,
		"current_usage": current,
		"limit":         l.Limit,
		"remaining":     remaining,
		"allowed":       allowed,
	})
}

func (l *RateLimiter) PostRequest(_ context.Context, _ *Context, _ json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(map[string]any{"recorded": true})
}

func (l *RateLimiter) entityID(ic *Context) string {
	switch l.Entity {
	case EntityUserTier:
		if t, ok := ic.Metadata["user_tier"].(string); ok {
			return t
		}
	default:
		if ic.Request != nil && ic.Request.Extra.User != "" {
			return ic.Request.Extra.User
		}
	}
	return "anonymous"
}
