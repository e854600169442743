// Package router implements the conditional router, the metric router,
// and the depth-bounded routing orchestrator (spec §4.4-§4.6).
package router

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/BaSui01/agentflow/llm/gateway"
	"github.com/BaSui01/agentflow/llm/gateway/interceptor"
)

// ConditionalRouter evaluates an ordered route list against the lazily
// materialised interceptor results and request metadata.
type ConditionalRouter struct {
	Factory interceptor.Factory
}

func NewConditionalRouter(factory interceptor.Factory) *ConditionalRouter {
	return &ConditionalRouter{Factory: factory}
}

// ReferencedPreRequestInterceptors scans every route's condition tree for
// pre_request.<name>.<field> keys and returns the set of names actually
// needed (spec §4.4 step 1).
func ReferencedPreRequestInterceptors(routes []gateway.Route) map[string]struct{} {
	set := map[string]struct{}{}
	var walk func(c *gateway.RouteCondition)
	walk = func(c *gateway.RouteCondition) {
		if c == nil {
			return
		}
		switch c.Kind {
		case gateway.ConditionAll:
			for i := range c.All {
				walk(&c.All[i])
			}
		case gateway.ConditionAny:
			for i := range c.Any {
				walk(&c.Any[i])
			}
		default:
			for k := range c.Expr {
				if name, ok := preRequestName(k); ok {
					set[name] = struct{}{}
				}
			}
		}
	}
	for _, r := range routes {
		walk(r.Conditions)
	}
	return set
}

func preRequestName(key string) (string, bool) {
	if !strings.HasPrefix(key, "pre_request.") {
		return "", false
	}
	parts := strings.Split(key, ".")
	if len(parts) != 3 {
		return "", false
	}
	return parts[1], true
}

// GetTarget instantiates only the referenced pre-request interceptors,
// then returns the first matching route's target list, or nil if no
// route matches (spec §4.4).
func (r *ConditionalRouter) GetTarget(ctx context.Context, routing *gateway.ConditionalRouting, req *gateway.ChatCompletionRequest, headers map[string]string, metadata map[string]any) ([]gateway.Target, error) {
	referenced := ReferencedPreRequestInterceptors(routing.Routes)

	materialised := map[string]interceptor.Interceptor{}
	for _, spec := range routing.PreRequest {
		if _, need := referenced[spec.Name]; !need {
			continue
		}
		inst, err := r.Factory.Create(spec)
		if err != nil {
			// Creation failures are silently skipped, mirroring the
			// production router: an unreferenced-in-practice or
			// misconfigured interceptor does not abort routing.
			continue
		}
		materialised[spec.Name] = inst
	}

	state := interceptor.NewState()
	ic := &interceptor.Context{Request: req, Headers: headers, State: state, Metadata: metadata}
	lazy := interceptor.NewLazyManager(materialised, ic)

	for _, route := range routing.Routes {
		if route.Conditions == nil {
			// No conditions at all: an implicit default/else route
			// that always matches.
			return route.Targets, nil
		}
		matched, err := evaluateConditions(ctx, route.Conditions, lazy, metadata)
		if err != nil {
			// Non-fatal: treated as a non-match, continue to the next route.
			continue
		}
		if matched {
			return route.Targets, nil
		}
	}
	return nil, nil
}

func evaluateConditions(ctx context.Context, cond *gateway.RouteCondition, lazy *interceptor.LazyManager, metadata map[string]any) (bool, error) {
	switch cond.Kind {
	case gateway.ConditionAll:
		for i := range cond.All {
			ok, err := evaluateConditions(ctx, &cond.All[i], lazy, metadata)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case gateway.ConditionAny:
		for i := range cond.Any {
			ok, err := evaluateConditions(ctx, &cond.Any[i], lazy, metadata)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		for key, op := range cond.Expr {
			ok, err := evaluateOp(ctx, key, op, lazy, metadata)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}
}

func evaluateOp(ctx context.Context, key string, op gateway.ConditionOp, lazy *interceptor.LazyManager, metadata map[string]any) (bool, error) {
	if name, ok := preRequestName(key); ok {
		field := strings.Split(key, ".")[2]
		data, found, err := lazy.GetResult(ctx, name)
		if err != nil {
			return false, err
		}
		if !found {
			return missingIsTrue(op), nil
		}
		var obj map[string]any
		if err := json.Unmarshal(data, &obj); err != nil {
			return missingIsTrue(op), nil
		}
		val, ok := obj[field]
		if !ok {
			return missingIsTrue(op), nil
		}
		return compareOp(val, op), nil
	}

	if metaKey, ok := strings.CutPrefix(key, "metadata."); ok {
		val, ok := metadata[metaKey]
		if !ok {
			return missingIsTrue(op), nil
		}
		return compareOp(val, op), nil
	}

	return false, nil
}

// missingIsTrue implements "a missing reference yields false unless an
// inequality operator is explicitly present, in which case missing is
// true" (spec §4.4).
func missingIsTrue(op gateway.ConditionOp) bool {
	_, hasNe := op["ne"]
	return hasNe
}

func compareOp(val any, op gateway.ConditionOp) bool {
	for opName, want := range op {
		switch opName {
		case "eq":
			if !jsonEqual(val, want) {
				return false
			}
		case "ne":
			if jsonEqual(val, want) {
				return false
			}
		default:
			// Unsupported operator: treat as non-matching rather than
			// panicking on an unknown comparator.
			return false
		}
	}
	return true
}

func jsonEqual(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}
