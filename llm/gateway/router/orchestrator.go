package router

import (
	"context"
	"math/rand"

	"github.com/BaSui01/agentflow/llm/gateway"
	"github.com/BaSui01/agentflow/llm/gateway/interceptor"
)

// MaxDepth bounds the orchestrator's stack depth (spec §4.6, §8).
const MaxDepth = 10

// ErrMaxDepthExceeded is returned when the LIFO stack pops more than
// MaxDepth times for a single request.
type ErrMaxDepthExceeded struct{}

func (ErrMaxDepthExceeded) Error() string { return "routing: max depth exceeded" }

// Executor is called once a request no longer names a router, i.e. it is
// ready for dispatch to a concrete provider (spec §4.7 plugs in here).
type Executor interface {
	Execute(ctx context.Context, req *gateway.ChatCompletionRequest) (*ExecResult, error)
}

// ExecResult is an opaque success value returned by Executor and handed
// back unchanged by the orchestrator.
type ExecResult struct {
	Response any
}

// stackEntry is one (request, optional target overlay) pair on the
// orchestrator's LIFO stack.
type stackEntry struct {
	request *gateway.ChatCompletionRequest
	target  *gateway.Target
}

// Orchestrator performs the depth-bounded DFS over router target lists
// with sequential fallback described in spec §4.6.
type Orchestrator struct {
	Conditional       *ConditionalRouter
	Metrics           MetricsRepository
	InterceptorFactory interceptor.Factory
}

func NewOrchestrator(conditional *ConditionalRouter, metrics MetricsRepository) *Orchestrator {
	return &Orchestrator{Conditional: conditional, Metrics: metrics}
}

// Run drives the stack machine to completion: resolving routers until a
// plain request remains, then executing it, falling back to the next
// stack entry on an UpstreamProvider-class error.
func (o *Orchestrator) Run(ctx context.Context, req *gateway.ChatCompletionRequest, exec Executor) (*ExecResult, error) {
	stack := []stackEntry{{request: req}}
	depth := 0

	for len(stack) > 0 {
		depth++
		if depth > MaxDepth {
			return nil, ErrMaxDepthExceeded{}
		}

		entry := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		working := entry.request
		if entry.target != nil {
			working = working.Clone()
			working.Extra.Router = nil
			merged, err := gateway.MergeInto(working, *entry.target)
			if err != nil {
				return nil, gateway.NewError(gateway.KindRouting, "merging target overlay", err)
			}
			working = merged
		}

		if working.Extra.Router != nil {
			targets, err := o.resolveTargets(ctx, working)
			if err != nil {
				// Routing resolution failure: not fallbackable, but the
				// production behaviour logs and drops this branch rather
				// than aborting the whole request when other branches
				// remain on the stack.
				if len(stack) == 0 {
					return nil, gateway.NewError(gateway.KindRouting, "resolving router", err)
				}
				continue
			}
			for i := len(targets) - 1; i >= 0; i-- {
				t := targets[i]
				stack = append(stack, stackEntry{request: working, target: &t})
			}
			continue
		}

		result, err := exec.Execute(ctx, working)
		if err == nil {
			return result, nil
		}
		if len(stack) == 0 {
			return nil, err
		}
		// Sequential fallback: log-and-continue to the next target.
	}

	return nil, gateway.NewError(gateway.KindRouting, "no targets produced a result", nil)
}

// resolveTargets resolves the working request's router field — either
// the Conditional variant or a strategy-based one — into an ordered
// target list.
func (o *Orchestrator) resolveTargets(ctx context.Context, req *gateway.ChatCompletionRequest) ([]gateway.Target, error) {
	strategy := req.Extra.Router
	if strategy.Kind == gateway.RoutingConditional {
		if strategy.Conditional == nil {
			return nil, nil
		}
		return o.Conditional.GetTarget(ctx, strategy.Conditional, req, nil, req.Extra.Metadata)
	}
	return o.resolveStrategy(ctx, strategy, req)
}

func (o *Orchestrator) resolveStrategy(ctx context.Context, s *gateway.RoutingStrategy, req *gateway.ChatCompletionRequest) ([]gateway.Target, error) {
	switch s.Kind {
	case gateway.RoutingRandom:
		if len(s.Models) == 0 {
			return nil, nil
		}
		pick := s.Models[rand.Intn(len(s.Models))]
		return []gateway.Target{{"model": pick, "router": nil}}, nil

	case gateway.RoutingPercentage:
		pick := PickPercentage(s.A, s.B)
		return []gateway.Target{{"model": pick, "router": nil}}, nil

	case gateway.RoutingTransformed:
		merged, err := gateway.MergeInto(req, s.Parameters)
		if err != nil {
			return nil, err
		}
		return []gateway.Target{targetFromRequest(merged)}, nil

	case gateway.RoutingMin:
		metric := MetricSelector(s.Metric)
		model, err := RouteMetric(ctx, s.Models, metric, WindowTotal, nil, o.Metrics, nil)
		if err != nil {
			return nil, err
		}
		return []gateway.Target{{"model": model, "router": nil}}, nil

	case gateway.RoutingLatency:
		minimize := true
		model, err := RouteMetric(ctx, s.Models, MetricTtft, WindowTotal, &minimize, o.Metrics, nil)
		if err != nil {
			return nil, err
		}
		return []gateway.Target{{"model": model, "router": nil}}, nil

	case gateway.RoutingTime:
		minimize := true
		model, err := RouteMetric(ctx, s.Models, MetricLatency, WindowTotal, &minimize, o.Metrics, nil)
		if err != nil {
			return nil, err
		}
		return []gateway.Target{{"model": model, "router": nil}}, nil

	case gateway.RoutingCost:
		return nil, gateway.NewError(gateway.KindRouting, "cost routing strategy is not implemented", nil)

	case gateway.RoutingScript:
		return nil, gateway.NewError(gateway.KindRouting, "script routing strategy requires an external script engine", nil)

	default:
		return s.Targets, nil
	}
}

// PickPercentage implements the raw [0, a+b) linear partition: spec.md
// leaves weights unnormalised by design (§9 open question b).
func PickPercentage(a, b gateway.WeightedModel) string {
	total := a.Weight + b.Weight
	if total <= 0 {
		return a.Model
	}
	if rand.Float64()*total < a.Weight {
		return a.Model
	}
	return b.Model
}

func targetFromRequest(req *gateway.ChatCompletionRequest) gateway.Target {
	return gateway.Target{
		"model":       req.Model,
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
		"top_p":       req.TopP,
		"stop":        req.Stop,
		"router":      nil,
	}
}
