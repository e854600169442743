// Package cost implements cost and usage accounting: pricing a usage
// sample against a per-model price schedule and recording the result as
// a gateway.ModelEvent (spec §4.8).
package cost

import (
	"context"
	"fmt"
	"sync"

	"github.com/BaSui01/agentflow/llm"
	"github.com/BaSui01/agentflow/llm/gateway"
)

// Price is a model's per-million-token pricing, matching how upstream
// providers publish rate cards.
type Price struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// PriceSchedule resolves a provider/model pair to its Price.
type PriceSchedule interface {
	Price(ctx context.Context, provider, model string) (Price, bool, error)
}

// StaticSchedule is a map-backed PriceSchedule for tests and for
// deployments that configure prices directly rather than fetching them
// from a catalogue service.
type StaticSchedule struct {
	mu     sync.RWMutex
	prices map[string]Price
}

func NewStaticSchedule(prices map[string]Price) *StaticSchedule {
	if prices == nil {
		prices = map[string]Price{}
	}
	return &StaticSchedule{prices: prices}
}

func (s *StaticSchedule) Price(_ context.Context, provider, model string) (Price, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[provider+"/"+model]
	return p, ok, nil
}

func (s *StaticSchedule) Set(provider, model string, p Price) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[provider+"/"+model] = p
}

// CredentialsOwner tags whose credentials paid for a call, carried
// through to the emitted cost event (spec's credentials_ident
// equivalent: "own" vs. a project's).
type CredentialsOwner string

const (
	OwnerOwn     CredentialsOwner = "own"
	OwnerProject CredentialsOwner = "project"
)

// Calculator prices ChatUsage samples and emits the corresponding
// custom.cost ModelEvent.
type Calculator struct {
	Schedule PriceSchedule
}

func NewCalculator(schedule PriceSchedule) *Calculator {
	return &Calculator{Schedule: schedule}
}

// Calculate returns the USD cost of one usage sample. A model absent
// from the schedule costs 0 rather than erroring: an un-priced model
// (e.g. a local/self-hosted one) should not block accounting for every
// other model in the same request.
func (c *Calculator) Calculate(ctx context.Context, provider, model string, usage llm.ChatUsage) (float64, error) {
	price, found, err := c.Schedule.Price(ctx, provider, model)
	if err != nil {
		return 0, fmt.Errorf("cost: price lookup for %s/%s: %w", provider, model, err)
	}
	if !found {
		return 0, nil
	}
	cost := float64(usage.PromptTokens)/1_000_000*price.InputPerMillion +
		float64(usage.CompletionTokens)/1_000_000*price.OutputPerMillion
	return cost, nil
}

// Event builds the custom.cost ModelEvent for a priced usage sample, to
// be pushed onto the telemetry bus alongside the executor's other
// events.
func (c *Calculator) Event(traceID, spanID string, cost float64, usage llm.ChatUsage) gateway.ModelEvent {
	tu := llm.TokenUsage{
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
	}
	return gateway.ModelEvent{
		Kind:      gateway.EventCustomCost,
		TraceID:   traceID,
		SpanID:    spanID,
		CostValue: cost,
		Usage:     &tu,
	}
}
