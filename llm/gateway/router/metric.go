package router

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// MetricSelector names the metric a Metric Router optimises.
type MetricSelector string

const (
	MetricRequests  MetricSelector = "requests"
	MetricLatency   MetricSelector = "latency"
	MetricTtft      MetricSelector = "ttft"
	MetricTps       MetricSelector = "tps"
	MetricErrorRate MetricSelector = "error_rate"
)

// DefaultMinimize reports the per-metric default optimisation direction:
// Tps maximises, everything else minimises (spec §4.5). This
// deliberately departs from the original Rust Min variant, which
// hardcoded minimize=true for every metric — spec.md's explicit text is
// authoritative here (see DESIGN.md).
func (m MetricSelector) DefaultMinimize() bool {
	return m != MetricTps
}

// MetricsWindow selects the accounting period a candidate's metrics are
// read from.
type MetricsWindow string

const (
	WindowTotal     MetricsWindow = "total"
	WindowLastHour  MetricsWindow = "last_hour"
	WindowLast15Min MetricsWindow = "last_15_min"
)

// Metrics is one candidate's metric snapshot for a given window.
type Metrics struct {
	Requests  *float64
	Latency   *float64
	Ttft      *float64
	Tps       *float64
	ErrorRate *float64
}

func (m Metrics) value(sel MetricSelector) *float64 {
	switch sel {
	case MetricRequests:
		return m.Requests
	case MetricLatency:
		return m.Latency
	case MetricTtft:
		return m.Ttft
	case MetricTps:
		return m.Tps
	case MetricErrorRate:
		return m.ErrorRate
	default:
		return nil
	}
}

func zeroMetrics() Metrics {
	zero := 0.0
	return Metrics{Requests: &zero, Latency: &zero, Ttft: &zero, Tps: &zero, ErrorRate: &zero}
}

// ProviderMetrics is the per-model metric map for one provider.
type ProviderMetrics struct {
	Models map[string]WindowedMetrics
}

// WindowedMetrics holds a model's metrics across the three windows.
type WindowedMetrics struct {
	Total     Metrics
	LastHour  Metrics
	Last15Min Metrics
}

func (w WindowedMetrics) forWindow(window MetricsWindow) Metrics {
	switch window {
	case WindowLastHour:
		return w.LastHour
	case WindowLast15Min:
		return w.Last15Min
	default:
		return w.Total
	}
}

// MetricsRepository is the external metrics contract (spec §6).
type MetricsRepository interface {
	GetMetrics(ctx context.Context) (map[string]ProviderMetrics, error)
	GetProviderMetrics(ctx context.Context, provider string) (*ProviderMetrics, error)
	GetModelMetrics(ctx context.Context, provider, model string) (*WindowedMetrics, error)
}

// InMemoryMetricsRepository is a map-backed MetricsRepository for tests
// and for the routing orchestrator's in-process counters.
type InMemoryMetricsRepository struct {
	mu   sync.RWMutex
	data map[string]ProviderMetrics
}

func NewInMemoryMetricsRepository(data map[string]ProviderMetrics) *InMemoryMetricsRepository {
	if data == nil {
		data = map[string]ProviderMetrics{}
	}
	return &InMemoryMetricsRepository{data: data}
}

func (r *InMemoryMetricsRepository) GetMetrics(context.Context) (map[string]ProviderMetrics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data, nil
}

func (r *InMemoryMetricsRepository) GetProviderMetrics(_ context.Context, provider string) (*ProviderMetrics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pm, ok := r.data[provider]
	if !ok {
		return nil, nil
	}
	return &pm, nil
}

func (r *InMemoryMetricsRepository) GetModelMetrics(_ context.Context, provider, model string) (*WindowedMetrics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pm, ok := r.data[provider]
	if !ok {
		return nil, nil
	}
	wm, ok := pm.Models[model]
	if !ok {
		return nil, nil
	}
	return &wm, nil
}

// MetricFilter narrows candidates by a per-metric comparison before the
// min/max selection runs.
type MetricFilter struct {
	Metric MetricSelector
	Op     string // "lt", "gt", "eq" ...
	Value  float64
}

func (f MetricFilter) passes(v *float64) bool {
	if v == nil {
		// Error rate defaults to passing when no metrics are available;
		// every other metric fails closed (spec-grounded on
		// strategy/metric.rs's filter semantics).
		return f.Metric == MetricErrorRate
	}
	switch f.Op {
	case "lt":
		return *v < f.Value
	case "gt":
		return *v > f.Value
	case "eq":
		return *v == f.Value
	default:
		return true
	}
}

// RouteMetric picks one model from candidates (each "provider/model",
// "provider/*", or a bare model name) by minimising/maximising metric
// over window (spec §4.5).
func RouteMetric(ctx context.Context, candidates []string, metric MetricSelector, window MetricsWindow, minimize *bool, repo MetricsRepository, filters []MetricFilter) (string, error) {
	resolvedMinimize := metric.DefaultMinimize()
	if minimize != nil {
		resolvedMinimize = *minimize
	}

	full := map[string]Metrics{}
	var mu sync.Mutex

	var wildcardProviders []string
	var pairs [][2]string
	var bareModels []string

	for _, c := range candidates {
		if provider, model, ok := strings.Cut(c, "/"); ok {
			if model == "*" {
				wildcardProviders = append(wildcardProviders, provider)
			} else {
				pairs = append(pairs, [2]string{provider, model})
			}
		} else {
			bareModels = append(bareModels, c)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, provider := range wildcardProviders {
		provider := provider
		g.Go(func() error {
			pm, err := repo.GetProviderMetrics(gctx, provider)
			if err != nil || pm == nil {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for model, wm := range pm.Models {
				full[provider+"/"+model] = wm.forWindow(window)
			}
			return nil
		})
	}

	for _, pair := range pairs {
		provider, model := pair[0], pair[1]
		g.Go(func() error {
			wm, err := repo.GetModelMetrics(gctx, provider, model)
			mu.Lock()
			defer mu.Unlock()
			if err != nil || wm == nil {
				full[provider+"/"+model] = zeroMetrics()
				return nil
			}
			full[provider+"/"+model] = wm.forWindow(window)
			return nil
		})
	}

	if len(bareModels) > 0 {
		all, err := repo.GetMetrics(gctx)
		mu.Lock()
		if err != nil {
			for _, m := range bareModels {
				full[m] = zeroMetrics()
			}
		} else {
			for _, model := range bareModels {
				found := false
				for provider, pm := range all {
					if wm, ok := pm.Models[model]; ok {
						full[provider+"/"+model] = wm.forWindow(window)
						found = true
					}
				}
				if !found {
					full[model] = zeroMetrics()
				}
			}
		}
		mu.Unlock()
	}

	if err := g.Wait(); err != nil {
		return "", err
	}

	if len(filters) > 0 {
		for name, m := range full {
			for _, f := range filters {
				if !f.passes(m.value(f.Metric)) {
					delete(full, name)
					break
				}
			}
		}
	}

	type scored struct {
		name  string
		value float64
	}
	var withMetric []scored
	for name, m := range full {
		if v := m.value(metric); v != nil {
			withMetric = append(withMetric, scored{name, *v})
		}
	}

	if len(withMetric) == 0 {
		if len(candidates) == 0 {
			return "", nil
		}
		return candidates[rand.Intn(len(candidates))], nil
	}

	sort.Slice(withMetric, func(i, j int) bool {
		if withMetric[i].value == withMetric[j].value {
			return withMetric[i].name < withMetric[j].name
		}
		if resolvedMinimize {
			return withMetric[i].value < withMetric[j].value
		}
		return withMetric[i].value > withMetric[j].value
	})

	return withMetric[0].name, nil
}
