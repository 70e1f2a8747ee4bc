package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vantor/conveyor/breaker"
)

// FactoryOption configures the Factory.
type FactoryOption func(*Factory)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) FactoryOption {
	return func(f *Factory) { f.logger = l }
}

// WithBreakerDefaults sets the breaker settings applied to every
// operation unless overridden.
func WithBreakerDefaults(s breaker.Settings) FactoryOption {
	return func(f *Factory) { f.defaults = s }
}

// WithBreakerOverride replaces the breaker settings for one operation.
func WithBreakerOverride(operation string, s breaker.Settings) FactoryOption {
	return func(f *Factory) { f.overrides[operation] = s }
}

// Factory routes capability calls to the primary provider through a
// per-operation circuit breaker, falling back to the secondary when the
// breaker is open or the primary call fails. Callers see an error only
// when the fallback fails too.
type Factory struct {
	primary  Provider
	fallback Provider
	logger   *slog.Logger

	defaults  breaker.Settings
	overrides map[string]breaker.Settings
	breakers  *breaker.Registry
}

// NewFactory builds a Factory over a primary and a fallback provider.
func NewFactory(primary, fallback Provider, opts ...FactoryOption) *Factory {
	f := &Factory{
		primary:   primary,
		fallback:  fallback,
		logger:    slog.Default(),
		overrides: make(map[string]breaker.Settings),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.breakers = breaker.NewRegistry(f.defaults, f.overrides)
	return f
}

// fire runs one capability call: primary under the operation's breaker,
// fallback when the breaker rejects or the primary fails.
//
// The primary result has its own slot, read only after Do returns nil.
// A timed-out primary call keeps running in the breaker's goroutine and
// may still write the slot later, so the fallback result never shares it.
func fire[T any](ctx context.Context, f *Factory, operation string, call func(context.Context, Provider) (T, error)) (T, error) {
	var primaryResult T
	primaryErr := f.breakers.Get(operation).Do(ctx, func(ctx context.Context) error {
		r, err := call(ctx, f.primary)
		if err != nil {
			return err
		}
		primaryResult = r
		return nil
	})
	if primaryErr == nil {
		return primaryResult, nil
	}

	f.logger.Warn("primary provider unavailable, routing to fallback",
		slog.String("operation", operation),
		slog.String("primary", f.primary.Name()),
		slog.String("fallback", f.fallback.Name()),
		slog.String("error", primaryErr.Error()),
	)

	fallbackResult, fallbackErr := call(ctx, f.fallback)
	if fallbackErr != nil {
		var zero T
		return zero, fmt.Errorf("provider: %s: primary: %v; fallback %s: %w",
			operation, primaryErr, f.fallback.Name(), fallbackErr)
	}
	return fallbackResult, nil
}

// ParseOrder extracts a structured order from raw document text.
func (f *Factory) ParseOrder(ctx context.Context, doc OrderDocument) (*ParsedOrder, error) {
	return fire(ctx, f, OpParseOrder, func(ctx context.Context, p Provider) (*ParsedOrder, error) {
		return p.ParseOrder(ctx, doc)
	})
}

// AssessRisk scores a parsed order for fraud and credit exposure.
func (f *Factory) AssessRisk(ctx context.Context, order *ParsedOrder) (*RiskAssessment, error) {
	return fire(ctx, f, OpAssessRisk, func(ctx context.Context, p Provider) (*RiskAssessment, error) {
		return p.AssessRisk(ctx, order)
	})
}

// OptimizeRouting picks the vendor an order should be routed to.
func (f *Factory) OptimizeRouting(ctx context.Context, order *ParsedOrder, candidates []VendorCandidate) (*RoutingDecision, error) {
	return fire(ctx, f, OpOptimizeRouting, func(ctx context.Context, p Provider) (*RoutingDecision, error) {
		return p.OptimizeRouting(ctx, order, candidates)
	})
}

// AnalyzePricing suggests sale prices for a set of line items.
func (f *Factory) AnalyzePricing(ctx context.Context, items []OrderLine) (*PricingAnalysis, error) {
	return fire(ctx, f, OpAnalyzePricing, func(ctx context.Context, p Provider) (*PricingAnalysis, error) {
		return p.AnalyzePricing(ctx, items)
	})
}

// Health is one provider's probe result.
type Health struct {
	Provider string        `json:"provider"`
	Healthy  bool          `json:"healthy"`
	Latency  time.Duration `json:"latency"`
	Error    string        `json:"error,omitempty"`
}

// HealthCheck probes every provider directly, bypassing the breakers.
// Results are for dashboards only and never mutate breaker state.
func (f *Factory) HealthCheck(ctx context.Context) []Health {
	providers := []Provider{f.primary, f.fallback}
	results := make([]Health, len(providers))

	var g errgroup.Group
	for i, p := range providers {
		g.Go(func() error {
			start := time.Now()
			err := p.HealthCheck(ctx)
			results[i] = Health{
				Provider: p.Name(),
				Healthy:  err == nil,
				Latency:  time.Since(start),
			}
			if err != nil {
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// BreakerSnapshots exposes the per-operation breaker states for
// dashboards, keyed by operation name.
func (f *Factory) BreakerSnapshots() map[string]breaker.Snapshot {
	return f.breakers.Snapshots()
}
