// Package provider abstracts the interchangeable AI backends the
// platform calls for order intelligence. Every implementation honors the
// same capability interface, so the Factory can route a call to the
// primary or the fallback without the caller being able to tell which
// one served it from the return shape alone.
package provider

import "context"

// Operation names, one per capability. Each gets its own circuit
// breaker: tripping parse-order does not affect assess-risk even when
// both route through the same primary.
const (
	OpParseOrder      = "parse-order"
	OpAssessRisk      = "assess-risk"
	OpOptimizeRouting = "optimize-routing"
	OpAnalyzePricing  = "analyze-pricing"
)

// Provider is the capability interface every backend implements. All
// calls must return within the configured timeout or be treated as
// failed.
type Provider interface {
	// Name identifies the implementation in health reports and logs.
	Name() string

	// ParseOrder extracts a structured order from raw document text.
	ParseOrder(ctx context.Context, doc OrderDocument) (*ParsedOrder, error)

	// AssessRisk scores a parsed order for fraud and credit exposure.
	AssessRisk(ctx context.Context, order *ParsedOrder) (*RiskAssessment, error)

	// OptimizeRouting picks the vendor an order should be routed to.
	OptimizeRouting(ctx context.Context, order *ParsedOrder, candidates []VendorCandidate) (*RoutingDecision, error)

	// AnalyzePricing suggests sale prices for a set of line items.
	AnalyzePricing(ctx context.Context, items []OrderLine) (*PricingAnalysis, error)

	// HealthCheck probes the backend. Used by dashboards only; it never
	// feeds breaker state.
	HealthCheck(ctx context.Context) error
}
