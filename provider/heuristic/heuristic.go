// Package heuristic is the deterministic rule-based fallback provider.
// It trades quality for availability: parses report lowered confidence,
// risk is threshold arithmetic, routing is a weighted score over the
// candidates, pricing applies fixed margin bands. It never makes a
// network call and its health check always passes.
package heuristic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/vantor/conveyor/provider"
)

// Compile-time interface check.
var _ provider.Provider = (*Provider)(nil)

// Provider implements the capability interface with deterministic rules.
type Provider struct{}

// New creates the heuristic provider.
func New() *Provider { return &Provider{} }

// Name implements provider.Provider.
func (p *Provider) Name() string { return "heuristic" }

// ParseOrder parses line-oriented order text. Expected line shape is
// "<qty> <sku> <description...> [@<unit price>]"; a line whose first
// field is not a number is treated as quantity 1 and lowers the parse
// confidence. Lines starting with "#" and blank lines are skipped, and a
// "customer: <name>" line sets the customer.
func (p *Provider) ParseOrder(_ context.Context, doc provider.OrderDocument) (*provider.ParsedOrder, error) {
	order := &provider.ParsedOrder{
		Reference:  doc.Reference,
		Confidence: 0.6,
		Notes:      "heuristic line parse",
	}

	malformed := 0
	for _, line := range strings.Split(doc.Content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if len(line) > 9 && strings.EqualFold(line[:9], "customer:") {
			order.Customer = strings.TrimSpace(line[9:])
			continue
		}

		fields := strings.Fields(line)

		var unitPrice float64
		if last := fields[len(fields)-1]; strings.HasPrefix(last, "@") {
			if v, err := strconv.ParseFloat(last[1:], 64); err == nil {
				unitPrice = v
			}
			fields = fields[:len(fields)-1]
		}
		if len(fields) == 0 {
			malformed++
			continue
		}

		item := provider.OrderLine{Quantity: 1, UnitPrice: unitPrice}
		if qty, err := strconv.Atoi(fields[0]); err == nil && qty > 0 {
			item.Quantity = qty
			fields = fields[1:]
		} else {
			malformed++
		}
		if len(fields) == 0 {
			malformed++
			continue
		}
		item.SKU = fields[0]
		item.Description = strings.Join(fields[1:], " ")
		order.Lines = append(order.Lines, item)
	}

	if len(order.Lines) == 0 {
		return nil, errors.New("heuristic: no parseable order lines")
	}

	order.Confidence = math.Max(0.2, order.Confidence-0.1*float64(malformed))
	return order, nil
}

// Risk thresholds. Values above highValue or with oversized line
// quantities push the score toward the high band.
const (
	highValue      = 10_000.0
	extremeValue   = 50_000.0
	bulkQuantity   = 500
	lowConfidence  = 0.5
	mediumCutoff   = 0.35
	highCutoff     = 0.7
)

// AssessRisk scores by order value, quantity outliers, and parse
// confidence.
func (p *Provider) AssessRisk(_ context.Context, order *provider.ParsedOrder) (*provider.RiskAssessment, error) {
	if order == nil {
		return nil, errors.New("heuristic: nil order")
	}

	score := 0.1
	var reasons []string

	var total float64
	bulk := false
	for _, line := range order.Lines {
		total += float64(line.Quantity) * line.UnitPrice
		if line.Quantity > bulkQuantity {
			bulk = true
		}
	}

	if total > extremeValue {
		score += 0.5
		reasons = append(reasons, fmt.Sprintf("order value %.2f above %.0f", total, extremeValue))
	} else if total > highValue {
		score += 0.3
		reasons = append(reasons, fmt.Sprintf("order value %.2f above %.0f", total, highValue))
	}
	if bulk {
		score += 0.2
		reasons = append(reasons, fmt.Sprintf("line quantity above %d", bulkQuantity))
	}
	if order.Confidence < lowConfidence {
		score += 0.2
		reasons = append(reasons, "low parse confidence")
	}

	score = math.Min(score, 1)
	level := provider.RiskLow
	switch {
	case score >= highCutoff:
		level = provider.RiskHigh
	case score >= mediumCutoff:
		level = provider.RiskMedium
	}

	return &provider.RiskAssessment{Score: score, Level: level, Reasons: reasons}, nil
}

// Routing weights. Reliability dominates, then cost, then lead time.
const (
	weightReliability = 0.5
	weightCost        = 0.3
	weightLeadTime    = 0.2
)

// OptimizeRouting scores each candidate on reliability, relative cost,
// and relative lead time, and picks the highest. Ties break on vendor
// name so the decision is stable.
func (p *Provider) OptimizeRouting(_ context.Context, _ *provider.ParsedOrder, candidates []provider.VendorCandidate) (*provider.RoutingDecision, error) {
	if len(candidates) == 0 {
		return nil, errors.New("heuristic: no vendor candidates")
	}

	minCost := candidates[0].UnitCost
	minLead := candidates[0].LeadTimeDays
	for _, c := range candidates[1:] {
		minCost = math.Min(minCost, c.UnitCost)
		minLead = min(minLead, c.LeadTimeDays)
	}

	scored := make([]provider.RoutingDecision, len(candidates))
	for i, c := range candidates {
		costScore := 1.0
		if c.UnitCost > 0 {
			costScore = minCost / c.UnitCost
		}
		leadScore := float64(minLead+1) / float64(c.LeadTimeDays+1)
		scored[i] = provider.RoutingDecision{
			Vendor: c.Vendor,
			Score:  weightReliability*c.Reliability + weightCost*costScore + weightLeadTime*leadScore,
			Reason: "weighted reliability/cost/lead-time",
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Vendor < scored[j].Vendor
	})
	best := scored[0]
	return &best, nil
}

// AnalyzePricing applies a fixed margin band by unit price magnitude:
// 40% under 10, 30% under 100, 20% above.
func (p *Provider) AnalyzePricing(_ context.Context, items []provider.OrderLine) (*provider.PricingAnalysis, error) {
	analysis := &provider.PricingAnalysis{}
	if len(items) == 0 {
		return analysis, nil
	}

	var marginSum float64
	for _, item := range items {
		margin := 0.20
		switch {
		case item.UnitPrice < 10:
			margin = 0.40
		case item.UnitPrice < 100:
			margin = 0.30
		}
		analysis.Items = append(analysis.Items, provider.PricedItem{
			SKU:            item.SKU,
			UnitPrice:      item.UnitPrice,
			SuggestedPrice: math.Round(item.UnitPrice*(1+margin)*100) / 100,
			Margin:         margin,
		})
		marginSum += margin
	}
	analysis.AverageMargin = marginSum / float64(len(items))
	return analysis, nil
}

// HealthCheck implements provider.Provider; the heuristic provider is
// always available.
func (p *Provider) HealthCheck(context.Context) error { return nil }
