package heuristic_test

import (
	"context"
	"testing"

	"github.com/vantor/conveyor/provider"
	"github.com/vantor/conveyor/provider/heuristic"
)

func TestParseOrder_LineOriented(t *testing.T) {
	p := heuristic.New()

	doc := provider.OrderDocument{
		Reference: "ord-42",
		Content: `# purchase order
customer: Mercado Central

10 SKU-100 blue widget @4.50
2 SKU-200 crate of bolts @12.00
`,
	}

	order, err := p.ParseOrder(context.Background(), doc)
	if err != nil {
		t.Fatalf("ParseOrder: %v", err)
	}

	if order.Reference != "ord-42" {
		t.Errorf("Reference = %q", order.Reference)
	}
	if order.Customer != "Mercado Central" {
		t.Errorf("Customer = %q", order.Customer)
	}
	if len(order.Lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(order.Lines))
	}

	first := order.Lines[0]
	if first.SKU != "SKU-100" || first.Quantity != 10 || first.UnitPrice != 4.50 {
		t.Errorf("first line = %+v", first)
	}
	if first.Description != "blue widget" {
		t.Errorf("Description = %q", first.Description)
	}

	// Well-formed input keeps the full (already lowered) confidence.
	if order.Confidence != 0.6 {
		t.Errorf("Confidence = %v, want 0.6", order.Confidence)
	}
}

func TestParseOrder_MalformedLinesLowerConfidence(t *testing.T) {
	p := heuristic.New()

	order, err := p.ParseOrder(context.Background(), provider.OrderDocument{
		Content: "SKU-300 unknown quantity\n5 SKU-400 fine",
	})
	if err != nil {
		t.Fatalf("ParseOrder: %v", err)
	}

	if len(order.Lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(order.Lines))
	}
	if order.Lines[0].Quantity != 1 {
		t.Errorf("missing quantity should default to 1, got %d", order.Lines[0].Quantity)
	}
	if order.Confidence >= 0.6 {
		t.Errorf("Confidence = %v, want lowered below 0.6", order.Confidence)
	}
}

func TestParseOrder_EmptyDocumentFails(t *testing.T) {
	p := heuristic.New()

	if _, err := p.ParseOrder(context.Background(), provider.OrderDocument{Content: "# nothing here\n\n"}); err == nil {
		t.Fatal("expected error for document without order lines")
	}
}

func TestAssessRisk_Thresholds(t *testing.T) {
	p := heuristic.New()

	small := &provider.ParsedOrder{
		Confidence: 0.9,
		Lines:      []provider.OrderLine{{SKU: "a", Quantity: 2, UnitPrice: 10}},
	}
	risk, err := p.AssessRisk(context.Background(), small)
	if err != nil {
		t.Fatalf("AssessRisk: %v", err)
	}
	if risk.Level != provider.RiskLow {
		t.Errorf("small order Level = %q, want low", risk.Level)
	}

	big := &provider.ParsedOrder{
		Confidence: 0.3,
		Lines:      []provider.OrderLine{{SKU: "b", Quantity: 1000, UnitPrice: 100}},
	}
	risk, err = p.AssessRisk(context.Background(), big)
	if err != nil {
		t.Fatalf("AssessRisk: %v", err)
	}
	if risk.Level != provider.RiskHigh {
		t.Errorf("big order Level = %q (score %v), want high", risk.Level, risk.Score)
	}
	if len(risk.Reasons) == 0 {
		t.Error("high risk reported without reasons")
	}
}

func TestOptimizeRouting_WeighsReliabilityCostLeadTime(t *testing.T) {
	p := heuristic.New()

	candidates := []provider.VendorCandidate{
		{Vendor: "cheap-but-flaky", UnitCost: 1.00, LeadTimeDays: 2, Reliability: 0.30},
		{Vendor: "steady", UnitCost: 1.20, LeadTimeDays: 3, Reliability: 0.98},
	}

	decision, err := p.OptimizeRouting(context.Background(), &provider.ParsedOrder{}, candidates)
	if err != nil {
		t.Fatalf("OptimizeRouting: %v", err)
	}
	if decision.Vendor != "steady" {
		t.Errorf("Vendor = %q, want the reliable one", decision.Vendor)
	}
	if decision.Score <= 0 {
		t.Errorf("Score = %v", decision.Score)
	}

	// Same input, same decision.
	again, err := p.OptimizeRouting(context.Background(), &provider.ParsedOrder{}, candidates)
	if err != nil {
		t.Fatalf("OptimizeRouting: %v", err)
	}
	if again.Vendor != decision.Vendor || again.Score != decision.Score {
		t.Error("routing decision is not deterministic")
	}
}

func TestOptimizeRouting_NoCandidates(t *testing.T) {
	p := heuristic.New()

	if _, err := p.OptimizeRouting(context.Background(), &provider.ParsedOrder{}, nil); err == nil {
		t.Fatal("expected error with no candidates")
	}
}

func TestAnalyzePricing_MarginBands(t *testing.T) {
	p := heuristic.New()

	items := []provider.OrderLine{
		{SKU: "cheap", UnitPrice: 4.00},
		{SKU: "mid", UnitPrice: 50.00},
		{SKU: "dear", UnitPrice: 400.00},
	}

	analysis, err := p.AnalyzePricing(context.Background(), items)
	if err != nil {
		t.Fatalf("AnalyzePricing: %v", err)
	}
	if len(analysis.Items) != 3 {
		t.Fatalf("got %d items, want 3", len(analysis.Items))
	}

	want := []struct {
		margin    float64
		suggested float64
	}{
		{0.40, 5.60},
		{0.30, 65.00},
		{0.20, 480.00},
	}
	for i, w := range want {
		got := analysis.Items[i]
		if got.Margin != w.margin {
			t.Errorf("%s Margin = %v, want %v", got.SKU, got.Margin, w.margin)
		}
		if got.SuggestedPrice != w.suggested {
			t.Errorf("%s SuggestedPrice = %v, want %v", got.SKU, got.SuggestedPrice, w.suggested)
		}
	}

	wantAvg := (0.40 + 0.30 + 0.20) / 3
	if diff := analysis.AverageMargin - wantAvg; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("AverageMargin = %v, want %v", analysis.AverageMargin, wantAvg)
	}
}

func TestHealthCheckAlwaysPasses(t *testing.T) {
	if err := heuristic.New().HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}
