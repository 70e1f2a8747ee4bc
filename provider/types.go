package provider

import "time"

// OrderDocument is raw order material handed to ParseOrder: an email
// body, an OCR transcript, or a plain-text upload.
type OrderDocument struct {
	// Reference is the caller's identifier for the document.
	Reference string `json:"reference"`
	// Content is the document text.
	Content string `json:"content"`
	// Source names where the document came from (email, upload, ocr).
	Source string `json:"source,omitempty"`
	// ReceivedAt is when the platform first saw the document.
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// OrderLine is one parsed line item.
type OrderLine struct {
	SKU         string  `json:"sku"`
	Description string  `json:"description,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price,omitempty"`
}

// ParsedOrder is the structured result of parsing an OrderDocument.
type ParsedOrder struct {
	Reference string      `json:"reference"`
	Customer  string      `json:"customer,omitempty"`
	Lines     []OrderLine `json:"lines"`
	// Confidence is the provider's self-reported parse quality in
	// [0, 1]. Fallback implementations report lowered confidence so
	// downstream consumers can route low-confidence parses to review.
	Confidence float64 `json:"confidence"`
	Notes      string  `json:"notes,omitempty"`
}

// RiskLevel buckets a risk score for coarse-grained handling.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskAssessment scores an order for fraud and credit exposure.
type RiskAssessment struct {
	// Score is the risk in [0, 1]; higher is riskier.
	Score   float64   `json:"score"`
	Level   RiskLevel `json:"level"`
	Reasons []string  `json:"reasons,omitempty"`
}

// VendorCandidate is one vendor able to fulfil an order, with the
// attributes routing weighs.
type VendorCandidate struct {
	Vendor       string  `json:"vendor"`
	UnitCost     float64 `json:"unit_cost"`
	LeadTimeDays int     `json:"lead_time_days"`
	// Reliability is the vendor's historical fulfilment rate in [0, 1].
	Reliability float64 `json:"reliability"`
}

// RoutingDecision selects the vendor an order should be routed to.
type RoutingDecision struct {
	Vendor string  `json:"vendor"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
}

// PricedItem is one line of a pricing analysis.
type PricedItem struct {
	SKU            string  `json:"sku"`
	UnitPrice      float64 `json:"unit_price"`
	SuggestedPrice float64 `json:"suggested_price"`
	Margin         float64 `json:"margin"`
}

// PricingAnalysis suggests sale prices for a set of line items.
type PricingAnalysis struct {
	Items         []PricedItem `json:"items"`
	AverageMargin float64      `json:"average_margin"`
}
