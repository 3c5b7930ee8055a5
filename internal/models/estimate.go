package models

// CostEstimate represents the projected cost of paying with one method.
// Estimates are produced fresh per scoring pass and never mutated.
// Degraded marks a conservative fallback produced after an upstream
// timeout; its confidence is always downgraded.
type CostEstimate struct {
	BaseCost     float64 `json:"baseCost"`
	GasFee       float64 `json:"gasFee"`
	ProcessorFee float64 `json:"processorFee"`
	TotalCost    float64 `json:"totalCost"`
	Currency     string  `json:"currency"`
	Confidence   float64 `json:"confidence"`
	Degraded     bool    `json:"degraded,omitempty"`
}
