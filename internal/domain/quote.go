package domain

import (
	"encoding/json"
	"time"
)

// RouteHop is one venue hop of a quoted route.
type RouteHop struct {
	AMMKey     string `json:"ammKey"`
	Label      string `json:"label"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   uint64 `json:"inAmount"`
	OutAmount  uint64 `json:"outAmount"`
	FeeAmount  uint64 `json:"feeAmount"`
	FeeMint    string `json:"feeMint"`
	Percent    int    `json:"percent"`
}

// Quote is a validated upstream swap quote. Route is never empty.
type Quote struct {
	InputMint            string
	OutputMint           string
	InAmount             uint64
	OutAmount            uint64
	OtherAmountThreshold uint64
	SwapMode             string
	SlippageBps          int
	PriceImpactPct       float64
	Route                []RouteHop
	ContextSlot          uint64
	TimeTaken            float64
	Endpoint             string

	// Raw is the upstream payload, echoed back when requesting swap instructions.
	Raw json.RawMessage
}

// Venues returns the hop labels in route order.
func (q Quote) Venues() []string {
	out := make([]string, 0, len(q.Route))
	for _, h := range q.Route {
		out = append(out, h.Label)
	}
	return out
}

// DirectionalQuote is a decimal-adjusted unit rate attributed to a venue.
type DirectionalQuote struct {
	Venue              string    `json:"dex"`
	InputMint          string    `json:"inputMint"`
	OutputMint         string    `json:"outputMint"`
	Price              float64   `json:"price"`
	InputAmount        uint64    `json:"inputAmount"`
	OutputAmount       uint64    `json:"outputAmount"`
	PriceImpactPercent float64   `json:"priceImpact"`
	Route              []string  `json:"route"`
	ObservedAt         time.Time `json:"timestamp"`
}

// DirectionalRates holds forward (A->B) and reverse (B->A, inverted) quotes for a pair.
// Either side may be empty when that direction failed.
type DirectionalRates struct {
	Forward []DirectionalQuote
	Reverse []DirectionalQuote
}

// Empty reports whether neither direction produced a quote.
func (r DirectionalRates) Empty() bool {
	return len(r.Forward) == 0 && len(r.Reverse) == 0
}
