package jupiter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

// APIQuote is the wire shape of a /quote response. Amounts arrive as decimal
// strings.
type APIQuote struct {
	InputMint            string         `json:"inputMint"`
	InAmount             string         `json:"inAmount"`
	OutputMint           string         `json:"outputMint"`
	OutAmount            string         `json:"outAmount"`
	OtherAmountThreshold string         `json:"otherAmountThreshold"`
	SwapMode             string         `json:"swapMode"`
	SlippageBps          int            `json:"slippageBps"`
	PriceImpactPct       string         `json:"priceImpactPct"`
	RoutePlan            []APIRouteStep `json:"routePlan"`
	ContextSlot          uint64         `json:"contextSlot"`
	TimeTaken            float64        `json:"timeTaken"`
}

// APIRouteStep is one entry of routePlan.
type APIRouteStep struct {
	SwapInfo APISwapInfo `json:"swapInfo"`
	Percent  int         `json:"percent"`
}

// APISwapInfo describes the venue of a route step.
type APISwapInfo struct {
	AMMKey     string `json:"ammKey"`
	Label      string `json:"label"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	FeeAmount  string `json:"feeAmount"`
	FeeMint    string `json:"feeMint"`
}

// decodeQuote validates body and converts it to a domain quote. Missing
// outAmount or routePlan, and non-numeric amounts, are malformed; optional
// fields default to zero values. requested fills a missing inAmount.
func decodeQuote(body []byte, requested uint64) (domain.Quote, error) {
	var api APIQuote
	if err := json.Unmarshal(body, &api); err != nil {
		return domain.Quote{}, fmt.Errorf("decode quote: %w: %w", domain.ErrMalformedResponse, err)
	}
	q, err := api.ToDomainQuote(requested)
	if err != nil {
		return domain.Quote{}, err
	}
	q.Raw = json.RawMessage(append([]byte(nil), body...))
	return q, nil
}

// ToDomainQuote validates the wire quote.
func (a *APIQuote) ToDomainQuote(requested uint64) (domain.Quote, error) {
	if strings.TrimSpace(a.OutAmount) == "" {
		return domain.Quote{}, fmt.Errorf("quote: missing outAmount: %w", domain.ErrMalformedResponse)
	}
	if len(a.RoutePlan) == 0 {
		return domain.Quote{}, fmt.Errorf("quote: missing routePlan: %w", domain.ErrMalformedResponse)
	}

	out, err := parseAmount("outAmount", a.OutAmount)
	if err != nil {
		return domain.Quote{}, err
	}
	in := requested
	if a.InAmount != "" {
		if in, err = parseAmount("inAmount", a.InAmount); err != nil {
			return domain.Quote{}, err
		}
	}
	var threshold uint64
	if a.OtherAmountThreshold != "" {
		if threshold, err = parseAmount("otherAmountThreshold", a.OtherAmountThreshold); err != nil {
			return domain.Quote{}, err
		}
	}
	var impact float64
	if a.PriceImpactPct != "" {
		d, err := decimal.NewFromString(a.PriceImpactPct)
		if err != nil {
			return domain.Quote{}, fmt.Errorf("quote: priceImpactPct %q: %w", a.PriceImpactPct, domain.ErrMalformedResponse)
		}
		impact = d.InexactFloat64()
	}

	route := make([]domain.RouteHop, 0, len(a.RoutePlan))
	for i, step := range a.RoutePlan {
		hop, err := step.toHop()
		if err != nil {
			return domain.Quote{}, fmt.Errorf("quote: routePlan[%d]: %w", i, err)
		}
		route = append(route, hop)
	}

	return domain.Quote{
		InputMint:            a.InputMint,
		OutputMint:           a.OutputMint,
		InAmount:             in,
		OutAmount:            out,
		OtherAmountThreshold: threshold,
		SwapMode:             a.SwapMode,
		SlippageBps:          a.SlippageBps,
		PriceImpactPct:       impact,
		Route:                route,
		ContextSlot:          a.ContextSlot,
		TimeTaken:            a.TimeTaken,
	}, nil
}

func (s APIRouteStep) toHop() (domain.RouteHop, error) {
	label := strings.TrimSpace(s.SwapInfo.Label)
	if label == "" {
		label = "Unknown"
	}
	hop := domain.RouteHop{
		AMMKey:     s.SwapInfo.AMMKey,
		Label:      label,
		InputMint:  s.SwapInfo.InputMint,
		OutputMint: s.SwapInfo.OutputMint,
		FeeMint:    s.SwapInfo.FeeMint,
		Percent:    s.Percent,
	}
	var err error
	if s.SwapInfo.InAmount != "" {
		if hop.InAmount, err = parseAmount("inAmount", s.SwapInfo.InAmount); err != nil {
			return domain.RouteHop{}, err
		}
	}
	if s.SwapInfo.OutAmount != "" {
		if hop.OutAmount, err = parseAmount("outAmount", s.SwapInfo.OutAmount); err != nil {
			return domain.RouteHop{}, err
		}
	}
	if s.SwapInfo.FeeAmount != "" {
		if hop.FeeAmount, err = parseAmount("feeAmount", s.SwapInfo.FeeAmount); err != nil {
			return domain.RouteHop{}, err
		}
	}
	return hop, nil
}

// parseAmount parses a raw token amount: a non-negative integer that fits in a u64.
func parseAmount(field, s string) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || d.IsNegative() || !d.IsInteger() {
		return 0, fmt.Errorf("%s %q is not a raw amount: %w", field, s, domain.ErrMalformedResponse)
	}
	bi := d.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("%s %q overflows u64: %w", field, s, domain.ErrMalformedResponse)
	}
	return bi.Uint64(), nil
}
