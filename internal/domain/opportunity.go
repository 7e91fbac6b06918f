package domain

import (
	"strings"
	"time"
)

// Confidence is an ordinal reliability tier. Higher values are stronger.
type Confidence int

const (
	ConfidenceLow Confidence = iota
	ConfidenceMedium
	ConfidenceHigh
)

// String returns the wire name of the tier.
func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "HIGH"
	case ConfidenceMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// MarshalText encodes the tier as HIGH, MEDIUM or LOW.
func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText accepts HIGH, MEDIUM or LOW (case-insensitive); anything else is LOW.
func (c *Confidence) UnmarshalText(text []byte) error {
	*c = ParseConfidence(string(text))
	return nil
}

// ParseConfidence maps a tier name to its value, defaulting to LOW.
func ParseConfidence(s string) Confidence {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH":
		return ConfidenceHigh
	case "MEDIUM":
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// ArbitrageOpportunity is a detected rate discrepancy for a pair. Profit fields
// are always derived from BuySide and SellSide prices.
type ArbitrageOpportunity struct {
	ID            string           `json:"id"`
	TokenA        Token            `json:"tokenA"`
	TokenB        Token            `json:"tokenB"`
	BuySide       DirectionalQuote `json:"buyDex"`
	SellSide      DirectionalQuote `json:"sellDex"`
	ProfitUSD     float64          `json:"profitUSD"`
	ProfitPercent float64          `json:"profitPercentage"`
	Confidence    Confidence       `json:"confidence"`
	Volume        float64          `json:"volume"`
	ObservedAt    time.Time        `json:"timestamp"`
	Synthetic     bool             `json:"synthetic"`
}

// Pair renders the opportunity's pair symbol.
func (o ArbitrageOpportunity) Pair() string {
	return PairSymbol(o.TokenA, o.TokenB)
}

// Age returns how long ago the opportunity was observed relative to now.
func (o ArbitrageOpportunity) Age(now time.Time) time.Duration {
	return now.Sub(o.ObservedAt)
}

// ScanResult summarises one scan cycle.
type ScanResult struct {
	ScanNumber        int64                  `json:"scanNumber"`
	Timestamp         time.Time              `json:"timestamp"`
	Opportunities     []ArbitrageOpportunity `json:"opportunities"`
	TotalPairsScanned int                    `json:"totalPairsScanned"`
	DurationMs        int64                  `json:"scanDuration"`
	Errors            []string               `json:"errors"`
	Synthetic         bool                   `json:"synthetic"`
}

// ExecutionStatus is the lifecycle state of an execution attempt.
type ExecutionStatus string

const (
	ExecutionSubmitted ExecutionStatus = "submitted"
	ExecutionConfirmed ExecutionStatus = "confirmed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution records one attempt to act on an opportunity.
type Execution struct {
	ID            string          `json:"id"`
	OpportunityID string          `json:"opportunityId"`
	Pair          string          `json:"pair"`
	Signature     string          `json:"signature,omitempty"`
	Status        ExecutionStatus `json:"status"`
	MinProfitUSD  float64         `json:"minProfitUSD"`
	ProfitUSD     float64         `json:"profitUSD"`
	Error         string          `json:"error,omitempty"`
	StartedAt     time.Time       `json:"startedAt"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
}
