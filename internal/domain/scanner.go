package domain

import (
	"encoding/json"
	"time"
)

// PairConfig names a pair of mints to monitor.
type PairConfig struct {
	TokenA string `json:"tokenA" toml:"token_a"`
	TokenB string `json:"tokenB" toml:"token_b"`
}

// ScannerConfig is the effective configuration of the scan loop.
type ScannerConfig struct {
	Pairs            []PairConfig  `json:"pairs"`
	MinProfitUSD     float64       `json:"minProfitUSD"`
	MinProfitPercent float64       `json:"minProfitPercentage"`
	TestVolume       float64       `json:"testVolume"`
	ScanInterval     time.Duration `json:"scanInterval"`
	PriorityDEXes    []string      `json:"priorityDEXes"`
	MaxPriceImpact   float64       `json:"maxPriceImpact"`
	MaxSlippage      float64       `json:"maxSlippage"`
}

// SlippageBps converts MaxSlippage (percent) into basis points.
func (c ScannerConfig) SlippageBps() int {
	return int(c.MaxSlippage * 100)
}

// MarshalJSON renders scanInterval in milliseconds, the unit patches use.
func (c ScannerConfig) MarshalJSON() ([]byte, error) {
	type plain ScannerConfig
	return json.Marshal(struct {
		plain
		ScanInterval int64 `json:"scanInterval"`
	}{plain: plain(c), ScanInterval: c.ScanInterval.Milliseconds()})
}

// Clone returns a deep copy so callers never share slices with the owner.
func (c ScannerConfig) Clone() ScannerConfig {
	out := c
	out.Pairs = append([]PairConfig(nil), c.Pairs...)
	out.PriorityDEXes = append([]string(nil), c.PriorityDEXes...)
	return out
}

// ScannerConfigPatch is a partial override; nil fields are left unchanged.
type ScannerConfigPatch struct {
	Pairs            []PairConfig `json:"pairs,omitempty"`
	MinProfitUSD     *float64     `json:"minProfitUSD,omitempty"`
	MinProfitPercent *float64     `json:"minProfitPercentage,omitempty"`
	TestVolume       *float64     `json:"testVolume,omitempty"`
	ScanIntervalMs   *int64       `json:"scanInterval,omitempty"`
	PriorityDEXes    []string     `json:"priorityDEXes,omitempty"`
	MaxPriceImpact   *float64     `json:"maxPriceImpact,omitempty"`
	MaxSlippage      *float64     `json:"maxSlippage,omitempty"`
}

// Apply returns a new config with the patch merged over c.
func (p ScannerConfigPatch) Apply(c ScannerConfig) ScannerConfig {
	out := c.Clone()
	if p.Pairs != nil {
		out.Pairs = append([]PairConfig(nil), p.Pairs...)
	}
	if p.MinProfitUSD != nil {
		out.MinProfitUSD = *p.MinProfitUSD
	}
	if p.MinProfitPercent != nil {
		out.MinProfitPercent = *p.MinProfitPercent
	}
	if p.TestVolume != nil {
		out.TestVolume = *p.TestVolume
	}
	if p.ScanIntervalMs != nil {
		out.ScanInterval = time.Duration(*p.ScanIntervalMs) * time.Millisecond
	}
	if p.PriorityDEXes != nil {
		out.PriorityDEXes = append([]string(nil), p.PriorityDEXes...)
	}
	if p.MaxPriceImpact != nil {
		out.MaxPriceImpact = *p.MaxPriceImpact
	}
	if p.MaxSlippage != nil {
		out.MaxSlippage = *p.MaxSlippage
	}
	return out
}

// ScannerStats is a read-only snapshot of the orchestrator run state.
type ScannerStats struct {
	ScanCount           int64         `json:"scanCount"`
	IsRunning           bool          `json:"isRunning"`
	UsingSynthetic      bool          `json:"usingSynthetic"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	LastScanTime        time.Time     `json:"lastScanTime"`
	TotalOpportunities  int           `json:"totalOpportunities"`
	Config              ScannerConfig `json:"config"`
}

// ScanEventType enumerates the events emitted by the scanner.
type ScanEventType string

const (
	EventLog           ScanEventType = "log"
	EventStatus        ScanEventType = "status"
	EventOpportunities ScanEventType = "opportunities"
	EventScanStart     ScanEventType = "scan_start"
	EventScanComplete  ScanEventType = "scan_complete"
	EventConnected     ScanEventType = "connected"
)

// ScanEvent is one message on the scanner event stream.
type ScanEvent struct {
	Type      ScanEventType `json:"type"`
	Payload   any           `json:"payload"`
	Timestamp time.Time     `json:"timestamp"`
}

// LogPayload is the payload of an EventLog event.
type LogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}
