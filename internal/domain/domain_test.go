package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestScannerConfigPatchApply(t *testing.T) {
	base := ScannerConfig{
		Pairs:         []PairConfig{{TokenA: "A", TokenB: "B"}},
		MinProfitUSD:  1,
		ScanInterval:  5 * time.Second,
		PriorityDEXes: []string{"Orca"},
		MaxSlippage:   0.5,
	}

	patch := ScannerConfigPatch{
		MinProfitUSD:   ptr(2.5),
		ScanIntervalMs: ptr(int64(1500)),
		PriorityDEXes:  []string{"Raydium", "Meteora"},
	}
	out := patch.Apply(base)

	assert.Equal(t, 2.5, out.MinProfitUSD)
	assert.Equal(t, 1500*time.Millisecond, out.ScanInterval)
	assert.Equal(t, []string{"Raydium", "Meteora"}, out.PriorityDEXes)
	assert.Equal(t, base.Pairs, out.Pairs)
	assert.Equal(t, 0.5, out.MaxSlippage)

	// base is untouched and shares no slices with the result
	out.Pairs[0].TokenA = "X"
	assert.Equal(t, "A", base.Pairs[0].TokenA)
	assert.Equal(t, 1.0, base.MinProfitUSD)
	assert.Equal(t, []string{"Orca"}, base.PriorityDEXes)
}

func TestScannerConfigPatchEmpty(t *testing.T) {
	base := ScannerConfig{MinProfitUSD: 3, MaxSlippage: 1.25}
	assert.Equal(t, base.Clone(), ScannerConfigPatch{}.Apply(base))
	assert.Equal(t, 125, base.SlippageBps())
}

func TestScannerConfigJSONUsesMilliseconds(t *testing.T) {
	b, err := json.Marshal(ScannerConfig{ScanInterval: 2 * time.Second, MinProfitUSD: 1})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, float64(2000), m["scanInterval"])
	assert.Equal(t, float64(1), m["minProfitUSD"])
}

func TestParseConfidence(t *testing.T) {
	assert.Equal(t, ConfidenceHigh, ParseConfidence("HIGH"))
	assert.Equal(t, ConfidenceMedium, ParseConfidence(" medium "))
	assert.Equal(t, ConfidenceLow, ParseConfidence("low"))
	assert.Equal(t, ConfidenceLow, ParseConfidence("unknown"))

	var c Confidence
	require.NoError(t, json.Unmarshal([]byte(`"high"`), &c))
	assert.Equal(t, ConfidenceHigh, c)

	b, err := json.Marshal(ConfidenceMedium)
	require.NoError(t, err)
	assert.JSONEq(t, `"MEDIUM"`, string(b))
}

func TestDirectionalRatesEmpty(t *testing.T) {
	assert.True(t, DirectionalRates{}.Empty())
	assert.False(t, DirectionalRates{Reverse: []DirectionalQuote{{Price: 1}}}.Empty())
	assert.Equal(t, []string{"Orca", "Raydium"}, Quote{Route: []RouteHop{{Label: "Orca"}, {Label: "Raydium"}}}.Venues())
}
