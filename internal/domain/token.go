package domain

// Token describes an SPL mint. Values are immutable once resolved.
type Token struct {
	Mint     string `json:"mint"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
	LogoURI  string `json:"logoURI,omitempty"`
}

// PairSymbol renders "A/B" for logs and sorting.
func PairSymbol(a, b Token) string {
	return a.Symbol + "/" + b.Symbol
}
