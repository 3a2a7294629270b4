package domain

// Default token metadata used when a ledger is constructed without explicit values.
const (
	DefaultTokenName     = "EnerTrade"
	DefaultTokenSymbol   = "Ener"
	DefaultTokenDecimals = 18
)

// TokenMetadata is fixed when a token ledger is constructed.
type TokenMetadata struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint32 `json:"decimals"`
}

// DefaultTokenMetadata returns the EnerTrade token metadata.
func DefaultTokenMetadata() TokenMetadata {
	return TokenMetadata{
		Name:     DefaultTokenName,
		Symbol:   DefaultTokenSymbol,
		Decimals: DefaultTokenDecimals,
	}
}
