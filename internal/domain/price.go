package domain

// PriceRecord is the latest observation for one asset in the price registry.
type PriceRecord struct {
	Price      Int128 `json:"price"`       // always > 0
	ObservedAt uint64 `json:"observed_at"` // unix seconds reported by the feeder
	ValidFor   uint64 `json:"valid_for"`   // seconds; 0 means no freshness bound
	Nonce      Int128 `json:"nonce"`       // feeder sequence; 0 means unsequenced
}

// IsStale reports whether the record has outlived ValidFor at ledger time now.
// Records with ValidFor == 0 never go stale.
func (r PriceRecord) IsStale(now uint64) bool {
	if r.ValidFor == 0 || now <= r.ObservedAt {
		return false
	}
	return now-r.ObservedAt > r.ValidFor
}
