package domain

import "strconv"

// Event topics.
const (
	TopicPriceUpdate  = "PriceUpdate"
	TopicMintedTokens = "MintedTokens"
	TopicTransfer     = "Transfer"
	TopicMint         = "Mint"
	TopicBurn         = "Burn"
	TopicApprove      = "Approve"
)

// Event is an append-only audit record emitted by a contract.
// Sequence, TxHash, Index and Timestamp are stamped by the host at commit.
type Event struct {
	Sequence  uint64            `json:"sequence"`
	TxHash    string            `json:"tx_hash"`
	Index     int               `json:"index"`
	Contract  Address           `json:"contract"`
	Topic     string            `json:"topic"`
	Key       string            `json:"key"`
	Data      map[string]string `json:"data"`
	Timestamp uint64            `json:"timestamp"`
}

// NewPriceUpdateEvent builds PriceUpdate(asset) -> (price, observed_at, valid_for, nonce).
func NewPriceUpdateEvent(asset string, r PriceRecord) *Event {
	return &Event{
		Topic: TopicPriceUpdate,
		Key:   asset,
		Data: map[string]string{
			"price":       r.Price.String(),
			"observed_at": strconv.FormatUint(r.ObservedAt, 10),
			"valid_for":   strconv.FormatUint(r.ValidFor, 10),
			"nonce":       r.Nonce.String(),
		},
	}
}

// NewMintedTokensEvent builds MintedTokens(user) -> (amount_paid, tokens_minted).
func NewMintedTokensEvent(user Address, amountPaid, tokensMinted Int128) *Event {
	return &Event{
		Topic: TopicMintedTokens,
		Key:   user.String(),
		Data: map[string]string{
			"amount_paid":   amountPaid.String(),
			"tokens_minted": tokensMinted.String(),
		},
	}
}

// NewTransferEvent builds Transfer(from) -> (to, amount).
func NewTransferEvent(from, to Address, amount Int128) *Event {
	return &Event{
		Topic: TopicTransfer,
		Key:   from.String(),
		Data:  map[string]string{"to": to.String(), "amount": amount.String()},
	}
}

// NewMintEvent builds Mint(account) -> (amount).
func NewMintEvent(account Address, amount Int128) *Event {
	return &Event{
		Topic: TopicMint,
		Key:   account.String(),
		Data:  map[string]string{"amount": amount.String()},
	}
}

// NewBurnEvent builds Burn(from) -> (amount).
func NewBurnEvent(from Address, amount Int128) *Event {
	return &Event{
		Topic: TopicBurn,
		Key:   from.String(),
		Data:  map[string]string{"amount": amount.String()},
	}
}

// NewApproveEvent builds Approve(from) -> (spender, amount).
func NewApproveEvent(from, spender Address, amount Int128) *Event {
	return &Event{
		Topic: TopicApprove,
		Key:   from.String(),
		Data:  map[string]string{"spender": spender.String(), "amount": amount.String()},
	}
}
