package exchange

import (
	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/runtime"
)

// Client is a typed read view of a deployed orchestrator.
type Client struct {
	caller runtime.Caller
	addr   domain.Address
}

// Dial binds a client after verifying that addr hosts an orchestrator.
func Dial(caller runtime.Caller, addr domain.Address) (*Client, error) {
	if err := runtime.ExpectKind(caller, addr, Kind); err != nil {
		return nil, err
	}
	return &Client{caller: caller, addr: addr}, nil
}

// Quote previews mint_with_reference_asset without moving funds.
func (c *Client) Quote(symbol string, amount domain.Int128) (Quote, error) {
	var q Quote
	err := c.caller.Call(c.addr, MethodQuote, QuoteArgs{Symbol: symbol, Amount: amount}, &q)
	return q, err
}

// TokenContract returns the token ledger registered for symbol.
func (c *Client) TokenContract(symbol string) (domain.Address, error) {
	var addr domain.Address
	err := c.caller.Call(c.addr, MethodTokenContract, SymbolArgs{Symbol: symbol}, &addr)
	return addr, err
}

// Oracle returns the configured price registry, or the zero address.
func (c *Client) Oracle() (domain.Address, error) {
	var addr domain.Address
	err := c.caller.Call(c.addr, MethodOracle, nil, &addr)
	return addr, err
}

// ReferenceAsset returns the configured payment asset, or the zero address.
func (c *Client) ReferenceAsset() (domain.Address, error) {
	var addr domain.Address
	err := c.caller.Call(c.addr, MethodReferenceAsset, nil, &addr)
	return addr, err
}
