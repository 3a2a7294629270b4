package oracle

import (
	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/runtime"
)

// Client is a typed view of a deployed price registry.
type Client struct {
	caller runtime.Caller
	addr   domain.Address
}

// NewClient binds a client to the registry at addr without checking its kind.
func NewClient(caller runtime.Caller, addr domain.Address) *Client {
	return &Client{caller: caller, addr: addr}
}

// Dial binds a client after verifying that addr hosts a price registry.
func Dial(caller runtime.Caller, addr domain.Address) (*Client, error) {
	if err := runtime.ExpectKind(caller, addr, Kind); err != nil {
		return nil, err
	}
	return NewClient(caller, addr), nil
}

// Address returns the registry address.
func (c *Client) Address() domain.Address { return c.addr }

// GetPrice returns the latest record for asset, or ErrNotFound.
func (c *Client) GetPrice(asset string) (domain.PriceRecord, error) {
	var rec domain.PriceRecord
	err := c.caller.Call(c.addr, MethodGetPrice, AssetArgs{Asset: asset}, &rec)
	return rec, err
}

// IsUpdater reports whether account may publish prices.
func (c *Client) IsUpdater(account domain.Address) (bool, error) {
	var ok bool
	err := c.caller.Call(c.addr, MethodIsUpdater, AccountArgs{Account: account}, &ok)
	return ok, err
}

// Owner returns the registry owner.
func (c *Client) Owner() (domain.Address, error) {
	var owner domain.Address
	err := c.caller.Call(c.addr, MethodOwner, nil, &owner)
	return owner, err
}
