package token

import (
	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/runtime"
)

// Client is a typed view of a deployed token ledger. Mutating calls are only
// meaningful through an Env, where the calling contract is the invoker.
type Client struct {
	caller runtime.Caller
	addr   domain.Address
}

// NewClient binds a client to the ledger at addr without checking its kind.
func NewClient(caller runtime.Caller, addr domain.Address) *Client {
	return &Client{caller: caller, addr: addr}
}

// Dial binds a client after verifying that addr hosts a token ledger.
func Dial(caller runtime.Caller, addr domain.Address) (*Client, error) {
	if err := runtime.ExpectKind(caller, addr, Kind); err != nil {
		return nil, err
	}
	return NewClient(caller, addr), nil
}

// Address returns the ledger address.
func (c *Client) Address() domain.Address { return c.addr }

// Mint credits account. caller must be the ledger's minter.
func (c *Client) Mint(caller, account domain.Address, amount domain.Int128) error {
	return c.caller.Call(c.addr, MethodMint, MintArgs{Caller: caller, Account: account, Amount: amount}, nil)
}

// Transfer moves amount from from to to.
func (c *Client) Transfer(from, to domain.Address, amount domain.Int128) error {
	return c.caller.Call(c.addr, MethodTransfer, TransferArgs{From: from, To: to, Amount: amount}, nil)
}

// TransferFrom moves amount from from to to, consuming spender's allowance.
func (c *Client) TransferFrom(spender, from, to domain.Address, amount domain.Int128) error {
	return c.caller.Call(c.addr, MethodTransferFrom, TransferFromArgs{
		Spender: spender,
		From:    from,
		To:      to,
		Amount:  amount,
	}, nil)
}

// Balance returns the balance of account; unknown accounts hold zero.
func (c *Client) Balance(account domain.Address) (domain.Int128, error) {
	var v domain.Int128
	err := c.caller.Call(c.addr, MethodBalance, AccountArgs{Account: account}, &v)
	return v, err
}

// Allowance returns how much spender may still move out of from.
func (c *Client) Allowance(from, spender domain.Address) (domain.Int128, error) {
	var v domain.Int128
	err := c.caller.Call(c.addr, MethodAllowance, AllowanceArgs{From: from, Spender: spender}, &v)
	return v, err
}

// TotalSupply returns the sum of all balances.
func (c *Client) TotalSupply() (domain.Int128, error) {
	var v domain.Int128
	err := c.caller.Call(c.addr, MethodTotalSupply, nil, &v)
	return v, err
}

// Metadata returns name, symbol and decimals.
func (c *Client) Metadata() (domain.TokenMetadata, error) {
	var m domain.TokenMetadata
	if err := c.caller.Call(c.addr, MethodName, nil, &m.Name); err != nil {
		return m, err
	}
	if err := c.caller.Call(c.addr, MethodSymbol, nil, &m.Symbol); err != nil {
		return m, err
	}
	err := c.caller.Call(c.addr, MethodDecimals, nil, &m.Decimals)
	return m, err
}

// Minter returns the current minter, or the zero address when unset.
func (c *Client) Minter() (domain.Address, error) {
	var v domain.Address
	err := c.caller.Call(c.addr, MethodMinter, nil, &v)
	return v, err
}
