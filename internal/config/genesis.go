package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"ambar-ledger/internal/access"
	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/exchange"
	"ambar-ledger/internal/identity"
	"ambar-ledger/internal/oracle"
	"ambar-ledger/internal/runtime"
	"ambar-ledger/internal/token"
)

// Genesis describes the contracts deployed when a ledger starts empty.
// The operator key deploys, owns and wires every contract.
//
//	[oracle]
//	salt = "oracle"
//	updaters = ["<address>"]
//	[[oracle.prices]]
//	asset = "XLM"
//	price = "2"
//
//	[reference_asset]
//	salt = "usdc"
//	name = "USD Coin"
//	symbol = "USDC"
//	decimals = 6
//	[[reference_asset.balances]]
//	account = "<address>"
//	amount = "1000.50"
//
//	[[tokens]]
//	asset = "XLM"
//	salt = "ener"
//
//	[exchange]
//	salt = "exchange"
type Genesis struct {
	Oracle         OracleGenesis   `toml:"oracle"`
	ReferenceAsset TokenGenesis    `toml:"reference_asset"`
	Tokens         []TokenGenesis  `toml:"tokens"`
	Exchange       ExchangeGenesis `toml:"exchange"`
}

// OracleGenesis configures the price registry.
type OracleGenesis struct {
	Salt     string         `toml:"salt"`
	Updaters []string       `toml:"updaters"`
	Prices   []PriceGenesis `toml:"prices"`
}

// PriceGenesis is an initial price. Price is in reference asset base units
// per whole token; ObservedAt defaults to the genesis time.
type PriceGenesis struct {
	Asset      string `toml:"asset"`
	Price      string `toml:"price"`
	ObservedAt uint64 `toml:"observed_at"`
	ValidFor   uint64 `toml:"valid_for"`
}

// TokenGenesis configures a token ledger. Asset is the symbol the exchange
// maps to this ledger and is ignored for the reference asset.
type TokenGenesis struct {
	Asset    string           `toml:"asset"`
	Salt     string           `toml:"salt"`
	Name     string           `toml:"name"`
	Symbol   string           `toml:"symbol"`
	Decimals *uint32          `toml:"decimals"`
	Balances []BalanceGenesis `toml:"balances"`
}

// BalanceGenesis mints Amount (decimal, in whole units) to Account.
type BalanceGenesis struct {
	Account string `toml:"account"`
	Amount  string `toml:"amount"`
}

// ExchangeGenesis configures the exchange orchestrator.
type ExchangeGenesis struct {
	Salt string `toml:"salt"`
}

// Deployment lists genesis contract addresses.
type Deployment struct {
	Oracle         domain.Address            `json:"oracle"`
	ReferenceAsset domain.Address            `json:"reference_asset"`
	Exchange       domain.Address            `json:"exchange"`
	Tokens         map[string]domain.Address `json:"tokens"`
}

// LoadGenesis decodes and validates a genesis file. Unknown keys are rejected.
func LoadGenesis(path string) (*Genesis, error) {
	var g Genesis
	meta, err := toml.DecodeFile(path, &g)
	if err != nil {
		return nil, fmt.Errorf("load genesis: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("load genesis: unknown keys %s", strings.Join(keys, ", "))
	}
	g.applyDefaults()
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

func (g *Genesis) applyDefaults() {
	if g.Oracle.Salt == "" {
		g.Oracle.Salt = "oracle"
	}
	if g.ReferenceAsset.Salt == "" {
		g.ReferenceAsset.Salt = "reference_asset"
	}
	if g.Exchange.Salt == "" {
		g.Exchange.Salt = "exchange"
	}
	for i := range g.Tokens {
		if g.Tokens[i].Salt == "" {
			g.Tokens[i].Salt = "token:" + g.Tokens[i].Asset
		}
	}
}

// Validate checks the genesis description without touching a ledger.
func (g *Genesis) Validate() error {
	var errs []error

	for _, u := range g.Oracle.Updaters {
		if _, err := domain.ParseAddress(u); err != nil {
			errs = append(errs, fmt.Errorf("oracle updater %q: %w", u, err))
		}
	}
	for _, p := range g.Oracle.Prices {
		if p.Asset == "" {
			errs = append(errs, errors.New("oracle price: asset is required"))
		}
		v, err := domain.ParseInt128(p.Price)
		if err != nil {
			errs = append(errs, fmt.Errorf("oracle price %s: %w", p.Asset, err))
		} else if v.Sign() <= 0 {
			errs = append(errs, fmt.Errorf("oracle price %s: %w", p.Asset, domain.ErrInvalidPrice))
		}
	}

	errs = append(errs, g.ReferenceAsset.validate("reference_asset")...)

	salts := map[string]bool{g.Oracle.Salt: true, g.ReferenceAsset.Salt: true, g.Exchange.Salt: true}
	if len(salts) != 3 {
		errs = append(errs, errors.New("oracle, reference_asset and exchange salts must differ"))
	}
	assets := make(map[string]bool)
	for i, t := range g.Tokens {
		name := fmt.Sprintf("tokens[%d]", i)
		if t.Asset == "" {
			errs = append(errs, fmt.Errorf("%s: asset is required", name))
		} else if assets[t.Asset] {
			errs = append(errs, fmt.Errorf("%s: duplicate asset %q", name, t.Asset))
		}
		assets[t.Asset] = true
		if salts[t.Salt] {
			errs = append(errs, fmt.Errorf("%s: salt %q already used", name, t.Salt))
		}
		salts[t.Salt] = true
		if len(t.Balances) > 0 {
			errs = append(errs, fmt.Errorf("%s: balances are minted by the exchange only", name))
		}
		errs = append(errs, t.validate(name)...)
	}
	return errors.Join(errs...)
}

func (t TokenGenesis) decimals() uint32 {
	if t.Decimals != nil {
		return *t.Decimals
	}
	return domain.DefaultTokenMetadata().Decimals
}

func (t TokenGenesis) validate(name string) []error {
	var errs []error
	if t.decimals() > token.MaxDecimals {
		errs = append(errs, fmt.Errorf("%s: decimals %d exceed %d", name, t.decimals(), token.MaxDecimals))
	}
	for _, b := range t.Balances {
		if _, err := domain.ParseAddress(b.Account); err != nil {
			errs = append(errs, fmt.Errorf("%s balance %q: %w", name, b.Account, err))
		}
		v, err := domain.ParseUnits(b.Amount, t.decimals())
		if err != nil {
			errs = append(errs, fmt.Errorf("%s balance %s: %w", name, b.Account, err))
		} else if v.Sign() <= 0 {
			errs = append(errs, fmt.Errorf("%s balance %s: %w", name, b.Account, domain.ErrInvalidAmount))
		}
	}
	return errs
}

// Addresses derives the genesis contract addresses for operator.
func (g *Genesis) Addresses(operator domain.Address) (*Deployment, error) {
	d := &Deployment{Tokens: make(map[string]domain.Address, len(g.Tokens))}
	var err error
	if d.Oracle, err = identity.DeriveContractAddress(operator, []byte(g.Oracle.Salt)); err != nil {
		return nil, err
	}
	if d.ReferenceAsset, err = identity.DeriveContractAddress(operator, []byte(g.ReferenceAsset.Salt)); err != nil {
		return nil, err
	}
	if d.Exchange, err = identity.DeriveContractAddress(operator, []byte(g.Exchange.Salt)); err != nil {
		return nil, err
	}
	for _, t := range g.Tokens {
		addr, err := identity.DeriveContractAddress(operator, []byte(t.Salt))
		if err != nil {
			return nil, err
		}
		d.Tokens[t.Asset] = addr
	}
	return d, nil
}

type deploySpec struct {
	kind string
	salt string
	addr domain.Address
}

// Applier deploys a Genesis onto a host.
type Applier struct {
	Host     *runtime.Host
	Operator *identity.KeyPair
	Logger   zerolog.Logger
	// Clock stamps initial prices without an observed_at. Defaults to time.Now.
	Clock func() time.Time
}

// Apply deploys and wires the genesis contracts. A ledger whose exchange is
// fully wired is left untouched. Otherwise every step is replayed: deployed
// contracts are kept, constructed ones are not constructed again and
// balances are topped up to their genesis amount, so an interrupted genesis
// completes on the next start.
func (a *Applier) Apply(ctx context.Context, g *Genesis) (*Deployment, error) {
	op := a.Operator.Address()
	d, err := g.Addresses(op)
	if err != nil {
		return nil, err
	}

	done, err := a.applied(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("check genesis: %w", err)
	}
	if done {
		a.Logger.Info().Str("exchange", d.Exchange.String()).Msg("Genesis already applied")
		return d, nil
	}

	deploys := []deploySpec{
		{oracle.Kind, g.Oracle.Salt, d.Oracle},
		{token.Kind, g.ReferenceAsset.Salt, d.ReferenceAsset},
	}
	for _, t := range g.Tokens {
		deploys = append(deploys, deploySpec{token.Kind, t.Salt, d.Tokens[t.Asset]})
	}
	deploys = append(deploys, deploySpec{exchange.Kind, g.Exchange.Salt, d.Exchange})

	for _, dep := range deploys {
		if err := a.deploy(ctx, dep); err != nil {
			return nil, err
		}
	}

	if err := a.setupOracle(ctx, g.Oracle, d.Oracle); err != nil {
		return nil, err
	}
	if err := a.setupToken(ctx, g.ReferenceAsset, d.ReferenceAsset, op); err != nil {
		return nil, err
	}
	for _, t := range g.Tokens {
		if err := a.setupToken(ctx, t, d.Tokens[t.Asset], d.Exchange); err != nil {
			return nil, err
		}
	}
	// Wired last: a complete token mapping marks a completed genesis.
	if err := a.setupExchange(ctx, d); err != nil {
		return nil, err
	}

	a.Logger.Info().
		Str("oracle", d.Oracle.String()).
		Str("reference_asset", d.ReferenceAsset.String()).
		Str("exchange", d.Exchange.String()).
		Int("tokens", len(d.Tokens)).
		Msg("Genesis applied")
	return d, nil
}

// applied reports whether the exchange already points at every genesis
// contract. A read that fails leaves the ledger to be resumed.
func (a *Applier) applied(ctx context.Context, d *Deployment) (bool, error) {
	if _, err := a.Host.KindOf(ctx, d.Exchange); errors.Is(err, runtime.ErrContractNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	ex, err := exchange.Dial(a.Host.Reader(ctx), d.Exchange)
	if err != nil {
		return false, err
	}

	oracleAddr, err := ex.Oracle()
	if err != nil || oracleAddr != d.Oracle {
		return false, nil
	}
	ref, err := ex.ReferenceAsset()
	if err != nil || ref != d.ReferenceAsset {
		return false, nil
	}
	for asset, addr := range d.Tokens {
		got, err := ex.TokenContract(asset)
		if err != nil || got != addr {
			return false, nil
		}
	}
	return true, nil
}

func (a *Applier) deploy(ctx context.Context, dep deploySpec) error {
	kind, err := a.Host.KindOf(ctx, dep.addr)
	switch {
	case err == nil && kind == dep.kind:
		a.Logger.Debug().Str("kind", kind).Str("address", dep.addr.String()).Msg("Genesis contract already deployed")
		return nil
	case err == nil:
		return fmt.Errorf("deploy %s %q: %w: %s is %q", dep.kind, dep.salt, runtime.ErrWrongContract, dep.addr, kind)
	case !errors.Is(err, runtime.ErrContractNotFound):
		return fmt.Errorf("deploy %s %q: %w", dep.kind, dep.salt, err)
	}
	if _, err := a.Host.Deploy(ctx, dep.kind, a.Operator.Address(), []byte(dep.salt)); err != nil {
		return fmt.Errorf("deploy %s %q: %w", dep.kind, dep.salt, err)
	}
	return nil
}

func (a *Applier) submit(ctx context.Context, contract domain.Address, method string, args any) error {
	if _, err := a.Host.Submit(ctx, contract, method, args, a.Operator); err != nil {
		return fmt.Errorf("genesis %s on %s: %w", method, contract, err)
	}
	return nil
}

// construct runs a constructor, accepting one that already ran.
func (a *Applier) construct(ctx context.Context, contract domain.Address, method string, args any) error {
	err := a.submit(ctx, contract, method, args)
	if errors.Is(err, domain.ErrAlreadyInitialized) {
		return nil
	}
	return err
}

func (a *Applier) setupOracle(ctx context.Context, g OracleGenesis, addr domain.Address) error {
	op := a.Operator.Address()
	if err := a.construct(ctx, addr, oracle.MethodConstruct, access.ConstructArgs{Owner: op}); err != nil {
		return err
	}
	for _, u := range g.Updaters {
		updater, _ := domain.ParseAddress(u)
		if err := a.submit(ctx, addr, oracle.MethodAuthorizeUpdater, oracle.UpdaterArgs{Caller: op, Updater: updater}); err != nil {
			return err
		}
	}

	clock := a.Clock
	if clock == nil {
		clock = time.Now
	}
	for _, p := range g.Prices {
		observed := p.ObservedAt
		if observed == 0 {
			observed = uint64(clock().Unix())
		}
		if err := a.submit(ctx, addr, oracle.MethodSetPrice, oracle.SetPriceArgs{
			Caller:     op,
			Asset:      p.Asset,
			Price:      domain.MustInt128(p.Price),
			ObservedAt: observed,
			ValidFor:   p.ValidFor,
		}); err != nil {
			return err
		}
	}
	return nil
}

// setupToken constructs a ledger, mints its genesis balances and hands the
// minter role to minter.
func (a *Applier) setupToken(ctx context.Context, g TokenGenesis, addr, minter domain.Address) error {
	op := a.Operator.Address()
	if err := a.construct(ctx, addr, token.MethodConstruct, token.ConstructArgs{
		Owner:    op,
		Name:     g.Name,
		Symbol:   g.Symbol,
		Decimals: g.Decimals,
	}); err != nil {
		return err
	}

	if len(g.Balances) > 0 {
		if err := a.submit(ctx, addr, token.MethodSetMinter, token.SetMinterArgs{Caller: op, Minter: op}); err != nil {
			return err
		}
		ledger := token.NewClient(a.Host.Reader(ctx), addr)
		balances := append([]BalanceGenesis(nil), g.Balances...)
		sort.SliceStable(balances, func(i, j int) bool { return balances[i].Account < balances[j].Account })
		for _, b := range balances {
			account, _ := domain.ParseAddress(b.Account)
			amount, _ := domain.ParseUnits(b.Amount, g.decimals())
			held, err := ledger.Balance(account)
			if err != nil {
				return fmt.Errorf("genesis balance of %s on %s: %w", account, addr, err)
			}
			// Only the shortfall is minted when a previous run got this far.
			missing, ok := amount.Sub(held)
			if !ok || missing.Sign() <= 0 {
				continue
			}
			if err := a.submit(ctx, addr, token.MethodMint, token.MintArgs{Caller: op, Account: account, Amount: missing}); err != nil {
				return err
			}
		}
	}

	if minter == op && len(g.Balances) > 0 {
		return nil
	}
	return a.submit(ctx, addr, token.MethodSetMinter, token.SetMinterArgs{Caller: op, Minter: minter})
}

func (a *Applier) setupExchange(ctx context.Context, d *Deployment) error {
	op := a.Operator.Address()
	if err := a.construct(ctx, d.Exchange, exchange.MethodConstruct, access.ConstructArgs{Owner: op}); err != nil {
		return err
	}
	if err := a.submit(ctx, d.Exchange, exchange.MethodSetOracleContract, exchange.SetAddressArgs{Caller: op, Address: d.Oracle}); err != nil {
		return err
	}
	if err := a.submit(ctx, d.Exchange, exchange.MethodSetReferenceAssetContract, exchange.SetAddressArgs{Caller: op, Address: d.ReferenceAsset}); err != nil {
		return err
	}

	assets := make([]string, 0, len(d.Tokens))
	for asset := range d.Tokens {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		if err := a.submit(ctx, d.Exchange, exchange.MethodSetTokenContract, exchange.SetTokenArgs{
			Caller:  op,
			Symbol:  asset,
			Address: d.Tokens[asset],
		}); err != nil {
			return err
		}
	}
	return nil
}
