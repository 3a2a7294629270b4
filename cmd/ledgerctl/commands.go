package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/events"
	"ambar-ledger/internal/exchange"
	"ambar-ledger/internal/identity"
	"ambar-ledger/internal/oracle"
	"ambar-ledger/internal/rpc"
	"ambar-ledger/internal/runtime"
	"ambar-ledger/internal/token"
)

const defaultTimeout = 30 * time.Second

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "generate a new account key",
		Action: func(c *cli.Context) error {
			kp, err := identity.Generate()
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"address": kp.Address().String(), "secret": kp.Secret()})
		},
	}
}

func addressCommand() *cli.Command {
	return &cli.Command{
		Name:  "address",
		Usage: "print the address of --key",
		Action: func(c *cli.Context) error {
			kp, err := signer(c)
			if err != nil {
				return err
			}
			fmt.Println(kp.Address())
			return nil
		},
	}
}

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "sign and submit a raw contract call",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "contract", Required: true},
			&cli.StringFlag{Name: "method", Required: true},
			&cli.StringFlag{Name: "args", Value: "{}", Usage: "JSON arguments"},
		},
		Action: func(c *cli.Context) error {
			contract, err := addressFlag(c, "contract")
			if err != nil {
				return err
			}
			return submit(c, contract, c.String("method"), json.RawMessage(c.String("args")))
		},
	}
}

func queryCommand() *cli.Command {
	return &cli.Command{
		Name:  "query",
		Usage: "run a read-only contract call",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "contract", Required: true},
			&cli.StringFlag{Name: "method", Required: true},
			&cli.StringFlag{Name: "args", Value: "{}", Usage: "JSON arguments"},
		},
		Action: func(c *cli.Context) error {
			contract, err := addressFlag(c, "contract")
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(c)
			defer cancel()
			raw, err := client(c).Query(ctx, contract, c.String("method"), json.RawMessage(c.String("args")))
			if err != nil {
				return err
			}
			return printJSON(raw)
		},
	}
}

func setPriceCommand() *cli.Command {
	return &cli.Command{
		Name:  "set-price",
		Usage: "publish an asset price to the price registry",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "oracle", Required: true, EnvVars: []string{"LEDGER_ORACLE"}},
			&cli.StringFlag{Name: "asset", Required: true},
			&cli.StringFlag{Name: "price", Required: true, Usage: "reference asset base units per whole token"},
			&cli.Uint64Flag{Name: "observed-at", Usage: "unix seconds, defaults to now"},
			&cli.Uint64Flag{Name: "valid-for", Usage: "seconds the price stays fresh, 0 for no expiry"},
			&cli.StringFlag{Name: "nonce", Value: "0", Usage: "strictly increasing update nonce, 0 disables replay checks"},
		},
		Action: func(c *cli.Context) error {
			kp, err := signer(c)
			if err != nil {
				return err
			}
			registry, err := addressFlag(c, "oracle")
			if err != nil {
				return err
			}
			price, err := domain.ParseInt128(c.String("price"))
			if err != nil {
				return err
			}
			nonce, err := domain.ParseInt128(c.String("nonce"))
			if err != nil {
				return err
			}
			observed := c.Uint64("observed-at")
			if observed == 0 {
				observed = uint64(time.Now().Unix())
			}
			return submit(c, registry, oracle.MethodSetPrice, oracle.SetPriceArgs{
				Caller:     kp.Address(),
				Asset:      c.String("asset"),
				Price:      price,
				ObservedAt: observed,
				ValidFor:   c.Uint64("valid-for"),
				Nonce:      nonce,
			})
		},
	}
}

func updaterCommand(name, usage, method string) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "oracle", Required: true, EnvVars: []string{"LEDGER_ORACLE"}},
			&cli.StringFlag{Name: "updater", Required: true},
		},
		Action: func(c *cli.Context) error {
			kp, err := signer(c)
			if err != nil {
				return err
			}
			registry, err := addressFlag(c, "oracle")
			if err != nil {
				return err
			}
			updater, err := addressFlag(c, "updater")
			if err != nil {
				return err
			}
			return submit(c, registry, method, oracle.UpdaterArgs{Caller: kp.Address(), Updater: updater})
		},
	}
}

func priceCommand() *cli.Command {
	return &cli.Command{
		Name:  "price",
		Usage: "read the latest price of an asset",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "oracle", Required: true, EnvVars: []string{"LEDGER_ORACLE"}},
			&cli.StringFlag{Name: "asset", Required: true},
		},
		Action: func(c *cli.Context) error {
			registry, err := addressFlag(c, "oracle")
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(c)
			defer cancel()
			reg, err := oracle.Dial(client(c).Caller(ctx), registry)
			if err != nil {
				return err
			}
			rec, err := reg.GetPrice(c.String("asset"))
			if err != nil {
				return err
			}
			return printJSON(struct {
				domain.PriceRecord
				Stale bool `json:"stale"`
			}{rec, rec.IsStale(uint64(time.Now().Unix()))})
		},
	}
}

func approveCommand() *cli.Command {
	return &cli.Command{
		Name:  "approve",
		Usage: "allow a spender to move tokens on behalf of --key",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "token", Required: true},
			&cli.StringFlag{Name: "spender", Required: true},
			&cli.StringFlag{Name: "amount", Required: true, Usage: "decimal amount in whole units"},
		},
		Action: func(c *cli.Context) error {
			kp, err := signer(c)
			if err != nil {
				return err
			}
			ledger, err := addressFlag(c, "token")
			if err != nil {
				return err
			}
			spender, err := addressFlag(c, "spender")
			if err != nil {
				return err
			}
			amount, err := parseAmount(c, ledger, c.String("amount"))
			if err != nil {
				return err
			}
			return submit(c, ledger, token.MethodApprove, token.ApproveArgs{From: kp.Address(), Spender: spender, Amount: amount})
		},
	}
}

func transferCommand() *cli.Command {
	return &cli.Command{
		Name:  "transfer",
		Usage: "move tokens from --key to another account",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "token", Required: true},
			&cli.StringFlag{Name: "to", Required: true},
			&cli.StringFlag{Name: "amount", Required: true, Usage: "decimal amount in whole units"},
		},
		Action: func(c *cli.Context) error {
			kp, err := signer(c)
			if err != nil {
				return err
			}
			ledger, err := addressFlag(c, "token")
			if err != nil {
				return err
			}
			to, err := addressFlag(c, "to")
			if err != nil {
				return err
			}
			amount, err := parseAmount(c, ledger, c.String("amount"))
			if err != nil {
				return err
			}
			return submit(c, ledger, token.MethodTransfer, token.TransferArgs{From: kp.Address(), To: to, Amount: amount})
		},
	}
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:  "balance",
		Usage: "show an account balance",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "token", Required: true},
			&cli.StringFlag{Name: "account", Usage: "defaults to the --key address"},
		},
		Action: func(c *cli.Context) error {
			ledger, err := addressFlag(c, "token")
			if err != nil {
				return err
			}
			account, err := accountOrSigner(c, "account")
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(c)
			defer cancel()
			tc, err := token.Dial(client(c).Caller(ctx), ledger)
			if err != nil {
				return err
			}
			meta, err := tc.Metadata()
			if err != nil {
				return err
			}
			bal, err := tc.Balance(account)
			if err != nil {
				return err
			}
			return printJSON(map[string]string{
				"account": account.String(),
				"symbol":  meta.Symbol,
				"balance": bal.FormatUnits(meta.Decimals),
				"raw":     bal.String(),
			})
		},
	}
}

func mintWithCommand() *cli.Command {
	return &cli.Command{
		Name:  "mint-with",
		Usage: "pay reference asset to the exchange and receive freshly minted tokens",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "exchange", Required: true, EnvVars: []string{"LEDGER_EXCHANGE"}},
			&cli.StringFlag{Name: "symbol", Required: true},
			&cli.StringFlag{Name: "amount", Required: true, Usage: "reference asset amount in whole units"},
			&cli.BoolFlag{Name: "approve", Usage: "approve the exchange for the amount first"},
		},
		Action: func(c *cli.Context) error {
			kp, err := signer(c)
			if err != nil {
				return err
			}
			orchestrator, err := addressFlag(c, "exchange")
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(c)
			ex, err := exchange.Dial(client(c).Caller(ctx), orchestrator)
			if err != nil {
				cancel()
				return err
			}
			reference, err := ex.ReferenceAsset()
			cancel()
			if err != nil {
				return err
			}
			amount, err := parseAmount(c, reference, c.String("amount"))
			if err != nil {
				return err
			}

			if c.Bool("approve") {
				if err := submit(c, reference, token.MethodApprove, token.ApproveArgs{
					From: kp.Address(), Spender: orchestrator, Amount: amount,
				}); err != nil {
					return err
				}
			}
			return submit(c, orchestrator, exchange.MethodMintWithReferenceAsset, exchange.MintArgs{
				User:   kp.Address(),
				Symbol: c.String("symbol"),
				Amount: amount,
			})
		},
	}
}

func quoteCommand() *cli.Command {
	return &cli.Command{
		Name:  "quote",
		Usage: "preview how many tokens an amount of reference asset buys",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "exchange", Required: true, EnvVars: []string{"LEDGER_EXCHANGE"}},
			&cli.StringFlag{Name: "symbol", Required: true},
			&cli.StringFlag{Name: "amount", Required: true, Usage: "reference asset amount in whole units"},
		},
		Action: func(c *cli.Context) error {
			orchestrator, err := addressFlag(c, "exchange")
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(c)
			defer cancel()
			ex, err := exchange.Dial(client(c).Caller(ctx), orchestrator)
			if err != nil {
				return err
			}
			reference, err := ex.ReferenceAsset()
			if err != nil {
				return err
			}
			amount, err := parseAmount(c, reference, c.String("amount"))
			if err != nil {
				return err
			}
			q, err := ex.Quote(c.String("symbol"), amount)
			if err != nil {
				return err
			}
			return printJSON(q)
		},
	}
}

func withdrawCommand() *cli.Command {
	return &cli.Command{
		Name:  "withdraw",
		Usage: "move collected reference asset out of the exchange (owner only)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "exchange", Required: true, EnvVars: []string{"LEDGER_EXCHANGE"}},
			&cli.StringFlag{Name: "to", Usage: "defaults to the --key address"},
			&cli.StringFlag{Name: "amount", Required: true, Usage: "reference asset amount in whole units"},
		},
		Action: func(c *cli.Context) error {
			kp, err := signer(c)
			if err != nil {
				return err
			}
			orchestrator, err := addressFlag(c, "exchange")
			if err != nil {
				return err
			}
			to, err := accountOrSigner(c, "to")
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(c)
			ex, err := exchange.Dial(client(c).Caller(ctx), orchestrator)
			if err != nil {
				cancel()
				return err
			}
			reference, err := ex.ReferenceAsset()
			cancel()
			if err != nil {
				return err
			}
			amount, err := parseAmount(c, reference, c.String("amount"))
			if err != nil {
				return err
			}
			return submit(c, orchestrator, exchange.MethodWithdraw, exchange.WithdrawArgs{Caller: kp.Address(), To: to, Amount: amount})
		},
	}
}

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "list stored events by contract or sequence range",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "contract"},
			&cli.StringFlag{Name: "topic"},
			&cli.Uint64Flag{Name: "from"},
			&cli.Uint64Flag{Name: "to", Usage: "defaults to the current sequence"},
		},
		Action: func(c *cli.Context) error {
			p := rpc.EventsParams{Topic: c.String("topic"), From: c.Uint64("from"), To: c.Uint64("to")}
			if c.String("contract") != "" {
				contract, err := addressFlag(c, "contract")
				if err != nil {
					return err
				}
				p.Contract = contract
			}
			ctx, cancel := requestContext(c)
			defer cancel()
			evs, err := client(c).GetEvents(ctx, p)
			if err != nil {
				return err
			}
			return printJSON(evs)
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "stream committed events until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "contract"},
			&cli.StringFlag{Name: "topic"},
			&cli.StringFlag{Name: "event-key", Usage: "event key, e.g. an account address"},
			&cli.Uint64Flag{Name: "from", Usage: "replay stored events from this sequence first"},
		},
		Action: func(c *cli.Context) error {
			req := rpc.StreamRequest{
				Filter: events.Filter{
					Contract: domain.Address(c.String("contract")),
					Topic:    c.String("topic"),
					Key:      c.String("event-key"),
				},
				FromSequence: c.Uint64("from"),
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			stream, err := rpc.Subscribe(ctx, wsEndpoint(c.String("node")), req, nil)
			if err != nil {
				return err
			}
			defer stream.Close()

			enc := json.NewEncoder(os.Stdout)
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-stream.Events():
					if !ok {
						return errors.New("event stream closed")
					}
					if err := enc.Encode(ev); err != nil {
						return err
					}
				}
			}
		},
	}
}

func client(c *cli.Context) *rpc.Client {
	return rpc.NewClient(strings.TrimSuffix(c.String("node"), "/")+"/rpc", rpc.WithTimeout(c.Duration("timeout")))
}

func wsEndpoint(node string) string {
	node = strings.TrimSuffix(node, "/")
	switch {
	case strings.HasPrefix(node, "https://"):
		node = "wss://" + strings.TrimPrefix(node, "https://")
	case strings.HasPrefix(node, "http://"):
		node = "ws://" + strings.TrimPrefix(node, "http://")
	}
	return node + "/ws"
}

func requestContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context, c.Duration("timeout"))
}

func signer(c *cli.Context) (*identity.KeyPair, error) {
	secret := c.String("key")
	if secret == "" {
		return nil, errors.New("--key (or LEDGER_KEY) is required")
	}
	return identity.ParseSecret(secret)
}

func addressFlag(c *cli.Context, name string) (domain.Address, error) {
	addr, err := domain.ParseAddress(c.String(name))
	if err != nil {
		return "", fmt.Errorf("--%s: %w", name, err)
	}
	return addr, nil
}

func accountOrSigner(c *cli.Context, name string) (domain.Address, error) {
	if c.String(name) != "" {
		return addressFlag(c, name)
	}
	kp, err := signer(c)
	if err != nil {
		return "", fmt.Errorf("--%s or --key is required", name)
	}
	return kp.Address(), nil
}

// parseAmount converts a decimal amount into base units of ledger.
func parseAmount(c *cli.Context, ledger domain.Address, amount string) (domain.Int128, error) {
	ctx, cancel := requestContext(c)
	defer cancel()
	meta, err := token.NewClient(client(c).Caller(ctx), ledger).Metadata()
	if err != nil {
		return domain.Int128{}, fmt.Errorf("read token metadata: %w", err)
	}
	return domain.ParseUnits(amount, meta.Decimals)
}

// submit signs a call with --key, sends it and prints the receipt.
func submit(c *cli.Context, contract domain.Address, method string, args any) error {
	kp, err := signer(c)
	if err != nil {
		return err
	}
	tx, err := runtime.NewTransaction(contract, method, args, uint64(time.Now().UnixNano()))
	if err != nil {
		return err
	}
	tx.Sign(kp)

	ctx, cancel := requestContext(c)
	defer cancel()
	receipt, err := client(c).SubmitTransaction(ctx, tx)
	if err != nil {
		return err
	}
	return printJSON(receipt)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
