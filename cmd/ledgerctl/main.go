// Package main is the operator CLI for a ledger node: keys, signed
// transactions, contract reads and event streaming.
package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"ambar-ledger/internal/oracle"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ledgerctl",
		Usage: "operate an ambar ledger node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "node", Value: "http://localhost:8545", Usage: "node base URL", EnvVars: []string{"LEDGER_NODE"}},
			&cli.StringFlag{Name: "key", Usage: "base58 secret key used to sign", EnvVars: []string{"LEDGER_KEY"}},
			&cli.DurationFlag{Name: "timeout", Value: defaultTimeout, Usage: "request timeout", EnvVars: []string{"LEDGER_TIMEOUT"}},
		},
		Commands: []*cli.Command{
			keygenCommand(),
			addressCommand(),
			submitCommand(),
			queryCommand(),
			setPriceCommand(),
			updaterCommand("authorize-updater", "allow an account to publish prices", oracle.MethodAuthorizeUpdater),
			updaterCommand("revoke-updater", "stop an account from publishing prices", oracle.MethodRevokeUpdater),
			priceCommand(),
			approveCommand(),
			transferCommand(),
			balanceCommand(),
			mintWithCommand(),
			quoteCommand(),
			withdrawCommand(),
			eventsCommand(),
			watchCommand(),
		},
	}
}
