package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/penguinchat/penguinchat/internal/daemon"
	"github.com/penguinchat/penguinchat/internal/profile"
)

func main() {
	walletFlag := flag.String("wallet", "", "wallet address (overrides config default)")
	flag.Parse()

	wallet, err := profile.Resolve(*walletFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.ClientModule(daemon.Params{Wallet: wallet}),
	)

	app.Run()
}
