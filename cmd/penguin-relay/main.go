package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/penguinchat/penguinchat/internal/config"
	"github.com/penguinchat/penguinchat/internal/daemon"
	"github.com/penguinchat/penguinchat/internal/profile"
)

func main() {
	configFlag := flag.String("config", profile.ConfigPath(), "config file")
	listenFlag := flag.String("listen", "", "listen address (overrides config)")
	logFlag := flag.String("log", "", "also write JSON logs to this file")
	flag.Parse()

	cfg, err := config.Resolve(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *listenFlag != "" {
		cfg.Relay.Listen = *listenFlag
	}

	app := fx.New(
		daemon.RelayModule(daemon.RelayParams{Config: cfg, LogPath: *logFlag}),
	)

	app.Run()
}
