package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/penguinchat/penguinchat/internal/config"
	"github.com/penguinchat/penguinchat/internal/control"
	"github.com/penguinchat/penguinchat/internal/lock"
	"github.com/penguinchat/penguinchat/internal/profile"
)

var (
	walletFlag = &cli.StringFlag{
		Name:  "wallet",
		Usage: "wallet address (overrides config default)",
	}
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "output in JSON format",
	}
	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "request timeout",
		Value: time.Minute,
	}
)

func main() {
	app := &cli.App{
		Name:  filepath.Base(os.Args[0]),
		Usage: "control a running penguind",
		Flags: []cli.Flag{walletFlag, jsonFlag, timeoutFlag},
		Commands: []*cli.Command{
			statusCommand,
			chatsCommand,
			messagesCommand,
			readCommand,
			sendCommand,
			nameCommand,
			backupCommand,
			recoverCommand,
			syncCommand,
			whoCommand,
			configCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// connect resolves the wallet and returns a client for its daemon along
// with a context bounded by --timeout.
func connect(c *cli.Context) (*control.Client, context.Context, context.CancelFunc, error) {
	wallet, err := profile.Resolve(c.String(walletFlag.Name))
	if err != nil {
		return nil, nil, nil, err
	}
	timeout := c.Duration(timeoutFlag.Name)
	ctx, cancel := context.WithTimeout(c.Context, timeout)
	return control.Dial(profile.SocketPath(wallet), timeout), ctx, cancel, nil
}

// run wraps an action that needs the daemon.
func run(fn func(ctx context.Context, c *cli.Context, client *control.Client) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		client, ctx, cancel, err := connect(c)
		if err != nil {
			return err
		}
		defer cancel()
		return fn(ctx, c, client)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

func requireArgs(c *cli.Context, n int) error {
	if c.NArg() < n {
		return fmt.Errorf("usage: %s %s %s", c.App.Name, c.Command.Name, c.Command.ArgsUsage)
	}
	return nil
}

var whoCommand = &cli.Command{
	Name:  "who",
	Usage: "show which process holds the wallet lock",
	Action: func(c *cli.Context) error {
		wallet, err := profile.Resolve(c.String(walletFlag.Name))
		if err != nil {
			return err
		}
		h, err := lock.Inspect(profile.Dir(wallet))
		if os.IsNotExist(err) {
			fmt.Println("no daemon has run for this wallet")
			return nil
		}
		if err != nil {
			return err
		}
		if c.Bool(jsonFlag.Name) {
			return printJSON(h)
		}
		fmt.Printf("wallet %s: pid %d since %s\n", h.Wallet, h.PID, h.Started.Format(time.RFC3339))
		return nil
	},
}

var configCommand = &cli.Command{
	Name:  "config",
	Usage: "manage ~/.penguinchat/config.toml",
	Subcommands: []*cli.Command{
		{
			Name:  "show",
			Usage: "print the effective configuration",
			Action: func(c *cli.Context) error {
				cfg, err := config.Resolve(profile.ConfigPath())
				if err != nil {
					return err
				}
				return printJSON(cfg)
			},
		},
		{
			Name:      "set-wallet",
			Usage:     "set the default wallet",
			ArgsUsage: "<address>",
			Action: func(c *cli.Context) error {
				if err := requireArgs(c, 1); err != nil {
					return err
				}
				addr := c.Args().First()
				if err := profile.ValidateAddress(addr); err != nil {
					return err
				}
				path := profile.ConfigPath()
				cfg, err := config.Load(path)
				if os.IsNotExist(err) {
					cfg, err = config.Default(), nil
				}
				if err != nil {
					return err
				}
				cfg.DefaultWallet = addr
				if err := config.Save(path, cfg); err != nil {
					return err
				}
				fmt.Printf("default wallet set to %s\n", addr)
				return nil
			},
		},
	},
}
