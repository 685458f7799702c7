package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/penguinchat/penguinchat/internal/api"
	"github.com/penguinchat/penguinchat/internal/chat"
	"github.com/penguinchat/penguinchat/internal/control"
)

var statusCommand = &cli.Command{
	Name:  "status",
	Usage: "show daemon status",
	Action: run(func(ctx context.Context, c *cli.Context, client *control.Client) error {
		st, err := client.Status(ctx)
		if err != nil {
			return err
		}
		if c.Bool(jsonFlag.Name) {
			return printJSON(st)
		}
		fmt.Printf("Wallet:    %s\n", st.Wallet)
		fmt.Printf("Relay:     %s (since %s)\n", st.Link, st.LinkSince.Format(time.RFC3339))
		fmt.Printf("Uptime:    %s\n", (time.Duration(st.UptimeMs) * time.Millisecond).Round(time.Second))
		fmt.Printf("Chats:     %d\n", st.ChatCount)
		fmt.Printf("Messages:  %d\n", st.MessageCount)
		if st.LastBackup != nil {
			fmt.Printf("Backup:    %s\n", st.LastBackup.Format(time.RFC3339))
		} else {
			fmt.Println("Backup:    never")
		}
		if st.BackupInFlight {
			fmt.Println("           (backup running)")
		}
		return nil
	}),
}

var chatsCommand = &cli.Command{
	Name:  "chats",
	Usage: "list conversations, newest first",
	Action: run(func(ctx context.Context, c *cli.Context, client *control.Client) error {
		chats, err := client.Chats(ctx)
		if err != nil {
			return err
		}
		if c.Bool(jsonFlag.Name) {
			return printJSON(chats)
		}
		w := newTable()
		fmt.Fprintln(w, "CHAT\tNAME\tUNREAD\tLAST")
		for _, s := range chats {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, s.Name, s.UnreadCount, s.LastMessage)
		}
		return w.Flush()
	}),
}

var messagesCommand = &cli.Command{
	Name:      "messages",
	Usage:     "show the messages of a chat",
	ArgsUsage: "<chatId>",
	Action: run(func(ctx context.Context, c *cli.Context, client *control.Client) error {
		if err := requireArgs(c, 1); err != nil {
			return err
		}
		msgs, err := client.Messages(ctx, c.Args().First())
		if err != nil {
			return err
		}
		if c.Bool(jsonFlag.Name) {
			return printJSON(msgs)
		}
		for _, m := range msgs {
			who := m.Sender.Name
			if m.IsSent {
				who = "me"
			}
			line := fmt.Sprintf("[%s] %s: %s", m.Timestamp.Format("2006-01-02 15:04"), who, m.Text)
			if m.IsSent && m.Status != "" {
				line += " (" + string(m.Status) + ")"
			}
			fmt.Println(line)
		}
		return nil
	}),
}

var readCommand = &cli.Command{
	Name:      "read",
	Usage:     "mark a chat read",
	ArgsUsage: "<chatId>",
	Action: run(func(ctx context.Context, c *cli.Context, client *control.Client) error {
		if err := requireArgs(c, 1); err != nil {
			return err
		}
		return client.MarkRead(ctx, c.Args().First())
	}),
}

var sendCommand = &cli.Command{
	Name:      "send",
	Usage:     "send a message to a wallet",
	ArgsUsage: "<peer|chatId> <text>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "gift-amount", Usage: "attach a gift of this amount"},
		&cli.StringFlag{Name: "gift-asset", Usage: "gift asset symbol", Value: "SUI"},
		&cli.StringFlag{Name: "gift-tx", Usage: "digest of the gift transaction"},
	},
	Action: run(func(ctx context.Context, c *cli.Context, client *control.Client) error {
		if err := requireArgs(c, 2); err != nil {
			return err
		}
		target, text := c.Args().Get(0), c.Args().Get(1)
		req := api.SendRequest{Text: text}
		if _, err := chat.ParseChatID(target); err == nil {
			req.ChatID = target
		} else {
			req.Peer = target
		}
		if amount := c.String("gift-amount"); amount != "" {
			req.GiftData = &chat.GiftData{
				Amount:            amount,
				Asset:             c.String("gift-asset"),
				TransactionDigest: c.String("gift-tx"),
				Recipient:         req.Peer,
			}
		}
		m, err := client.Send(ctx, req)
		if err != nil {
			return err
		}
		if c.Bool(jsonFlag.Name) {
			return printJSON(m)
		}
		fmt.Printf("%s %s\n", m.ID, m.Status)
		return nil
	}),
}

var nameCommand = &cli.Command{
	Name:      "name",
	Usage:     "set the local display name of an address (empty name clears it)",
	ArgsUsage: "<address> [name]",
	Action: run(func(ctx context.Context, c *cli.Context, client *control.Client) error {
		if err := requireArgs(c, 1); err != nil {
			return err
		}
		return client.SetName(ctx, c.Args().Get(0), c.Args().Get(1))
	}),
}

var backupCommand = &cli.Command{
	Name:  "backup",
	Usage: "back up the message log to the blob store",
	Action: run(func(ctx context.Context, c *cli.Context, client *control.Client) error {
		out, err := client.Backup(ctx)
		if err != nil {
			return err
		}
		if c.Bool(jsonFlag.Name) {
			return printJSON(out)
		}
		if out.Skipped {
			fmt.Println("a backup is already running")
			return nil
		}
		fmt.Printf("backed up %d messages as blob %s\n", out.MessageCount, out.BlobID)
		return nil
	}),
	Subcommands: []*cli.Command{
		{
			Name:  "settings",
			Usage: "show or change the automatic backup schedule",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "every", Usage: "backup interval in minutes"},
				&cli.BoolFlag{Name: "auto", Usage: "enable automatic backups"},
			},
			Action: run(func(ctx context.Context, c *cli.Context, client *control.Client) error {
				var (
					settings chat.BackupSettings
					err      error
				)
				if c.IsSet("every") || c.IsSet("auto") {
					var req api.SettingsRequest
					if c.IsSet("every") {
						n := c.Int("every")
						if n <= 0 {
							return errors.New("--every must be positive")
						}
						req.FrequencyMinutes = &n
					}
					if c.IsSet("auto") {
						v := c.Bool("auto")
						req.AutoBackup = &v
					}
					settings, err = client.UpdateBackupSettings(ctx, req)
				} else {
					settings, err = client.BackupSettings(ctx)
				}
				if err != nil {
					return err
				}
				if c.Bool(jsonFlag.Name) {
					return printJSON(settings)
				}
				fmt.Printf("every %d min, auto %t\n", settings.FrequencyMinutes, settings.AutoBackup)
				return nil
			}),
		},
	},
}

var recoverCommand = &cli.Command{
	Name:  "recover",
	Usage: "restore messages from the wallet's backups",
	Action: run(func(ctx context.Context, c *cli.Context, client *control.Client) error {
		rep, err := client.Recover(ctx)
		if err != nil {
			return err
		}
		if c.Bool(jsonFlag.Name) {
			return printJSON(rep)
		}
		fmt.Printf("%d objects, %d backups, %d messages recovered, %d new (%d skipped)\n",
			rep.Scan.Objects, rep.Scan.Valid, rep.Recovered, rep.Stored, rep.Skipped)
		return nil
	}),
}

var syncCommand = &cli.Command{
	Name:  "sync",
	Usage: "fetch messages queued at the relay over HTTP",
	Action: run(func(ctx context.Context, c *cli.Context, client *control.Client) error {
		n, err := client.Sync(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d new messages\n", n)
		return nil
	}),
}
