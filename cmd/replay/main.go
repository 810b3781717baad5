package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:    "replay",
		Usage:   "short posts with paid replies",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Usage:   "Replay server URL (client commands)",
				EnvVars: []string{"REPLAY_URL"},
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "client config file",
				Value:   defaultConfigPath(),
				EnvVars: []string{"REPLAY_CONFIG"},
			},
		},
		// With no command the binary runs the server, like a container entrypoint.
		Action: runServer,
		Commands: []*cli.Command{
			{
				Name:    "serve",
				Aliases: []string{"server"},
				Usage:   "start the Replay server (configured through REPLAY_* variables)",
				Action:  runServer,
			},
			{
				Name:  "init",
				Usage: "create or import a wallet and remember the server URL",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key", Usage: "hex private key to import", EnvVars: []string{"REPLAY_PRIVATE_KEY"}},
					&cli.BoolFlag{Name: "force", Usage: "replace an existing wallet"},
				},
				Action: cmdInit,
			},
			{
				Name:  "reconcile",
				Usage: "list settled payments whose reply was never stored",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "resolve", Usage: "mark a transaction as handled"},
				},
				Action: cmdReconcile,
			},
			{
				Name:    "login",
				Aliases: []string{"auth"},
				Usage:   "sign a challenge and store a bearer token",
				Action:  cmdLogin,
			},
			{
				Name:    "status",
				Aliases: []string{"whoami"},
				Usage:   "show wallet, token and server health",
				Action:  cmdStatus,
			},
			{
				Name:    "read",
				Aliases: []string{"list"},
				Usage:   "list posts, or show one post with its replies",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "post", Usage: "post ID to show"},
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "posts to list"},
				},
				Action: cmdRead,
			},
			{
				Name:  "post",
				Usage: "publish a post (free)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "text", Required: true, Usage: "post content, up to 280 characters"},
				},
				Action: cmdPost,
			},
			{
				Name:  "reply",
				Usage: "reply to a post, paying the price the server asks",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "post", Required: true, Usage: "post ID"},
					&cli.StringFlag{Name: "text", Required: true, Usage: "reply content, up to 280 characters"},
					&cli.StringFlag{Name: "max-spend", Usage: "refuse to pay more than this many atomic units"},
				},
				Action: cmdReply,
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
