package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"tcpframe/internal/config"
	"tcpframe/internal/logging"
)

var clog = logging.For("cli")

func main() {
	app := cli.NewApp()
	app.Name = "tcpframe"
	app.Usage = "Send and serve length-delimited messages over TCP."
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to config file (default ~/.tcpframe/config.toml)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error (overrides config)",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "auto, text or json (overrides config)",
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:   "serve",
			Usage:  "Accept connections and answer them in the configured mode",
			Action: serveCmd,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "listen",
					Aliases: []string{"l"},
					Usage:   "listen address (overrides config)",
				},
				&cli.StringFlag{
					Name:    "mode",
					Aliases: []string{"m"},
					Usage:   "echo, ack or text (overrides config)",
				},
				&cli.StringFlag{
					Name:    "data-dir",
					Aliases: []string{"d"},
					Usage:   "journal directory (overrides config)",
				},
				&cli.BoolFlag{
					Name:  "no-journal",
					Usage: "do not record connections",
				},
			},
		},
		{
			Name:      "send",
			Usage:     "Send one message and print the reply",
			ArgsUsage: "[text...]",
			Action:    sendCmd,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "addr",
					Aliases: []string{"a"},
					Value:   "127.0.0.1:7400",
					Usage:   "server address",
				},
				&cli.StringFlag{
					Name:    "file",
					Aliases: []string{"f"},
					Usage:   "send the contents of this file instead of text",
				},
				&cli.BoolFlag{
					Name:  "ack",
					Usage: "expect an ACK instead of an echo",
				},
				&cli.DurationFlag{
					Name:  "dial-timeout",
					Value: 5 * time.Second,
					Usage: "how long to wait for the connection",
				},
			},
		},
		{
			Name:   "journal",
			Usage:  "List recently served connections",
			Action: journalCmd,
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:    "limit",
					Aliases: []string{"n"},
					Value:   20,
					Usage:   "number of records to show, 0 for all",
				},
				&cli.StringFlag{
					Name:    "data-dir",
					Aliases: []string{"d"},
					Usage:   "journal directory (overrides config)",
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "tcpframe:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, applies the global flags and any
// command-specific overrides, validates the result and initializes logging.
func loadConfig(c *cli.Context, override func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if v := c.String("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if v := c.String("log-format"); v != "" {
		cfg.Logging.Format = v
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config:\n%w", err)
	}
	logging.Init(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}
