package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"tcpframe/internal/config"
	"tcpframe/internal/journal"
	"tcpframe/internal/server"
	boltstore "tcpframe/internal/store/bolt"
)

const journalFile = "journal.db"

func serveCmd(c *cli.Context) error {
	cfg, err := loadConfig(c, func(cfg *config.Config) {
		if v := c.String("listen"); v != "" {
			cfg.Server.Listen = v
		}
		if v := c.String("mode"); v != "" {
			cfg.Server.Mode = v
		}
		if v := c.String("data-dir"); v != "" {
			cfg.Journal.DataDir = v
		}
		if c.Bool("no-journal") {
			cfg.Journal.Enabled = false
		}
	})
	if err != nil {
		return err
	}

	handler, err := handlerFor(cfg.Server.Mode)
	if err != nil {
		return err
	}

	var j *journal.Journal
	if cfg.Journal.Enabled {
		st, err := openStore(cfg.Journal.DataDir)
		if err != nil {
			return err
		}
		defer st.Close()
		j = journal.Open(st, cfg.Journal.Retain)
		if n, err := j.Prune(); err != nil {
			clog.Warn("pruning journal", "err", err)
		} else if n > 0 {
			clog.Info("pruned journal", "removed", n)
		}
	}

	srv := server.New(cfg.Server, cfg.Channel.Options(), handler, j)
	if err := srv.Listen(); err != nil {
		return err
	}
	clog.Info("listening", "addr", srv.Addr(), "mode", cfg.Server.Mode,
		"max_conns", cfg.Server.MaxConns, "journal", cfg.Journal.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx); err != nil {
		return err
	}
	clog.Info("shut down")
	return nil
}

func openStore(dataDir string) (*boltstore.Store, error) {
	dir := config.ExpandHome(dataDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	st, err := boltstore.Open(filepath.Join(dir, journalFile))
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return st, nil
}
