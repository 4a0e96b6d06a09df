// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// blocktopus-server runs the fabric Sequencer: the single authority
// for the total publish/subscribe order that every connected client
// observes identically. One process serves one simulation run; restart
// it between runs rather than trying to reset it in place.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ggould-tri/blocktopus/fabriccritic"
	"github.com/ggould-tri/blocktopus/fabricserver"
	"github.com/ggould-tri/blocktopus/lib/config"
	"github.com/ggould-tri/blocktopus/lib/process"
	"github.com/ggould-tri/blocktopus/lib/version"
	"github.com/ggould-tri/blocktopus/transport"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	var listenOverride string
	var logLevel string
	var debugJournal string

	flagSet := pflag.NewFlagSet("blocktopus-server", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to fabric.yaml config file (overrides FABRIC_CONFIG)")
	flagSet.StringVar(&listenOverride, "listen", "", "override the config file's server.listen address")
	flagSet.StringVar(&logLevel, "log-level", "", "override the config file's logging.level")
	flagSet.StringVar(&debugJournal, "debug-journal", "", "override the config file's server.debug_journal path")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("blocktopus-server %s\n", version.Info())
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listenOverride != "" {
		cfg.Server.Listen = listenOverride
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if debugJournal != "" {
		cfg.Server.DebugJournal = debugJournal
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.Logging)

	var journal *fabriccritic.Journal
	if cfg.Server.DebugJournal != "" {
		f, err := os.Create(cfg.Server.DebugJournal)
		if err != nil {
			return fmt.Errorf("opening debug journal: %w", err)
		}
		defer f.Close()
		journal = fabriccritic.NewJournal(f)
		logger.Info("debug journal enabled", "path", cfg.Server.DebugJournal)
	}

	listener, err := transport.NewTCPListener(cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Listen, err)
	}
	defer listener.Close()

	logger.Info("blocktopus-server starting",
		"version", version.Short(),
		"listen", cfg.Server.Listen,
		"environment", cfg.Environment,
	)

	sequencer := fabricserver.NewSequencer(listener, logger)
	if journal != nil {
		sequencer.SetEventJournal(journal)
	}
	if err := sequencer.SetChannelConfig(cfg); err != nil {
		return fmt.Errorf("configuring channel codecs: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = sequencer.Run(ctx)
	if ctx.Err() != nil {
		logger.Info("blocktopus-server shutting down")
		return nil
	}
	return err
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `blocktopus-server — the fabric sequencer, the single authority for
publish/subscribe total order across every connected client.

Configuration is loaded from the file named by --config, or by the
FABRIC_CONFIG environment variable if --config is not given. There is
no other source of configuration.

Usage:
  blocktopus-server --config fabric.yaml
  blocktopus-server --listen :7891 --log-level debug

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
