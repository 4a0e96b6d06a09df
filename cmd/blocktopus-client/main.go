// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// blocktopus-client is a minimal fabric client for manual testing and
// scripting against a running blocktopus-server: either publish a
// single payload on a channel, or subscribe and print deliveries as
// they arrive until interrupted.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ggould-tri/blocktopus/fabric"
	"github.com/ggould-tri/blocktopus/fabricclient"
	"github.com/ggould-tri/blocktopus/lib/config"
	"github.com/ggould-tri/blocktopus/lib/process"
	"github.com/ggould-tri/blocktopus/lib/version"
	"github.com/ggould-tri/blocktopus/transport"
	"github.com/ggould-tri/blocktopus/wire"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var server string
	var channel string
	var mode string
	var payload string
	var logLevel string
	var configPath string

	flagSet := pflag.NewFlagSet("blocktopus-client", pflag.ContinueOnError)
	flagSet.StringVar(&server, "server", "localhost:7891", "address of a running blocktopus-server")
	flagSet.StringVar(&channel, "channel", "", "channel name to publish on or subscribe to (required)")
	flagSet.StringVar(&mode, "mode", "subscribe", "publish or subscribe")
	flagSet.StringVar(&payload, "payload", "", "payload to send in publish mode (required for --mode publish)")
	flagSet.StringVar(&logLevel, "log-level", "warn", "debug, info, warn, or error")
	flagSet.StringVar(&configPath, "config", "", "path to fabric.yaml config file (overrides FABRIC_CONFIG); supplies per-channel compression policy if set")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("blocktopus-client %s\n", version.Info())
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

	if channel == "" {
		return fmt.Errorf("--channel is required")
	}
	if mode != "publish" && mode != "subscribe" {
		return fmt.Errorf("--mode must be publish or subscribe, got %q", mode)
	}
	if mode == "publish" && payload == "" {
		return fmt.Errorf("--payload is required with --mode publish")
	}

	logger := newLogger(logLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dialer := &transport.TCPDialer{}
	client, err := fabricclient.Dial(ctx, dialer, server, logger)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", server, err)
	}
	defer client.Close()

	if _, err := client.Start(ctx); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	cfg, err := loadOptionalConfig(configPath)
	if err != nil {
		return err
	}
	if cfg != nil {
		chCfg := cfg.ChannelConfigFor(channel)
		if chCfg.CompressPayloadAbove > 0 {
			codec, err := wire.NewPayloadCodec(chCfg.CompressPayloadAbove)
			if err != nil {
				return fmt.Errorf("building payload codec for channel %q: %w", channel, err)
			}
			client.SetChannelCodec(channel, codec)
		}
	}

	if mode == "publish" {
		return runPublish(client, channel, payload)
	}
	return runSubscribe(ctx, client, channel, os.Stdout)
}

// runPublish sends a single message on channel at the client's current
// frontier and then clears to advance past it. It does not wait for a
// grant or any acknowledgment before returning.
func runPublish(client *fabricclient.Client, channel string, payload string) error {
	publishSeq := client.MinimumSendSequence()
	receiveSeq := publishSeq + 1
	if err := client.Publish(channel, publishSeq, receiveSeq, []byte(payload)); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if err := client.ClearToAdvance(publishSeq + 1); err != nil {
		return fmt.Errorf("clear to advance: %w", err)
	}
	fmt.Printf("published %q on %q at seq %v\n", payload, channel, publishSeq)
	return nil
}

// runSubscribe subscribes wildcard-free to channel from the client's
// current frontier and prints every delivery until ctx is cancelled.
func runSubscribe(ctx context.Context, client *fabricclient.Client, channel string, out *os.File) error {
	if _, err := client.Subscribe(ctx, fabric.OnChannel(channel), fabric.FirstSeqNum); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	writer := bufio.NewWriter(out)
	defer writer.Flush()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := client.AwaitAdvance(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("await advance: %w", err)
		}
		messages, _, err := client.ReceiveMessages()
		if err != nil {
			return fmt.Errorf("receive messages: %w", err)
		}
		for _, m := range messages {
			fmt.Fprintf(writer, "[%v] %s <- client %d: %s\n", m.ReceiveSeq, m.Channel, m.Publisher, m.Payload)
		}
		writer.Flush()
	}
}

// loadOptionalConfig loads a fabric.yaml from configPath, or from
// FABRIC_CONFIG if configPath is empty and the variable is set. Unlike
// blocktopus-server, config is optional here: this binary is meant for
// quick manual testing against a server, so a missing config source is
// not an error — it just means no channel runs a payload codec.
func loadOptionalConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	if os.Getenv("FABRIC_CONFIG") == "" {
		return nil, nil
	}
	return config.Load()
}

func newLogger(level string) *slog.Logger {
	l := slog.LevelWarn
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "error":
		l = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `blocktopus-client — manual publish/subscribe against a running
blocktopus-server, for testing and scripting.

Usage:
  blocktopus-client --server localhost:7891 --channel telemetry --mode subscribe
  blocktopus-client --server localhost:7891 --channel telemetry --mode publish --payload "hello"

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
