// Command streamer connects to a trading platform, subscribes to a symbol,
// and prints aggregated candles as JSON lines until interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/optionwire/optionwire/internal/candle"
	"github.com/optionwire/optionwire/internal/config"
	"github.com/optionwire/optionwire/internal/platform/pocket"
	"github.com/optionwire/optionwire/internal/runtime"
	"github.com/optionwire/optionwire/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/streamer.local.yaml", "path to config file")
	symbol := flag.String("symbol", pocket.DefaultSymbol, "symbol to stream")
	window := flag.Duration("window", time.Minute, "candle window (0 = raw ticks)")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting streamer",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if cfg.Platform != "pocket" {
		logger.Error("unsupported platform for streaming", "platform", cfg.Platform)
		os.Exit(1)
	}

	cred, err := pocket.ParseCred(cfg.Session)
	if err != nil {
		logger.Error("failed to parse session credential", "error", err)
		os.Exit(1)
	}

	logger.Info("credential parsed", "demo", cred.Demo, "uid", cred.UID)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	client := pocket.NewClient(cred, pocket.Options{
		Endpoints:  cfg.Endpoints,
		PinnedURL:  cfg.PinnedURL,
		ArmTimeout: cfg.Rules.ArmTimeout,
		Runtime: runtime.Options{
			InboxSize:       cfg.Runtime.InboxSize,
			OutboxSize:      cfg.Runtime.OutboxSize,
			ReconnectMin:    cfg.Reconnect.MinDelay,
			ReconnectMax:    cfg.Reconnect.MaxDelay,
			ReconnectFactor: cfg.Reconnect.Factor,
		},
		StreamBuffer: cfg.Subscription.StreamBuffer,
		Logger:       logger,
	})

	runDone := make(chan error, 1)
	go func() {
		runDone <- client.Run(ctx)
	}()

	// Wait for the first connection before subscribing.
	if err := client.Runtime().Signals().WaitConnected(ctx); err != nil {
		logger.Error("never connected", "error", err)
		os.Exit(1)
	}

	spec := candle.Direct()
	if *window > 0 {
		spec = candle.Window(*window)
	}

	stream, err := client.Subscribe(ctx, *symbol, spec)
	if err != nil {
		logger.Error("subscribe failed", "symbol", *symbol, "error", err)
		cancel()
		os.Exit(1)
	}
	defer stream.Close()

	logger.Info("streaming", "symbol", *symbol, "window", *window)

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case c, ok := <-stream.Candles():
			if !ok {
				logger.Info("stream closed")
				return
			}
			if err := enc.Encode(c); err != nil {
				logger.Error("failed to encode candle", "error", err)
			}
		case err := <-runDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("runtime stopped", "error", err)
				os.Exit(1)
			}
			logger.Info("runtime stopped")
			return
		}
	}
}
