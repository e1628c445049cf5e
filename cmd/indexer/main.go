// Kline Indexer — a Solana on-chain event log indexer and realtime-fanout
// service for a leveraged-trading program.
//
// Architecture:
//
//	main.go                 — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	internal/engine         — orchestrator: wires subscriber → pipeline → fanout/query
//	internal/subscriber     — logsSubscribe WebSocket client with CPI re-fetch and reconnect
//	internal/decoder        — binary event decoding
//	internal/storage        — embedded ordered KV store: primary log, indexes, candles, aggregates
//	internal/metadata       — async token-URI resolution
//	internal/fanout         — Socket.IO push protocol, namespace /kline
//	internal/query          — HTTP JSON read endpoints
//	internal/pipeline       — composite handler: storage write → candle read-back → broadcast
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spinpet/kline-indexer/internal/config"
	"github.com/spinpet/kline-indexer/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("INDEXER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}))

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("kline indexer started",
		"database", cfg.Database.Path,
		"event_listener", cfg.Solana.EnableEventListener,
		"kline_service", cfg.Kline.EnableKlineService,
		"query_addr", cfg.Server.Host,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
