// Package engine is the central orchestrator of the indexer.
//
// It wires together all subsystems:
//
//  1. subscriber.Client watches the configured program's logs over WebSocket.
//  2. Every decoded event is handed to pipeline.Handler, which writes storage
//     and broadcasts candle updates.
//  3. metadata.Fetcher resolves Created events' token URIs asynchronously.
//  4. fanout.Server serves the Socket.IO push protocol.
//  5. query.Server serves the HTTP read endpoints.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/spinpet/kline-indexer/internal/config"
	"github.com/spinpet/kline-indexer/internal/fanout"
	"github.com/spinpet/kline-indexer/internal/metadata"
	"github.com/spinpet/kline-indexer/internal/pipeline"
	"github.com/spinpet/kline-indexer/internal/query"
	"github.com/spinpet/kline-indexer/internal/storage"
	"github.com/spinpet/kline-indexer/internal/subscriber"
	"github.com/spinpet/kline-indexer/pkg/types"
)

// Engine owns the lifecycle of every background goroutine.
type Engine struct {
	cfg    config.Config
	store  *storage.Store
	sub    *subscriber.Client
	meta   *metadata.Fetcher
	fan    *fanout.Server
	query  *query.Server
	pipe   *pipeline.Handler
	logger *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopFan  chan struct{}
	wg       sync.WaitGroup
}

// New opens storage and wires every subsystem. It does not start anything.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	store, err := storage.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	var fan *fanout.Server
	if cfg.Kline.EnableKlineService {
		fan = fanout.New(store, fanout.Config{
			MaxSubscriptionsPerClient: cfg.Kline.MaxSubscriptionsPerClient,
			HistoryDataLimit:          cfg.Kline.HistoryDataLimit,
			ConnectionTimeout:         cfg.Kline.ConnectionTimeoutSecs,
			PingInterval:              cfg.Kline.PingIntervalSecs,
			PingTimeout:               cfg.Kline.PingTimeoutSecs,
		}, logger)
	}

	var bcast pipeline.Broadcaster
	if fan != nil {
		bcast = fan
	}
	pipe := pipeline.New(store, bcast, logger)

	sub := subscriber.New(subscriber.Config{
		RPCURL:                    cfg.Solana.RPCURL,
		WSURL:                     cfg.Solana.WSURL,
		ProgramID:                 cfg.Solana.ProgramID,
		Commitment:                cfg.Solana.Commitment,
		ReconnectInterval:         cfg.Solana.ReconnectInterval,
		MaxReconnectAttempts:      cfg.Solana.MaxReconnectAttempts,
		PingIntervalSeconds:       cfg.Solana.PingIntervalSeconds,
		ProcessFailedTransactions: cfg.Solana.ProcessFailedTransactions,
	}, logger)

	meta := metadata.New(metadata.Config{
		GatewayURL:     cfg.IPFS.GatewayURL,
		RequestTimeout: cfg.IPFS.RequestTimeoutSeconds,
		MaxRetries:     cfg.IPFS.MaxRetries,
		RetryDelay:     cfg.IPFS.RetryDelaySeconds,
	}, store, logger)

	querySrv := query.NewServer(cfg.Server.Host, cfg.Server.Port, store, cfg.CORS.Enabled, cfg.CORS.AllowOrigins, logger)

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:     cfg,
		store:   store,
		sub:     sub,
		meta:    meta,
		fan:     fan,
		query:   querySrv,
		pipe:    pipe,
		logger:  logger.With("component", "engine"),
		ctx:     ctx,
		cancel:  cancel,
		stopFan: make(chan struct{}),
	}, nil
}

// Start launches the subscription client, the event-consumption loop, the
// push-fanout server (if enabled), and the query HTTP server.
func (e *Engine) Start() error {
	if e.cfg.Solana.EnableEventListener {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.sub.Run(e.ctx); err != nil && e.ctx.Err() == nil {
				e.logger.Error("subscription client error", "error", err)
			}
		}()

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.consumeEvents()
		}()
	}

	if e.fan != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.fan.ServeBackground(e.stopFan)
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.query.Start(); err != nil {
			e.logger.Error("query server error", "error", err)
		}
	}()

	return nil
}

// Stop cancels the subscription context, stops the fanout and query servers,
// waits for goroutines, and closes storage.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()
	e.sub.Stop()
	if e.fan != nil {
		close(e.stopFan)
	}
	if err := e.query.Stop(); err != nil {
		e.logger.Error("failed to stop query server", "error", err)
	}

	e.wg.Wait()
	e.store.Close()

	e.logger.Info("shutdown complete")
}

// consumeEvents drains decoded events from the subscription client and runs
// them through the pipeline, triggering a metadata fetch for new mints.
func (e *Engine) consumeEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-e.sub.Events():
			if !ok {
				return
			}
			e.handleEvent(ev)
		}
	}
}

func (e *Engine) handleEvent(ev *types.Event) {
	if err := e.pipe.Handle(ev); err != nil {
		// Logged by the pipeline. The signature stays in the subscription
		// client's processed set regardless: at-most-once delivery within a
		// connection lifetime, not a retry queue.
		return
	}
	if ev.Type == types.EventCreated && ev.Created != nil {
		e.meta.FetchAsync(e.ctx, ev.MintAccount, ev.Created.URI)
	}
}
