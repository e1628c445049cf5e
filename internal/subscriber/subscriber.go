// Package subscriber maintains the upstream logsSubscribe WebSocket
// connection and turns raw log notifications into decoded events.
//
// One connection is held open at a time. It auto-reconnects with
// exponential backoff and jitter, re-issues the subscription on every
// reconnect, and detects a dead socket via consecutive ping write failures
// or a read that stays idle past the read deadline. Log
// notifications that mention a cross-program invocation are re-fetched in
// full over RPC so that inner-instruction events aren't missed.
package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/spinpet/kline-indexer/internal/decoder"
	"github.com/spinpet/kline-indexer/pkg/types"
)

const (
	writeTimeout    = 10 * time.Second
	readIdleTimeout = 90 * time.Second
	maxPingFailures = 3
	broadcastBuffer = 1000
)

// ConnectionState mirrors the upstream listener's state machine.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

// Config holds the subset of solana.* settings the subscriber needs.
type Config struct {
	RPCURL                    string
	WSURL                     string
	ProgramID                 string
	Commitment                string
	ReconnectInterval         time.Duration
	MaxReconnectAttempts      uint32
	PingIntervalSeconds       uint64
	ProcessFailedTransactions bool
}

// Client owns the WebSocket connection and emits decoded events on a
// broadcast-style buffered channel. Lagging consumers see events dropped
// with a logged warning rather than blocking the read loop.
type Client struct {
	cfg    Config
	http   *resty.Client
	logger *slog.Logger

	eventsCh chan *types.Event

	stateMu sync.RWMutex
	state   ConnectionState

	attemptsMu sync.Mutex
	attempts   uint32

	processedMu sync.Mutex
	processed   map[string]struct{}

	connMu sync.Mutex
	conn   *websocket.Conn

	stop chan struct{}
}

// New builds a subscriber client. The RPC client is configured with a fixed
// timeout; each CPI re-fetch is a single request, with no retries.
func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		cfg:       cfg,
		http:      resty.New().SetBaseURL(cfg.RPCURL).SetTimeout(10 * time.Second),
		logger:    logger.With("component", "subscriber"),
		eventsCh:  make(chan *types.Event, broadcastBuffer),
		state:     StateDisconnected,
		processed: make(map[string]struct{}),
		stop:      make(chan struct{}),
	}
}

// Events returns the channel decoded events are published on.
func (c *Client) Events() <-chan *types.Event { return c.eventsCh }

// State reports the current connection state.
func (c *Client) State() ConnectionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Client) setState(s ConnectionState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// Run connects and maintains the connection until ctx is cancelled,
// reconnecting with exponential backoff and jitter on failure.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return ctx.Err()
		case <-c.stop:
			c.setState(StateDisconnected)
			return nil
		default:
		}

		c.setState(StateConnecting)
		err := c.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.attemptsMu.Lock()
		c.attempts++
		attempts := c.attempts
		c.attemptsMu.Unlock()

		if c.cfg.MaxReconnectAttempts > 0 && attempts > c.cfg.MaxReconnectAttempts {
			c.logger.Error("max reconnect attempts exceeded", "attempts", attempts)
			c.setState(StateDisconnected)
			return fmt.Errorf("subscriber: max reconnect attempts (%d) exceeded", c.cfg.MaxReconnectAttempts)
		}

		c.setState(StateReconnecting)
		delay := backoffDelay(c.cfg.ReconnectInterval, attempts)
		c.logger.Warn("websocket disconnected, reconnecting", "error", err, "attempt", attempts, "delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			return nil
		case <-time.After(delay):
		}
	}
}

// Stop signals Run to exit at the next opportunity.
func (c *Client) Stop() {
	close(c.stop)
}

// backoffDelay computes base_delay * 2^(attempts-1), capped at 60s, plus up
// to 2s of jitter.
func backoffDelay(base time.Duration, attempts uint32) time.Duration {
	cap := 60 * time.Second
	delay := base
	for i := uint32(1); i < attempts && delay < cap; i++ {
		delay *= 2
	}
	if delay > cap {
		delay = cap
	}
	jitter := time.Duration(rand.Float64() * float64(2*time.Second))
	return delay + jitter
}

func (c *Client) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer func() {
		c.connMu.Lock()
		conn.Close()
		c.conn = nil
		c.connMu.Unlock()
	}()

	if err := c.subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.setState(StateConnected)
	c.attemptsMu.Lock()
	c.attempts = 0
	c.attemptsMu.Unlock()
	c.logger.Info("websocket connected", "program_id", c.cfg.ProgramID)

	// Every reconnect starts a fresh dedup window; the upstream program
	// can legitimately replay logs across a resubscribe.
	c.processedMu.Lock()
	c.processed = make(map[string]struct{})
	c.processedMu.Unlock()

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		c.pingLoop(pingCtx, conn)
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.handleMessage(ctx, msg)
	}
}

func (c *Client) subscribe() error {
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      uuid.NewString(),
		"method":  "logsSubscribe",
		"params": []any{
			map[string]any{"mentions": []string{c.cfg.ProgramID}},
			map[string]any{"commitment": c.cfg.Commitment},
		},
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(req)
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	interval := time.Duration(c.cfg.PingIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.connMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.connMu.Unlock()
			if err != nil {
				failures++
				c.logger.Warn("ping failed", "error", err, "consecutive_failures", failures)
				if failures >= maxPingFailures {
					c.logger.Error("too many ping failures, connection appears dead")
					conn.Close()
					return
				}
				continue
			}
			failures = 0
		}
	}
}

type logNotification struct {
	Result *string `json:"result"`
	Params *struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Signature string          `json:"signature"`
				Err       json.RawMessage `json:"err"`
				Logs      []string        `json:"logs"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

func (c *Client) handleMessage(ctx context.Context, raw []byte) {
	var n logNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		c.logger.Debug("ignoring non-json message")
		return
	}
	if n.Params == nil {
		// subscription confirmation
		return
	}

	value := n.Params.Result.Value
	slot := n.Params.Result.Context.Slot
	signature := value.Signature
	if signature == "" {
		c.logger.Warn("log notification missing signature")
		return
	}

	failed := len(value.Err) > 0 && string(value.Err) != "null"
	if failed && !c.cfg.ProcessFailedTransactions {
		c.logger.Debug("skipping failed transaction", "signature", signature)
		return
	}

	c.processedMu.Lock()
	if _, seen := c.processed[signature]; seen {
		c.processedMu.Unlock()
		return
	}
	c.processed[signature] = struct{}{}
	c.processedMu.Unlock()

	logs := value.Logs
	events := c.decodeAll(logs, signature, slot)

	if hasCPI(logs) {
		c.logger.Info("detected CPI, re-fetching full transaction", "signature", signature)
		fullLogs, err := c.fetchTransactionLogs(ctx, signature)
		if err != nil {
			c.logger.Warn("failed to fetch transaction details", "error", err, "signature", signature)
		} else {
			for _, ev := range c.decodeAll(fullLogs, signature, slot) {
				if !containsEquivalent(events, ev) {
					events = append(events, ev)
				}
			}
		}
	}

	if len(events) == 0 {
		return
	}
	c.logger.Info("publishing events", "count", len(events), "signature", signature)
	for _, ev := range events {
		select {
		case c.eventsCh <- ev:
		default:
			c.logger.Warn("event channel full, dropping event", "signature", ev.Signature, "type", ev.Type)
		}
	}
}

func hasCPI(logs []string) bool {
	for _, l := range logs {
		if strings.Contains(l, "invoke [2]") || strings.Contains(l, "invoke [3]") || strings.Contains(l, "invoke [4]") {
			return true
		}
	}
	return false
}

const programDataPrefix = "Program data: "

func (c *Client) decodeAll(logs []string, signature string, slot uint64) []*types.Event {
	var out []*types.Event
	ts := time.Now()
	for _, line := range logs {
		if !strings.HasPrefix(line, programDataPrefix) {
			continue
		}
		b64 := strings.TrimPrefix(line, programDataPrefix)
		ev, err := decoder.Decode(b64)
		if err != nil {
			c.logger.Debug("failed to decode program data", "error", err, "signature", signature)
			continue
		}
		ev.Slot = slot
		ev.Signature = signature
		ev.Timestamp = ts
		out = append(out, ev)
	}
	return out
}

// containsEquivalent applies the dedup-equality rule: signature alone for
// Created/Trade/FeeUpdate, signature+order_pda for the order-lifecycle
// variants.
func containsEquivalent(events []*types.Event, candidate *types.Event) bool {
	for _, e := range events {
		if eventsEqual(e, candidate) {
			return true
		}
	}
	return false
}

func eventsEqual(a, b *types.Event) bool {
	if a.Type != b.Type || a.Signature != b.Signature {
		return false
	}
	switch a.Type {
	case types.EventOpen:
		return a.Open.OrderPDA == b.Open.OrderPDA
	case types.EventLiquidate:
		return a.Liquidate.OrderPDA == b.Liquidate.OrderPDA
	case types.EventCloseFull:
		return a.CloseFull.OrderPDA == b.CloseFull.OrderPDA
	case types.EventClosePartial:
		return a.ClosePartial.OrderPDA == b.ClosePartial.OrderPDA
	default:
		return true
	}
}

type getTransactionResponse struct {
	Result struct {
		Meta struct {
			LogMessages []string `json:"logMessages"`
		} `json:"meta"`
	} `json:"result"`
}

func (c *Client) fetchTransactionLogs(ctx context.Context, signature string) ([]string, error) {
	body := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "getTransaction",
		"params": []any{
			signature,
			map[string]any{"commitment": c.cfg.Commitment, "maxSupportedTransactionVersion": 0},
		},
	}
	var out getTransactionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/")
	if err != nil {
		return nil, fmt.Errorf("getTransaction request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("getTransaction: http %d", resp.StatusCode())
	}
	return out.Result.Meta.LogMessages, nil
}
