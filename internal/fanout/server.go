package fanout

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"

	"github.com/spinpet/kline-indexer/internal/storage"
	"github.com/spinpet/kline-indexer/pkg/types"
)

const namespace = "/kline"

func roomName(mint, interval string) string { return fmt.Sprintf("kline:%s:%s", mint, interval) }

// Config controls the fanout subsystem's quotas and timing.
type Config struct {
	MaxSubscriptionsPerClient int
	HistoryDataLimit          int
	ConnectionTimeout         time.Duration
	PingInterval              time.Duration
	PingTimeout               time.Duration
}

// Server wraps a go-socket.io server configured for the "/kline" namespace.
type Server struct {
	io      *socketio.Server
	manager *Manager
	store   *storage.Store
	cfg     Config
	logger  *slog.Logger
}

// New builds the Socket.IO server and registers the namespace's handlers.
// It does not start serving; call Handler to mount it and ServeBackground
// to run the maintenance goroutines.
func New(store *storage.Store, cfg Config, logger *slog.Logger) *Server {
	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 25 * time.Second
	}
	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 60 * time.Second
	}
	io := socketio.NewServer(&engineio.Options{
		PingInterval: pingInterval,
		PingTimeout:  pingTimeout,
		Transports: []transport.Transport{
			&polling.Transport{},
			&websocket.Transport{},
		},
	})
	s := &Server{
		io:      io,
		manager: NewManager(cfg.MaxSubscriptionsPerClient),
		store:   store,
		cfg:     cfg,
		logger:  logger.With("component", "fanout"),
	}
	s.registerHandlers()
	return s
}

// Handler returns the http.Handler to mount at the Socket.IO engine path
// (conventionally "/socket.io/").
func (s *Server) Handler() http.Handler { return s.io }

// ServeBackground starts the go-socket.io event loop plus the inactivity
// reaper and performance reporter. It blocks until stop is closed, then
// closes the Socket.IO server; run it in its own goroutine.
func (s *Server) ServeBackground(stop <-chan struct{}) {
	go func() {
		if err := s.io.Serve(); err != nil {
			s.logger.Error("socket.io server exited", "error", err)
		}
	}()
	go s.reapInactive(stop)
	go s.reportPerformance(stop)
	<-stop
	s.io.Close()
}

func (s *Server) registerHandlers() {
	s.io.OnConnect(namespace, func(conn socketio.Conn) error {
		s.manager.AddConnection(conn.ID())
		conn.Emit("connection_success", types.ConnectionSuccess{
			ClientID:           conn.ID(),
			ServerTime:         time.Now().UnixMilli(),
			SupportedIntervals: types.Intervals,
		})
		s.logger.Info("client connected", "socket_id", conn.ID())
		return nil
	})

	s.io.OnEvent(namespace, "subscribe", func(conn socketio.Conn, req types.SubscribeRequest) {
		s.manager.UpdateActivity(conn.ID())
		if !validSymbol(req.Symbol) || !validInterval(req.Interval) {
			conn.Emit("error", types.ErrorPayload{Code: types.ErrValidation, Message: "invalid symbol or interval"})
			return
		}
		if err := s.manager.AddSubscription(conn.ID(), req.Symbol, string(req.Interval)); err != nil {
			code := types.ErrValidation
			if err == ErrSubscriptionLimit {
				code = types.ErrSubscriptionLimit
			}
			conn.Emit("error", types.ErrorPayload{Code: code, Message: err.Error()})
			return
		}
		conn.Join(roomName(req.Symbol, string(req.Interval)))

		if candles, err := s.store.ListCandles(req.Symbol, req.Interval, s.cfg.HistoryDataLimit); err != nil {
			s.logger.Error("history lookup failed", "error", err, "symbol", req.Symbol)
			conn.Emit("error", types.ErrorPayload{Code: types.ErrStorageFailure, Message: "failed to load history"})
		} else {
			conn.Emit("history_data", types.HistoryData{
				Symbol:     req.Symbol,
				Interval:   req.Interval,
				Data:       candles,
				TotalCount: len(candles),
			})
		}

		conn.Emit("subscription_confirmed", types.SubscriptionAck{
			Symbol: req.Symbol, Interval: req.Interval, SubscriptionID: req.SubscriptionID, Success: true,
		})
	})

	s.io.OnEvent(namespace, "unsubscribe", func(conn socketio.Conn, req types.UnsubscribeRequest) {
		s.manager.UpdateActivity(conn.ID())
		s.manager.RemoveSubscription(conn.ID(), req.Symbol, string(req.Interval))
		conn.Leave(roomName(req.Symbol, string(req.Interval)))
		conn.Emit("unsubscribe_confirmed", types.SubscriptionAck{
			Symbol: req.Symbol, Interval: req.Interval, SubscriptionID: req.SubscriptionID, Success: true,
		})
	})

	s.io.OnEvent(namespace, "history", func(conn socketio.Conn, req types.HistoryRequest) {
		s.manager.UpdateActivity(conn.ID())
		limit := req.Limit
		if limit <= 0 || limit > storage.MaxPageLimit {
			limit = s.cfg.HistoryDataLimit
		}
		candles, err := s.store.ListCandles(req.Symbol, req.Interval, limit)
		if err != nil {
			conn.Emit("error", types.ErrorPayload{Code: types.ErrStorageFailure, Message: "failed to load history"})
			return
		}
		conn.Emit("history_data", types.HistoryData{
			Symbol:     req.Symbol,
			Interval:   req.Interval,
			Data:       candles,
			TotalCount: len(candles),
		})
	})

	s.io.OnDisconnect(namespace, func(conn socketio.Conn, reason string) {
		s.manager.RemoveClient(conn.ID())
		s.logger.Info("client disconnected", "socket_id", conn.ID(), "reason", reason)
	})

	s.io.OnError(namespace, func(conn socketio.Conn, err error) {
		s.logger.Warn("socket.io connection error", "error", err)
	})
}

// validSymbol mirrors validate_subscribe_request's length bound: a base58
// mint address is never shorter than 32 bytes or longer than 44.
func validSymbol(symbol string) bool {
	return len(symbol) >= 32 && len(symbol) <= 44
}

func validInterval(iv types.Interval) bool {
	for _, known := range types.Intervals {
		if iv == known {
			return true
		}
	}
	return false
}

// Broadcast pushes a candle update to every socket subscribed to (mint,
// interval). Nothing is returned and the room broadcast's result is not
// checked, so a broadcast failure never fails the ingestion pipeline that
// triggered it.
func (s *Server) Broadcast(mint string, iv types.Interval, candle types.Candle) {
	room := roomName(mint, string(iv))
	if len(s.manager.Subscribers(mint, string(iv))) == 0 {
		return
	}
	s.io.BroadcastToRoom(namespace, room, "kline_data", types.KlineData{
		Symbol:      mint,
		Interval:    iv,
		Data:        candle,
		TimestampMs: time.Now().UnixMilli(),
	})
}

func (s *Server) reapInactive(stop <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	timeout := s.cfg.ConnectionTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			inactive := s.manager.InactiveClients(time.Now(), timeout)
			for _, id := range inactive {
				s.manager.RemoveClient(id)
				s.logger.Info("reaped inactive connection", "socket_id", id)
			}
		}
	}
}

func (s *Server) reportPerformance(stop <-chan struct{}) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			snap := s.manager.Snapshot(5)
			s.logger.Info("fanout metrics",
				"connections", snap.Connections,
				"subscriptions", snap.Subscriptions,
				"monitored_mints", snap.MonitoredMints,
			)
		}
	}
}
