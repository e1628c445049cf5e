package query

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spinpet/kline-indexer/internal/storage"
)

// Server runs the HTTP query API over the storage engine.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewServer builds a Server listening on host:port, routing the endpoints
// listed in the external-interfaces section over store.
func NewServer(host string, port int, store *storage.Store, corsEnabled bool, allowOrigins []string, logger *slog.Logger) *Server {
	handlers := NewHandlers(store, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		writeEnvelope(w, http.StatusOK, map[string]string{"status": "ok"}, "")
	})
	mux.HandleFunc("GET /api/events", handlers.HandleEvents)
	mux.HandleFunc("GET /api/mints", handlers.HandleMints)
	mux.HandleFunc("GET /api/orders", handlers.HandleOrders)
	mux.HandleFunc("GET /api/users/{user}/transactions", handlers.HandleUserTransactions)
	mux.HandleFunc("GET /api/users/{user}/orders", handlers.HandleUserOrders)
	mux.HandleFunc("GET /api/mints/{mint}/detail", handlers.HandleMintDetail)
	mux.HandleFunc("GET /api/klines", handlers.HandleKlines)

	var root http.Handler = mux
	if corsEnabled {
		root = withCORS(mux, allowOrigins)
	}

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", host, port),
			Handler:      root,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With("component", "query-server"),
	}
}

// Start blocks, serving until Stop is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("query server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("query server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping query server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func withCORS(next http.Handler, allowOrigins []string) http.Handler {
	allowed := make(map[string]struct{}, len(allowOrigins))
	allowAll := false
	for _, o := range allowOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if _, ok := allowed[origin]; ok || allowAll {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
