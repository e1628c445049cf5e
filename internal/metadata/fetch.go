// Package metadata asynchronously resolves a Created event's content-
// addressed URI into display metadata (name, symbol, description, image)
// and writes it back onto the mint-detail aggregate.
//
// The fetch runs on its own goroutine per Created event so a slow or dead
// gateway never blocks ingestion. A fixed number of retries with a fixed
// delay between them is used rather than exponential backoff, matching the
// upstream fetch_token_uri_data behavior.
package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/spinpet/kline-indexer/pkg/types"
)

// Config controls the content-address gateway and retry policy.
type Config struct {
	GatewayURL        string
	RequestTimeout    time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
}

// Store is the subset of storage.Store the fetcher writes back to.
type Store interface {
	SetMintMetadata(mint string, md *types.TokenMetadata) error
}

// Fetcher resolves token URIs and persists the result.
type Fetcher struct {
	cfg    Config
	http   *resty.Client
	store  Store
	logger *slog.Logger
}

// New builds a Fetcher.
func New(cfg Config, store Store, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		cfg:    cfg,
		http:   resty.New().SetTimeout(cfg.RequestTimeout),
		store:  store,
		logger: logger.With("component", "metadata"),
	}
}

// FetchAsync spawns a goroutine that resolves uri and writes the result onto
// mint's aggregate record. It returns immediately.
func (f *Fetcher) FetchAsync(ctx context.Context, mint, uri string) {
	if uri == "" {
		return
	}
	go func() {
		md, err := f.fetch(ctx, uri)
		if err != nil {
			f.logger.Warn("failed to fetch token metadata", "error", err, "mint", mint, "uri", uri)
			return
		}
		if err := f.store.SetMintMetadata(mint, md); err != nil {
			f.logger.Error("failed to persist token metadata", "error", err, "mint", mint)
		}
	}()
}

func (f *Fetcher) fetch(ctx context.Context, uri string) (*types.TokenMetadata, error) {
	hash, ok := extractContentHash(uri)
	if !ok {
		return nil, fmt.Errorf("metadata: unrecognized uri scheme: %s", uri)
	}
	url := f.cfg.GatewayURL + hash

	var lastErr error
	for attempt := 1; attempt <= f.cfg.MaxRetries; attempt++ {
		var md types.TokenMetadata
		resp, err := f.http.R().SetContext(ctx).SetResult(&md).Get(url)
		if err != nil {
			lastErr = fmt.Errorf("request: %w", err)
		} else if resp.StatusCode() != http.StatusOK {
			lastErr = fmt.Errorf("status %d", resp.StatusCode())
		} else {
			return &md, nil
		}

		f.logger.Debug("metadata fetch attempt failed", "attempt", attempt, "max", f.cfg.MaxRetries, "error", lastErr)
		if attempt < f.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.cfg.RetryDelay):
			}
		}
	}
	return nil, fmt.Errorf("metadata: all %d attempts failed: %w", f.cfg.MaxRetries, lastErr)
}

// extractContentHash pulls the content identifier out of a handful of
// common content-addressed URI shapes.
func extractContentHash(uri string) (string, bool) {
	if strings.HasPrefix(uri, "ipfs://") {
		rest := strings.TrimPrefix(uri, "ipfs://")
		if end := strings.IndexAny(rest, "?#"); end >= 0 {
			rest = rest[:end]
		}
		return rest, true
	}
	if idx := strings.Index(uri, "/ipfs/"); idx >= 0 {
		rest := uri[idx+len("/ipfs/"):]
		if end := strings.IndexAny(rest, "?#"); end >= 0 {
			rest = rest[:end]
		}
		return rest, true
	}
	return "", false
}
