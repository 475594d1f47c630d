// Package results resolves the final analysis artifact once a job completes,
// with a primary/secondary endpoint fallback and a per-instance cache.
package results

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/talentpath/orchestrator/internal/api"
	"github.com/talentpath/orchestrator/internal/metrics"
)

// Source fetches result documents from the remote service.
type Source interface {
	Result(ctx context.Context, resultID string) (*api.ResultDocument, error)
	ArchivedResult(ctx context.Context, resultID string) (*api.ResultDocument, error)
}

// Fetcher resolves result documents. Repeated calls for the same resultID
// within one workflow instance return the cached document.
type Fetcher struct {
	source Source
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]*api.ResultDocument
}

// NewFetcher creates a result fetcher.
func NewFetcher(source Source, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		source: source,
		logger: logger,
		cache:  make(map[string]*api.ResultDocument),
	}
}

// Fetch resolves resultID. The primary results endpoint is tried first; on a
// missing or failing primary the archive endpoint is consulted before
// surfacing NotFound.
func (f *Fetcher) Fetch(ctx context.Context, resultID string) (*api.ResultDocument, error) {
	if resultID == "" {
		return nil, fmt.Errorf("%w: empty result id", api.ErrNotFound)
	}

	f.mu.Lock()
	if doc, ok := f.cache[resultID]; ok {
		f.mu.Unlock()
		metrics.ResultCacheHits.Inc()
		return doc, nil
	}
	f.mu.Unlock()

	doc, err := f.source.Result(ctx, resultID)
	if err == nil {
		metrics.ResultFetches.WithLabelValues("primary", "ok").Inc()
		f.store(resultID, doc)
		return doc, nil
	}
	if !fallbackWorthy(err) {
		metrics.ResultFetches.WithLabelValues("primary", "error").Inc()
		return nil, err
	}
	metrics.ResultFetches.WithLabelValues("primary", "miss").Inc()
	f.logger.Info("Primary results endpoint missed, trying archive",
		zap.String("result_id", resultID),
		zap.Error(err),
	)

	doc, archiveErr := f.source.ArchivedResult(ctx, resultID)
	if archiveErr != nil {
		metrics.ResultFetches.WithLabelValues("archive", "miss").Inc()
		if errors.Is(archiveErr, api.ErrNotFound) || errors.Is(err, api.ErrNotFound) {
			return nil, fmt.Errorf("result %s: %w", resultID, api.ErrNotFound)
		}
		return nil, archiveErr
	}
	metrics.ResultFetches.WithLabelValues("archive", "ok").Inc()
	f.store(resultID, doc)
	return doc, nil
}

func (f *Fetcher) store(resultID string, doc *api.ResultDocument) {
	f.mu.Lock()
	f.cache[resultID] = doc
	f.mu.Unlock()
}

// fallbackWorthy reports whether the archive endpoint should be consulted:
// the document may legitimately live only there after a 404, and a 5xx from
// the primary does not imply the archive is down too.
func fallbackWorthy(err error) bool {
	return errors.Is(err, api.ErrNotFound) || api.IsTransient(err)
}
