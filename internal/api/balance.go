package api

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// BalanceTracker keeps a cached view of the account's token balance. The
// workflow asks it to refresh after each accepted submission; UI-facing
// callers read the cached value.
type BalanceTracker struct {
	client *Client
	logger *zap.Logger

	mu        sync.RWMutex
	remaining int
	known     bool
}

// NewBalanceTracker creates a balance tracker over the API client.
func NewBalanceTracker(client *Client, logger *zap.Logger) *BalanceTracker {
	return &BalanceTracker{client: client, logger: logger}
}

// Refresh fetches the current balance from the service.
func (b *BalanceTracker) Refresh(ctx context.Context) error {
	var resp struct {
		RemainingTokens int `json:"remaining_tokens"`
	}
	if err := b.client.do(ctx, "GET", "/tokens/balance", nil, &resp); err != nil {
		return err
	}
	b.mu.Lock()
	b.remaining = resp.RemainingTokens
	b.known = true
	b.mu.Unlock()
	b.logger.Debug("Token balance refreshed", zap.Int("remaining", resp.RemainingTokens))
	return nil
}

// Remaining returns the cached balance and whether a refresh has succeeded yet.
func (b *BalanceTracker) Remaining() (int, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.remaining, b.known
}
