// Package guard deduplicates and rate-limits assessment submissions by
// content fingerprint. An in-memory registry blocks concurrent duplicates;
// a persistence-backed cooldown marker blocks rapid resubmission of identical
// content across process restarts.
package guard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/talentpath/orchestrator/internal/metrics"
	"github.com/talentpath/orchestrator/internal/store"
)

var (
	ErrDuplicateSubmission = errors.New("duplicate submission")
	ErrRateLimited         = errors.New("submission rate limit exceeded")
)

const (
	// DefaultEntryTTL is the ceiling after which a live entry is considered
	// abandoned and no longer blocks new submissions.
	DefaultEntryTTL = 5 * time.Minute

	// DefaultCooldown is how long identical content stays blocked after an
	// accepted submission, independent of the in-memory registry.
	DefaultCooldown = 30 * time.Second
)

// Entry tracks one in-flight submission.
type Entry struct {
	Fingerprint  Fingerprint
	SubmissionID string
	CreatedAt    time.Time
}

// Registry is the submission guard. It is owned by the application root and
// passed by reference; there is no package-level instance.
type Registry struct {
	store    store.Store
	logger   *zap.Logger
	limiter  *rate.Limiter
	entryTTL time.Duration
	cooldown time.Duration

	mu      sync.Mutex
	entries map[Fingerprint]*Entry

	now func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock injects a clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithCooldown overrides the persisted cooldown window. Zero disables it.
func WithCooldown(d time.Duration) Option {
	return func(r *Registry) { r.cooldown = d }
}

// WithRateLimit caps submissions at n per interval.
func WithRateLimit(n int, interval time.Duration) Option {
	return func(r *Registry) {
		if n > 0 && interval > 0 {
			r.limiter = rate.NewLimiter(rate.Every(interval/time.Duration(n)), n)
		}
	}
}

// NewRegistry creates a submission guard backed by the given store.
func NewRegistry(st store.Store, logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:    st,
		logger:   logger,
		entryTTL: DefaultEntryTTL,
		cooldown: DefaultCooldown,
		entries:  make(map[Fingerprint]*Entry),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Begin registers a new submission for fp. It fails with
// ErrDuplicateSubmission while an unexpired entry or a persisted cooldown
// marker exists for the same fingerprint.
func (r *Registry) Begin(ctx context.Context, fp Fingerprint) (*Entry, error) {
	if r.limiter != nil && !r.limiter.Allow() {
		metrics.SubmissionsRejected.WithLabelValues("rate_limited").Inc()
		return nil, ErrRateLimited
	}

	r.mu.Lock()
	now := r.now()
	if existing, ok := r.entries[fp]; ok {
		if now.Sub(existing.CreatedAt) < r.entryTTL {
			r.mu.Unlock()
			metrics.SubmissionsRejected.WithLabelValues("duplicate").Inc()
			return nil, ErrDuplicateSubmission
		}
		// Past the ceiling the entry is abandoned; reclaim it.
		r.logger.Warn("Reclaiming expired guard entry",
			zap.String("fingerprint", string(fp)),
			zap.String("submission_id", existing.SubmissionID),
		)
		delete(r.entries, fp)
	}
	r.mu.Unlock()

	// The cooldown marker survives process restarts; check it after the
	// in-memory registry so a fresh instance still blocks rapid resubmits.
	if _, err := r.store.Get(ctx, cooldownKey(fp)); err == nil {
		metrics.GuardCooldownHits.Inc()
		metrics.SubmissionsRejected.WithLabelValues("cooldown").Inc()
		return nil, ErrDuplicateSubmission
	} else if !errors.Is(err, store.ErrKeyNotFound) {
		r.logger.Warn("Cooldown lookup failed, allowing submission", zap.Error(err))
	}

	entry := &Entry{
		Fingerprint:  fp,
		SubmissionID: uuid.New().String(),
		CreatedAt:    now,
	}

	r.mu.Lock()
	if _, ok := r.entries[fp]; ok {
		r.mu.Unlock()
		metrics.SubmissionsRejected.WithLabelValues("duplicate").Inc()
		return nil, ErrDuplicateSubmission
	}
	r.entries[fp] = entry
	metrics.GuardEntriesActive.Set(float64(len(r.entries)))
	r.mu.Unlock()

	if r.cooldown > 0 {
		if err := r.store.Set(ctx, cooldownKey(fp), "1", r.cooldown); err != nil {
			r.logger.Warn("Failed to persist cooldown marker", zap.Error(err))
		}
	}

	r.logger.Debug("Submission registered",
		zap.String("submission_id", entry.SubmissionID),
	)
	return entry, nil
}

// Complete removes the entry after a terminal success. The cooldown marker is
// left to expire so identical content stays blocked for the full window.
func (r *Registry) Complete(ctx context.Context, fp Fingerprint) {
	r.remove(fp)
}

// Fail removes the entry after a terminal failure and clears the cooldown
// marker so an explicit retry is never cooldown-blocked.
func (r *Registry) Fail(ctx context.Context, fp Fingerprint) {
	r.remove(fp)
	if err := r.store.Delete(ctx, cooldownKey(fp)); err != nil {
		r.logger.Warn("Failed to clear cooldown marker", zap.Error(err))
	}
}

// Active returns the number of live entries.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) remove(fp Fingerprint) {
	r.mu.Lock()
	delete(r.entries, fp)
	metrics.GuardEntriesActive.Set(float64(len(r.entries)))
	r.mu.Unlock()
}

func cooldownKey(fp Fingerprint) string {
	return "guard:cooldown:" + string(fp)
}
