package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/talentpath/orchestrator/internal/api"
	"github.com/talentpath/orchestrator/internal/metrics"
)

var (
	ErrPollingExhausted = errors.New("polling exhausted: consecutive status fetches failed")
	ErrPollingTimeout   = errors.New("polling timeout: no terminal status within attempt budget")
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxAttempts  = 90

	// maxConsecutiveFailures bounds transient-failure retries before the
	// loop gives up with ErrPollingExhausted.
	maxConsecutiveFailures = 3
)

// StatusFetcher fetches job status from the pull endpoint.
type StatusFetcher interface {
	Status(ctx context.Context, jobID string) (*api.JobStatus, error)
}

// Poller owns one pull-transport loop for a single job: fixed-interval status
// fetches with bounded retries.
type Poller struct {
	fetcher     StatusFetcher
	logger      *zap.Logger
	interval    time.Duration
	maxAttempts int

	events chan Event
	errs   chan error

	stopOnce sync.Once
	stop     chan struct{}
	started  sync.Once
}

// NewPoller creates a polling loop. Zero interval and maxAttempts select the
// defaults.
func NewPoller(fetcher StatusFetcher, logger *zap.Logger, interval time.Duration, maxAttempts int) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Poller{
		fetcher:     fetcher,
		logger:      logger,
		interval:    interval,
		maxAttempts: maxAttempts,
		events:      make(chan Event, 16),
		errs:        make(chan error, 1),
		stop:        make(chan struct{}),
	}
}

// Events returns normalized status events.
func (p *Poller) Events() <-chan Event { return p.events }

// Errors delivers the loop's terminal error, if any.
func (p *Poller) Errors() <-chan error { return p.errs }

// Start begins polling jobID. It is a no-op after the first call.
func (p *Poller) Start(ctx context.Context, jobID string) {
	p.started.Do(func() {
		go p.run(ctx, jobID)
	})
}

// Stop halts the loop and clears its timer. Idempotent, safe at any point.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *Poller) run(ctx context.Context, jobID string) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	attempts := 0
	consecutiveFailures := 0

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		attempts++
		metrics.PollAttempts.Inc()

		st, err := p.fetcher.Status(ctx, jobID)
		if err != nil {
			consecutiveFailures++
			p.logger.Debug("Status poll failed",
				zap.String("job_id", jobID),
				zap.Int("consecutive_failures", consecutiveFailures),
				zap.Error(err),
			)
			if consecutiveFailures >= maxConsecutiveFailures {
				p.fail(fmt.Errorf("%w: %v", ErrPollingExhausted, err))
				return
			}
			continue
		}
		consecutiveFailures = 0

		ev, ok := p.normalize(jobID, st)
		if !ok {
			p.logger.Warn("Dropping unrecognized status payload",
				zap.String("job_id", jobID),
				zap.String("status", st.Status),
			)
			metrics.TransportEventsDropped.WithLabelValues(string(SourcePolling), "malformed").Inc()
			continue
		}

		metrics.RecordTransportEvent(string(SourcePolling), string(ev.Kind))
		select {
		case p.events <- ev:
		case <-p.stop:
			return
		}

		if ev.Kind.Terminal() {
			return
		}
		if attempts >= p.maxAttempts {
			p.fail(ErrPollingTimeout)
			return
		}
	}
}

func (p *Poller) fail(err error) {
	select {
	case p.errs <- err:
	default:
	}
}

func (p *Poller) normalize(jobID string, st *api.JobStatus) (Event, bool) {
	kind, ok := ParseKind(st.Status)
	if !ok {
		return Event{}, false
	}
	id := st.JobID
	if id == "" {
		id = jobID
	}
	return Event{
		JobID:      id,
		Kind:       kind,
		Progress:   st.Progress,
		ResultID:   st.ResultID,
		Err:        st.Error,
		Source:     SourcePolling,
		ReceivedAt: time.Now(),
	}, true
}
