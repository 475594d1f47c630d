package transport

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/talentpath/orchestrator/internal/metrics"
)

// DefaultGracePeriod is how long the coordinator waits for the socket to
// reach subscribed before starting the polling loop alongside it.
const DefaultGracePeriod = 10 * time.Second

// SocketTransport is the push side of the race.
type SocketTransport interface {
	Connect(token string) error
	SubscribeToJob(jobID string) error
	Unsubscribe(jobID string)
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// PollingTransport is the pull side of the race.
type PollingTransport interface {
	Start(ctx context.Context, jobID string)
	Events() <-chan Event
	Errors() <-chan error
	Stop()
}

// Coordinator composes the socket channel and the polling loop for a single
// job. The socket is preferred; if it is not subscribed within the grace
// period, or errors at any point, polling starts concurrently. Both may run
// at once. The first terminal event from either side wins: it is forwarded
// upward and both transports are stopped.
type Coordinator struct {
	socket SocketTransport // nil when no credential is available
	poller PollingTransport
	token  string
	grace  time.Duration
	logger *zap.Logger

	out chan Event

	mu  sync.Mutex
	err error

	stopOnce sync.Once
	done     chan struct{}
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithGracePeriod overrides the socket grace period.
func WithGracePeriod(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.grace = d
		}
	}
}

// NewCoordinator creates a coordinator. socket may be nil; the coordinator
// then runs polling-only.
func NewCoordinator(socket SocketTransport, poller PollingTransport, token string, logger *zap.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		socket: socket,
		poller: poller,
		token:  token,
		grace:  DefaultGracePeriod,
		logger: logger,
		out:    make(chan Event, 16),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Monitor starts both transports for jobID and returns the merged event
// stream. The stream closes after the first terminal event, after both
// transports are exhausted, or after Stop/context cancellation. When it
// closes without a terminal event, Err reports why.
func (c *Coordinator) Monitor(ctx context.Context, jobID string) <-chan Event {
	go c.run(ctx, jobID)
	return c.out
}

// Err returns the transport-exhaustion error, if the stream closed without a
// terminal event.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Stop synchronously halts both transports: the poll timer is cleared and the
// socket room is left and closed. Idempotent, callable at any point.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
	c.poller.Stop()
	if c.socket != nil {
		c.socket.Close()
	}
}

func (c *Coordinator) run(ctx context.Context, jobID string) {
	defer close(c.out)

	var (
		socketEvents <-chan Event
		socketErrors <-chan error
		socketReady  = make(chan struct{}, 1)
		socketFailed = make(chan error, 1)

		subscribed     bool
		socketDown     bool
		pollingStarted bool
		pollingDead    bool

		maxRank      = -1
		lastProgress = -1
		terminal     *Event
	)

	startPolling := func() {
		if !pollingStarted {
			pollingStarted = true
			c.poller.Start(ctx, jobID)
		}
	}

	stopBoth := func() {
		c.poller.Stop()
		if c.socket != nil {
			c.socket.Unsubscribe(jobID)
			c.socket.Close()
		}
	}
	defer stopBoth()

	grace := time.NewTimer(c.grace)
	defer grace.Stop()

	if c.socket != nil && c.token != "" {
		socketEvents = c.socket.Events()
		socketErrors = c.socket.Errors()
		go func() {
			if err := c.socket.Connect(c.token); err != nil {
				socketFailed <- err
				return
			}
			if err := c.socket.SubscribeToJob(jobID); err != nil {
				socketFailed <- err
				return
			}
			socketReady <- struct{}{}
		}()
	} else {
		socketDown = true
		startPolling()
		grace.Stop()
	}

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return

		case <-grace.C:
			if !subscribed {
				c.logger.Info("Socket not subscribed within grace period, starting polling",
					zap.String("job_id", jobID),
					zap.Duration("grace", c.grace),
				)
				startPolling()
			}

		case <-socketReady:
			subscribed = true

		case err := <-socketFailed:
			// Socket errors never fail the workflow; they only disable
			// this transport and defer to polling.
			socketDown = true
			c.logger.Warn("Socket transport unavailable, falling back to polling",
				zap.String("job_id", jobID), zap.Error(err))
			startPolling()
			if pollingDead && c.giveUp(jobID) {
				return
			}

		case err := <-socketErrors:
			socketDown = true
			c.logger.Warn("Socket transport failed mid-flight, ensuring polling is active",
				zap.String("job_id", jobID), zap.Error(err))
			startPolling()
			if pollingDead && c.giveUp(jobID) {
				return
			}

		case ev := <-socketEvents:
			if c.deliver(ctx, jobID, ev, &maxRank, &lastProgress, &terminal) {
				return
			}

		case ev := <-c.poller.Events():
			if c.deliver(ctx, jobID, ev, &maxRank, &lastProgress, &terminal) {
				return
			}

		case err := <-c.poller.Errors():
			pollingDead = true
			c.logger.Warn("Polling loop gave up",
				zap.String("job_id", jobID), zap.Error(err))
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			// Keep waiting while a live socket subscription remains; the
			// workflow only fails once both transports are exhausted.
			if socketDown || !subscribed {
				return
			}
		}
	}
}

// giveUp reports whether both transports are gone and the stream should
// close with the recorded error.
func (c *Coordinator) giveUp(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return false
	}
	c.logger.Error("Both transports exhausted",
		zap.String("job_id", jobID), zap.Error(c.err))
	return true
}

// deliver filters one transport event and forwards it upward. It returns
// true once a terminal event has been forwarded.
func (c *Coordinator) deliver(ctx context.Context, jobID string, ev Event, maxRank, lastProgress *int, terminal **Event) bool {
	if ev.JobID != jobID {
		metrics.TransportEventsDropped.WithLabelValues(string(ev.Source), "foreign_job").Inc()
		return false
	}

	// Terminal idempotence: everything after the first terminal event is
	// discarded, from either source.
	if *terminal != nil {
		if ev.Kind.Terminal() && ev.Kind != (*terminal).Kind {
			c.logger.Warn("Conflicting terminal statuses; keeping first arrival",
				zap.String("job_id", jobID),
				zap.String("winner", string((*terminal).Kind)),
				zap.String("winner_source", string((*terminal).Source)),
				zap.String("loser", string(ev.Kind)),
				zap.String("loser_source", string(ev.Source)),
			)
		}
		metrics.TransportEventsDropped.WithLabelValues(string(ev.Source), "post_terminal").Inc()
		return false
	}

	// Reject lifecycle regressions across transports.
	if ev.Kind.rank() < *maxRank {
		metrics.TransportEventsDropped.WithLabelValues(string(ev.Source), "stale").Inc()
		return false
	}

	// Merge duplicates: a same-stage event must advance progress to be
	// worth forwarding.
	if !ev.Kind.Terminal() && ev.Kind.rank() == *maxRank && ev.Progress <= *lastProgress {
		metrics.TransportEventsDropped.WithLabelValues(string(ev.Source), "duplicate").Inc()
		return false
	}

	*maxRank = ev.Kind.rank()
	if ev.Progress > *lastProgress {
		*lastProgress = ev.Progress
	}

	if ev.Kind.Terminal() {
		evCopy := ev
		*terminal = &evCopy
		metrics.TransportRacesWon.WithLabelValues(string(ev.Source)).Inc()
		c.logger.Info("Terminal event received",
			zap.String("job_id", jobID),
			zap.String("kind", string(ev.Kind)),
			zap.String("source", string(ev.Source)),
		)
	}

	select {
	case c.out <- ev:
	case <-c.done:
		return true
	case <-ctx.Done():
		return true
	}
	return ev.Kind.Terminal()
}
