// Package workflow drives the public-facing assessment lifecycle: it
// validates input, guards against duplicate submissions, submits the job,
// races the hybrid transports to a terminal event and resolves the final
// result, exposing the whole thing as a stream of state snapshots.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/talentpath/orchestrator/internal/api"
	"github.com/talentpath/orchestrator/internal/guard"
	"github.com/talentpath/orchestrator/internal/metrics"
	"github.com/talentpath/orchestrator/internal/transport"
)

// DefaultTimeout is the overall budget from submission to terminal state.
const DefaultTimeout = 180 * time.Second

// SubmitAPI submits an assessment payload to the remote service.
type SubmitAPI interface {
	Submit(ctx context.Context, req *api.SubmitRequest) (*api.SubmitResponse, error)
}

// ResultResolver resolves the final artifact once a job completes.
type ResultResolver interface {
	Fetch(ctx context.Context, resultID string) (*api.ResultDocument, error)
}

// TokenBalance is the token-balance collaborator. Refresh is invoked exactly
// once per accepted submission, regardless of which transport resolves the
// job.
type TokenBalance interface {
	Refresh(ctx context.Context) error
}

// Monitor is one transport-coordination session for a job.
type Monitor interface {
	Monitor(ctx context.Context, jobID string) <-chan transport.Event
	Err() error
	Stop()
}

// MonitorFactory builds a fresh Monitor per submission attempt.
type MonitorFactory func() Monitor

// Machine is the workflow state machine. All listener callbacks are delivered
// through a single dispatcher goroutine, so they never interleave.
type Machine struct {
	submitter  SubmitAPI
	registry   *guard.Registry
	newMonitor MonitorFactory
	results    ResultResolver
	tokens     TokenBalance
	logger     *zap.Logger
	timeout    time.Duration
	now        func() time.Time

	mu        sync.Mutex
	state     State
	answers   *api.SubmitRequest
	fp        guard.Fingerprint
	monitor   Monitor
	cancelRun context.CancelFunc
	listeners []func(State)

	dispatch  chan State
	closeOnce sync.Once
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithTimeout overrides the overall submission-to-terminal budget.
func WithTimeout(d time.Duration) MachineOption {
	return func(m *Machine) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithClock injects a clock, used by tests.
func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) { m.now = now }
}

// WithTokenBalance wires the token-balance collaborator.
func WithTokenBalance(tb TokenBalance) MachineOption {
	return func(m *Machine) { m.tokens = tb }
}

// NewMachine creates a workflow state machine in the idle state.
func NewMachine(submitter SubmitAPI, registry *guard.Registry, monitors MonitorFactory, results ResultResolver, logger *zap.Logger, opts ...MachineOption) *Machine {
	m := &Machine{
		submitter:  submitter,
		registry:   registry,
		newMonitor: monitors,
		results:    results,
		logger:     logger,
		timeout:    DefaultTimeout,
		now:        time.Now,
		state:      State{Status: StatusIdle},
		dispatch:   make(chan State, 128),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.dispatchLoop()
	return m
}

// Subscribe registers a listener for state snapshots. Listeners are invoked
// in registration order from a single goroutine.
func (m *Machine) Subscribe(fn func(State)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// CurrentState returns a snapshot of the current state.
func (m *Machine) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close stops the dispatcher. The machine must not be used afterwards.
func (m *Machine) Close() {
	m.closeOnce.Do(func() { close(m.dispatch) })
}

// Submit validates the answers, registers the submission with the guard and
// starts the asynchronous submit-and-monitor run. Validation and guard
// rejections are returned synchronously and also reflected in the state
// stream; everything after the network submit surfaces through the stream
// only.
func (m *Machine) Submit(ctx context.Context, answers *api.SubmitRequest) error {
	m.mu.Lock()
	if m.state.Status != StatusIdle {
		m.mu.Unlock()
		return ErrNotIdle
	}
	m.setLocked(State{
		Status:        StatusValidating,
		Message:       "Validating answers",
		StartedAt:     m.now(),
		TransportUsed: transport.SourceUnknown,
	})
	m.mu.Unlock()

	if err := validate(answers); err != nil {
		werr := Classify(err)
		metrics.SubmissionsRejected.WithLabelValues("validation").Inc()
		m.failState(ctx, werr, false)
		return werr
	}

	fp, err := guard.FingerprintOf(answers)
	if err != nil {
		werr := Classify(err)
		m.failState(ctx, werr, false)
		return werr
	}

	if _, err := m.registry.Begin(ctx, fp); err != nil {
		// The live entry belongs to another submission; do not release it.
		werr := Classify(err)
		m.failState(ctx, werr, false)
		return werr
	}

	m.mu.Lock()
	// Cancel may have landed while the guard was being acquired; the entry
	// just created belongs to this submission, so release it and stay put.
	if m.state.Status.Terminal() {
		m.mu.Unlock()
		m.registry.Fail(ctx, fp)
		return nil
	}
	m.answers = answers
	m.fp = fp
	m.transitionLocked(func(s *State) {
		s.Status = StatusSubmitting
		s.Message = "Submitting assessment"
	})
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancelRun = cancel
	m.mu.Unlock()

	go m.run(runCtx)
	return nil
}

// Retry resubmits the originally validated answers after a retryable failure.
// Progress resets to 0; the caller is not re-prompted.
func (m *Machine) Retry(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Status != StatusFailed || !m.state.CanRetry || m.answers == nil {
		m.mu.Unlock()
		return ErrNotRetryable
	}
	fp := m.fp
	m.setLocked(State{
		Status:        StatusSubmitting,
		Message:       "Retrying submission",
		StartedAt:     m.now(),
		TransportUsed: transport.SourceUnknown,
	})
	m.mu.Unlock()

	if _, err := m.registry.Begin(ctx, fp); err != nil {
		werr := Classify(err)
		m.failState(ctx, werr, false)
		return werr
	}

	m.mu.Lock()
	if m.state.Status.Terminal() {
		m.mu.Unlock()
		m.registry.Fail(ctx, fp)
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancelRun = cancel
	m.mu.Unlock()

	go m.run(runCtx)
	return nil
}

// Cancel halts the workflow from any non-terminal state, synchronously
// stopping both transports. Idempotent; a no-op when idle or terminal.
func (m *Machine) Cancel(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Status == StatusIdle || m.state.Status.Terminal() {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancelRun
	mon := m.monitor
	fp := m.fp
	hadGuard := m.state.Status == StatusSubmitting ||
		m.state.Status == StatusQueued || m.state.Status == StatusProcessing
	started := m.state.StartedAt
	m.transitionLocked(func(s *State) {
		s.Status = StatusCancelled
		s.Message = "Cancelled by user"
		s.Err = &Error{Kind: KindCancelled, Message: "cancelled by user"}
		s.CanRetry = false
	})
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if mon != nil {
		mon.Stop()
	}
	if hadGuard && fp != "" {
		m.registry.Fail(ctx, fp)
	}
	metrics.RecordWorkflowTerminal(string(StatusCancelled), m.now().Sub(started).Seconds())
	m.logger.Info("Workflow cancelled")
	return nil
}

// Reset returns a terminal machine to idle. Guard semantics of prior
// submissions (cooldown markers) are unaffected.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Status.Terminal() {
		return ErrNotTerminal
	}
	m.answers = nil
	m.fp = ""
	m.monitor = nil
	m.cancelRun = nil
	m.setLocked(State{Status: StatusIdle, TransportUsed: transport.SourceUnknown})
	return nil
}

// run performs the network submission and consumes transport events until a
// terminal state. The overall timeout is armed here, at submitting entry.
func (m *Machine) run(ctx context.Context) {
	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	m.mu.Lock()
	answers := m.answers
	m.mu.Unlock()

	ack, err := m.submitter.Submit(ctx, answers)
	if err != nil {
		m.failState(ctx, Classify(err), true)
		return
	}
	metrics.SubmissionsStarted.Inc()

	// Exactly once per accepted submission, before any transport resolves
	// the job. A refresh failure never fails the workflow.
	if m.tokens != nil {
		if err := m.tokens.Refresh(ctx); err != nil {
			m.logger.Warn("Token balance refresh failed", zap.Error(err))
		}
	}

	mon := m.newMonitor()
	ok := m.transition(func(s *State) {
		s.Status = StatusQueued
		s.JobID = ack.JobID
		s.Message = fmt.Sprintf("Queued at position %d", ack.QueuePosition)
		s.EstimatedTimeRemaining = time.Duration(ack.EstimatedProcessingTime) * time.Second
	})
	if !ok {
		// Cancelled between submit and queued; nothing to monitor.
		mon.Stop()
		return
	}
	m.mu.Lock()
	m.monitor = mon
	m.mu.Unlock()

	events := mon.Monitor(ctx, ack.JobID)
	for {
		select {
		case <-ctx.Done():
			mon.Stop()
			return

		case <-timer.C:
			mon.Stop()
			m.failState(ctx, &Error{
				Kind:    KindTimeout,
				Message: fmt.Sprintf("no terminal state within %s", m.timeout),
			}, true)
			return

		case ev, open := <-events:
			if !open {
				mon.Stop()
				if err := mon.Err(); err != nil {
					m.failState(ctx, Classify(err), true)
				}
				return
			}
			if m.apply(ctx, ev) {
				mon.Stop()
				return
			}
		}
	}
}

// apply folds one honored transport event into the state. It returns true
// when the workflow reached a terminal state.
func (m *Machine) apply(ctx context.Context, ev transport.Event) bool {
	switch ev.Kind {
	case transport.KindQueued:
		m.transition(func(s *State) {
			s.Status = StatusQueued
			s.Message = "Waiting in queue"
			s.TransportUsed = ev.Source
			if ev.Progress > s.Progress {
				s.Progress = ev.Progress
			}
		})
		return false

	case transport.KindProcessing:
		m.transition(func(s *State) {
			s.Status = StatusProcessing
			s.Message = "Analysis in progress"
			s.TransportUsed = ev.Source
			if ev.Progress > s.Progress {
				s.Progress = ev.Progress
			}
		})
		return false

	case transport.KindCompleted:
		doc, err := m.results.Fetch(ctx, ev.ResultID)
		if err != nil {
			m.failState(ctx, Classify(err), true)
			return true
		}
		m.mu.Lock()
		fp := m.fp
		started := m.state.StartedAt
		done := false
		m.transitionLocked(func(s *State) {
			s.Status = StatusCompleted
			s.Progress = 100
			s.Message = "Analysis complete"
			s.ResultID = doc.ID
			s.TransportUsed = ev.Source
			s.EstimatedTimeRemaining = 0
			done = true
		})
		m.mu.Unlock()
		if done {
			m.registry.Complete(ctx, fp)
			metrics.RecordWorkflowTerminal(string(StatusCompleted), m.now().Sub(started).Seconds())
			m.logger.Info("Workflow completed",
				zap.String("job_id", ev.JobID),
				zap.String("result_id", doc.ID),
				zap.String("transport", string(ev.Source)),
			)
		}
		return true

	case transport.KindFailed:
		msg := ev.Err
		if msg == "" {
			msg = "analysis failed"
		}
		m.failState(ctx, &Error{Kind: KindJobFailed, Message: msg}, true)
		return true

	default:
		return false
	}
}

// failState transitions to failed unless the state is already terminal.
// releaseGuard is false for rejections that never owned a guard entry.
func (m *Machine) failState(ctx context.Context, werr *Error, releaseGuard bool) {
	m.mu.Lock()
	fp := m.fp
	started := m.state.StartedAt
	applied := false
	m.transitionLocked(func(s *State) {
		s.Status = StatusFailed
		s.Message = werr.Message
		s.Err = werr
		s.CanRetry = werr.Kind.Retryable()
		applied = true
	})
	m.mu.Unlock()
	if !applied {
		return
	}

	if releaseGuard && fp != "" {
		m.registry.Fail(ctx, fp)
	}
	metrics.RecordWorkflowTerminal(string(StatusFailed), m.now().Sub(started).Seconds())
	m.logger.Warn("Workflow failed",
		zap.String("kind", string(werr.Kind)),
		zap.String("message", werr.Message),
		zap.Bool("can_retry", werr.Kind.Retryable()),
	)
}

// transition mutates the state under the lock unless it is already terminal.
// It returns whether the mutation was applied.
func (m *Machine) transition(mutate func(*State)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	applied := false
	m.transitionLocked(func(s *State) {
		mutate(s)
		applied = true
	})
	return applied
}

// transitionLocked applies mutate to a copy of the state and publishes the
// snapshot. Terminal states are immutable: the mutation is skipped entirely.
func (m *Machine) transitionLocked(mutate func(*State)) {
	if m.state.Status.Terminal() {
		return
	}
	next := m.state
	mutate(&next)
	m.state = next
	m.publishLocked(next)
}

// setLocked replaces the state outright; used for the explicit
// submit/retry/reset entry points that may leave a terminal state.
func (m *Machine) setLocked(s State) {
	m.state = s
	m.publishLocked(s)
}

func (m *Machine) publishLocked(s State) {
	select {
	case m.dispatch <- s:
	default:
		m.logger.Warn("State dispatch buffer full, dropping snapshot",
			zap.String("status", string(s.Status)))
	}
}

// dispatchLoop serializes listener callbacks through one goroutine.
func (m *Machine) dispatchLoop() {
	for st := range m.dispatch {
		m.mu.Lock()
		listeners := make([]func(State), len(m.listeners))
		copy(listeners, m.listeners)
		m.mu.Unlock()
		for _, fn := range listeners {
			fn(st)
		}
	}
}

// validate checks that the answer payload is complete: a named assessment and
// all three score batteries.
func validate(answers *api.SubmitRequest) error {
	if answers == nil {
		return fmt.Errorf("%w: missing payload", ErrIncompleteAnswers)
	}
	if answers.AssessmentName == "" {
		return fmt.Errorf("%w: missing assessment name", ErrIncompleteAnswers)
	}
	if len(answers.Riasec) == 0 {
		return fmt.Errorf("%w: missing riasec scores", ErrIncompleteAnswers)
	}
	if len(answers.Ocean) == 0 {
		return fmt.Errorf("%w: missing ocean scores", ErrIncompleteAnswers)
	}
	if len(answers.ViaIs) == 0 {
		return fmt.Errorf("%w: missing via-is scores", ErrIncompleteAnswers)
	}
	return nil
}
