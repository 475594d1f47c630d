package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/talentpath/orchestrator/internal/metrics"
)

// ChannelState is the socket channel lifecycle state.
type ChannelState int

const (
	StateDisconnected ChannelState = iota
	StateConnecting
	StateConnected
	StateAuthenticating
	StateAuthenticated
	StateSubscribed
)

func (s ChannelState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

var (
	ErrAuthFailed       = errors.New("socket authentication failed")
	ErrNotConnected     = errors.New("socket not connected")
	ErrAlreadyConnected = errors.New("socket already connected")
)

// DefaultAuthTimeout is how long the channel waits for the authenticated
// acknowledgment after the handshake is emitted.
const DefaultAuthTimeout = 10 * time.Second

// clientMessage is the envelope for client-emitted frames.
type clientMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
	JobID string `json:"jobId,omitempty"`
}

// serverMessage is the envelope for server frames. Job events carry the
// analysis-* types; everything else is handshake traffic.
type serverMessage struct {
	Type      string `json:"type"`
	UserID    string `json:"userId,omitempty"`
	Email     string `json:"email,omitempty"`
	Message   string `json:"message,omitempty"`
	JobID     string `json:"jobId,omitempty"`
	Status    string `json:"status,omitempty"`
	Progress  *int   `json:"progress,omitempty"`
	ResultID  string `json:"resultId,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Channel owns one websocket connection to the realtime endpoint: connect,
// authenticate, subscribe/unsubscribe per job. It performs no reconnection of
// its own; whether to keep waiting or fall back to polling is the
// coordinator's decision.
type Channel struct {
	url         string
	logger      *zap.Logger
	dialer      *websocket.Dialer
	authTimeout time.Duration

	mu           sync.Mutex
	state        ChannelState
	conn         *websocket.Conn
	pendingJoins []string

	// writeMu serializes frame writes; gorilla/websocket supports only one
	// concurrent writer per connection.
	writeMu sync.Mutex

	events    chan Event
	errs      chan error
	done      chan struct{}
	closeOnce sync.Once
}

// NewChannel creates a socket channel for the given websocket URL.
func NewChannel(url string, logger *zap.Logger) *Channel {
	return &Channel{
		url:         url,
		logger:      logger,
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		authTimeout: DefaultAuthTimeout,
		state:       StateDisconnected,
		events:      make(chan Event, 64),
		errs:        make(chan error, 8),
		done:        make(chan struct{}),
	}
}

// Connect dials the channel, emits the authenticate handshake and blocks
// until the authenticated acknowledgment arrives. A missing acknowledgment
// within the auth timeout is an auth failure: the channel disconnects and
// does not retry.
func (c *Channel) Connect(token string) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, _, err := c.dialer.Dial(c.url, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("socket dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	if err := c.writeJSON(conn, clientMessage{Type: "authenticate", Token: token}); err != nil {
		c.teardown()
		return fmt.Errorf("authenticate handshake: %w", err)
	}
	c.setState(StateAuthenticating)

	authed := make(chan error, 1)
	go c.readPump(authed)

	select {
	case err := <-authed:
		if err != nil {
			metrics.SocketAuthFailures.Inc()
			c.teardown()
			return err
		}
	case <-time.After(c.authTimeout):
		metrics.SocketAuthFailures.Inc()
		c.teardown()
		return fmt.Errorf("%w: no acknowledgment within %s", ErrAuthFailed, c.authTimeout)
	case <-c.done:
		return ErrNotConnected
	}

	c.flushPendingJoins()
	return nil
}

// SubscribeToJob joins the per-job room. Calls made before authentication are
// queued and flushed once the channel authenticates.
func (c *Channel) SubscribeToJob(jobID string) error {
	c.mu.Lock()
	switch c.state {
	case StateAuthenticated, StateSubscribed:
		conn := c.conn
		c.state = StateSubscribed
		c.mu.Unlock()
		if err := c.writeJSON(conn, clientMessage{Type: "join", JobID: jobID}); err != nil {
			return fmt.Errorf("join room: %w", err)
		}
		return nil
	case StateDisconnected:
		c.mu.Unlock()
		return ErrNotConnected
	default:
		c.pendingJoins = append(c.pendingJoins, jobID)
		c.mu.Unlock()
		return nil
	}
}

// Unsubscribe leaves the per-job room. Safe to call in any state.
func (c *Channel) Unsubscribe(jobID string) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateSubscribed || c.state == StateAuthenticated
	c.mu.Unlock()
	if connected && conn != nil {
		_ = c.writeJSON(conn, clientMessage{Type: "leave", JobID: jobID})
	}
}

func (c *Channel) writeJSON(conn *websocket.Conn, msg clientMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// Events returns normalized job lifecycle events.
func (c *Channel) Events() <-chan Event { return c.events }

// Errors surfaces connection-level failures after a successful connect.
func (c *Channel) Errors() <-chan error { return c.errs }

// State returns the current channel state.
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close tears the connection down. Idempotent.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.teardown()
	})
	return nil
}

func (c *Channel) setState(s ChannelState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Channel) teardown() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Channel) flushPendingJoins() {
	c.mu.Lock()
	pending := c.pendingJoins
	c.pendingJoins = nil
	c.mu.Unlock()
	for _, jobID := range pending {
		if err := c.SubscribeToJob(jobID); err != nil {
			c.logger.Warn("Failed to flush queued subscription",
				zap.String("job_id", jobID), zap.Error(err))
		}
	}
}

// readPump reads server frames until the connection drops. The first
// handshake outcome is delivered on authed; job events are normalized onto
// the events channel. Malformed payloads are logged and dropped.
func (c *Channel) readPump(authed chan<- error) {
	awaitingAuth := true
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug("Socket read failed", zap.Error(err))
				select {
				case c.errs <- err:
				default:
				}
			}
			c.teardown()
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("Dropping malformed socket payload", zap.Error(err))
			metrics.TransportEventsDropped.WithLabelValues(string(SourceSocket), "malformed").Inc()
			continue
		}

		switch msg.Type {
		case "authenticated":
			if awaitingAuth {
				awaitingAuth = false
				c.setState(StateAuthenticated)
				c.logger.Info("Socket authenticated",
					zap.String("user_id", msg.UserID),
					zap.String("email", msg.Email),
				)
				authed <- nil
			}
		case "auth_error":
			if awaitingAuth {
				awaitingAuth = false
				authed <- fmt.Errorf("%w: %s", ErrAuthFailed, msg.Message)
				return
			}
		case "analysis-started", "analysis-complete", "analysis-failed":
			ev, ok := c.normalize(msg)
			if !ok {
				c.logger.Warn("Dropping unrecognized job event shape",
					zap.String("type", msg.Type),
					zap.String("status", msg.Status),
				)
				metrics.TransportEventsDropped.WithLabelValues(string(SourceSocket), "malformed").Inc()
				continue
			}
			metrics.RecordTransportEvent(string(SourceSocket), string(ev.Kind))
			select {
			case c.events <- ev:
			default:
				c.logger.Warn("Socket event buffer full, dropping event",
					zap.String("job_id", ev.JobID))
			}
		default:
			c.logger.Debug("Ignoring unknown socket message type",
				zap.String("type", msg.Type))
		}
	}
}

// normalize maps a server job event onto the closed Kind set.
func (c *Channel) normalize(msg serverMessage) (Event, bool) {
	if msg.JobID == "" {
		return Event{}, false
	}

	var kind Kind
	switch msg.Type {
	case "analysis-started":
		// The started event carries the service status; a job may still be
		// queued when the room is joined.
		if k, ok := ParseKind(msg.Status); ok && !k.Terminal() {
			kind = k
		} else {
			kind = KindProcessing
		}
	case "analysis-complete":
		kind = KindCompleted
	case "analysis-failed":
		kind = KindFailed
	default:
		return Event{}, false
	}

	progress := -1
	if msg.Progress != nil {
		progress = *msg.Progress
	}
	if kind == KindCompleted && msg.ResultID == "" {
		return Event{}, false
	}

	return Event{
		JobID:      msg.JobID,
		Kind:       kind,
		Progress:   progress,
		ResultID:   msg.ResultID,
		Err:        msg.Error,
		Source:     SourceSocket,
		ReceivedAt: time.Now(),
	}, true
}
