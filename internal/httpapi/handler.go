// Package httpapi is the thin HTTP facade over the workflow state machine:
// submit, inspect, cancel, retry, reset, and a live state stream.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/talentpath/orchestrator/internal/api"
	"github.com/talentpath/orchestrator/internal/guard"
	"github.com/talentpath/orchestrator/internal/workflow"
)

// Handler serves the workflow over HTTP.
type Handler struct {
	machine *workflow.Machine
	logger  *zap.Logger

	mu   sync.Mutex
	subs map[chan workflow.State]struct{}
}

// NewHandler creates the HTTP facade and subscribes to machine state.
func NewHandler(machine *workflow.Machine, logger *zap.Logger) *Handler {
	h := &Handler{
		machine: machine,
		logger:  logger,
		subs:    make(map[chan workflow.State]struct{}),
	}
	machine.Subscribe(h.broadcast)
	return h
}

// RegisterRoutes registers the workflow endpoints on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/workflow/submit", h.handleSubmit)
	mux.HandleFunc("/workflow/state", h.handleState)
	mux.HandleFunc("/workflow/cancel", h.handleCancel)
	mux.HandleFunc("/workflow/retry", h.handleRetry)
	mux.HandleFunc("/workflow/reset", h.handleReset)
	mux.HandleFunc("/workflow/events", h.handleEvents)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.machine.Submit(r.Context(), &req); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, workflow.ErrNotIdle),
			errors.Is(err, guard.ErrDuplicateSubmission):
			status = http.StatusConflict
		case errors.Is(err, guard.ErrRateLimited):
			status = http.StatusTooManyRequests
		case errors.Is(err, workflow.ErrIncompleteAnswers):
			status = http.StatusBadRequest
		default:
			var werr *workflow.Error
			if errors.As(err, &werr) && werr.Kind == workflow.KindValidation {
				status = http.StatusBadRequest
			}
		}
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(h.machine.CurrentState())
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.machine.CurrentState())
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	_ = h.machine.Cancel(r.Context())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.machine.CurrentState())
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := h.machine.Retry(r.Context()); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.machine.CurrentState())
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := h.machine.Reset(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.machine.CurrentState())
}

// handleEvents streams state snapshots as server-sent events.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan workflow.State, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}()

	// Send the current snapshot first so late subscribers see something.
	writeEvent(w, h.machine.CurrentState())
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case st := <-ch:
			writeEvent(w, st)
			flusher.Flush()
		}
	}
}

func (h *Handler) broadcast(st workflow.State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- st:
		default:
			// Drop for slow subscribers.
		}
	}
}

func writeEvent(w http.ResponseWriter, st workflow.State) {
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n\n"))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
