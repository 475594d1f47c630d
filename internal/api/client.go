package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Config holds API client configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the remote assessment service over HTTP.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a new assessment API client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Submit posts an assessment payload and returns the job acknowledgment.
func (c *Client) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/assessment/submit", req, &resp); err != nil {
		return nil, err
	}
	if resp.JobID == "" {
		return nil, &RequestError{Op: "submit", Cause: fmt.Errorf("response missing jobId")}
	}
	return &resp, nil
}

// Status fetches the current status of a job.
func (c *Client) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	var st JobStatus
	if err := c.do(ctx, http.MethodGet, "/assessment/status/"+jobID, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Result fetches a result document from the primary results endpoint.
func (c *Client) Result(ctx context.Context, resultID string) (*ResultDocument, error) {
	var doc ResultDocument
	if err := c.do(ctx, http.MethodGet, "/results/"+resultID, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ArchivedResult fetches a result document from the secondary archive endpoint.
func (c *Client) ArchivedResult(ctx context.Context, resultID string) (*ResultDocument, error) {
	var doc ResultDocument
	if err := c.do(ctx, http.MethodGet, "/assessment/archive/"+resultID, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	op := method + " " + path

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &RequestError{Op: op, Cause: fmt.Errorf("marshal request: %w", err)}
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rd)
	if err != nil {
		return &RequestError{Op: op, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &RequestError{Op: op, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		cause := c.errorForStatus(resp.StatusCode, data)
		return &RequestError{Op: op, StatusCode: resp.StatusCode, Cause: cause}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RequestError{Op: op, Cause: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorForStatus maps an HTTP status to a sentinel when one applies.
func (c *Client) errorForStatus(code int, body []byte) error {
	msg := serviceMessage(body)
	switch {
	case code == http.StatusUnauthorized:
		if msg != "" {
			return fmt.Errorf("%w: %s", ErrAuth, msg)
		}
		return ErrAuth
	case code == http.StatusPaymentRequired:
		if msg != "" {
			return fmt.Errorf("%w: %s", ErrInsufficientTokens, msg)
		}
		return ErrInsufficientTokens
	case code == http.StatusNotFound:
		return ErrNotFound
	default:
		if msg != "" {
			return fmt.Errorf("service error: %s", msg)
		}
		return fmt.Errorf("unexpected status %d", code)
	}
}

// serviceMessage extracts the error message from a service error body, if any.
func serviceMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Error != "" {
		return payload.Error
	}
	return payload.Message
}
