package health

import (
	"context"
	"net/http"
	"time"
)

// Pinger is anything with a connection to verify; both store backends
// implement it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker verifies the persistence collaborator.
type StoreChecker struct {
	name   string
	pinger Pinger
}

// NewStoreChecker creates a checker for the key-value store.
func NewStoreChecker(name string, p Pinger) *StoreChecker {
	return &StoreChecker{name: name, pinger: p}
}

func (c *StoreChecker) Name() string { return c.name }

func (c *StoreChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	res := CheckResult{Component: c.name, Status: StatusHealthy, Timestamp: start}
	if err := c.pinger.Ping(ctx); err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
	}
	res.Duration = time.Since(start)
	return res
}

// APIChecker verifies the remote assessment service is reachable.
type APIChecker struct {
	baseURL string
	client  *http.Client
}

// NewAPIChecker creates a reachability checker for the assessment API.
func NewAPIChecker(baseURL string) *APIChecker {
	return &APIChecker{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *APIChecker) Name() string { return "assessment-api" }

func (c *APIChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	res := CheckResult{Component: c.Name(), Status: StatusHealthy, Timestamp: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL, nil)
	if err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
		res.Duration = time.Since(start)
		return res
	}
	resp, err := c.client.Do(req)
	if err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
	} else {
		resp.Body.Close()
		// Any HTTP response means the service answered; auth failures are
		// someone else's problem.
	}
	res.Duration = time.Since(start)
	return res
}
