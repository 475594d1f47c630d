package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubPinger struct {
	err error
}

func (s *stubPinger) Ping(ctx context.Context) error { return s.err }

func TestStoreChecker(t *testing.T) {
	ok := NewStoreChecker("store", &stubPinger{})
	res := ok.Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)

	bad := NewStoreChecker("store", &stubPinger{err: errors.New("connection refused")})
	res = bad.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Contains(t, res.Error, "connection refused")
}

func TestAPICheckerCountsAnyResponseAsHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	res := NewAPIChecker(srv.URL).Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)
}

func TestAPICheckerUnreachable(t *testing.T) {
	res := NewAPIChecker("http://127.0.0.1:1").Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
}

func TestManagerAggregatesResults(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.RegisterChecker(NewStoreChecker("good", &stubPinger{}))

	assert.False(t, m.Healthy(), "no results before the first run")
	m.runChecks(context.Background())
	assert.True(t, m.Healthy())

	m.RegisterChecker(NewStoreChecker("bad", &stubPinger{err: errors.New("down")}))
	m.runChecks(context.Background())
	assert.False(t, m.Healthy())

	results := m.Results()
	require.Len(t, results, 2)
	assert.Equal(t, StatusUnhealthy, results["bad"].Status)
}

func TestHealthEndpoints(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.RegisterChecker(NewStoreChecker("store", &stubPinger{}))
	m.runChecks(context.Background())

	mux := http.NewServeMux()
	m.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
