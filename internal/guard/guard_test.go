package guard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/talentpath/orchestrator/internal/api"
	"github.com/talentpath/orchestrator/internal/store"
)

func testPayload() *api.SubmitRequest {
	return &api.SubmitRequest{
		AssessmentName: "via-is",
		Riasec:         map[string]float64{"realistic": 4.2, "artistic": 3.1},
		Ocean:          map[string]float64{"openness": 3.9, "neuroticism": 2.2},
		ViaIs:          map[string]float64{"curiosity": 4.8},
	}
}

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewRegistry(st, zap.NewNop(), opts...)
}

func TestFingerprintKeyOrderIndependent(t *testing.T) {
	a := testPayload()

	// Same scores, different insertion order.
	b := &api.SubmitRequest{
		AssessmentName: "via-is",
		Riasec:         map[string]float64{"artistic": 3.1, "realistic": 4.2},
		Ocean:          map[string]float64{"neuroticism": 2.2, "openness": 3.9},
		ViaIs:          map[string]float64{"curiosity": 4.8},
	}

	fpA, err := FingerprintOf(a)
	require.NoError(t, err)
	fpB, err := FingerprintOf(b)
	require.NoError(t, err)
	assert.Equal(t, fpA, fpB)

	// A different score must change the digest.
	b.Ocean["openness"] = 4.0
	fpC, err := FingerprintOf(b)
	require.NoError(t, err)
	assert.NotEqual(t, fpA, fpC)
}

func TestBeginBlocksDuplicate(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	fp, err := FingerprintOf(testPayload())
	require.NoError(t, err)

	entry, err := r.Begin(ctx, fp)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.SubmissionID)
	assert.Equal(t, 1, r.Active())

	_, err = r.Begin(ctx, fp)
	assert.ErrorIs(t, err, ErrDuplicateSubmission)
}

func TestEntryCeilingReclaimed(t *testing.T) {
	base := time.Now()
	now := base
	r := newTestRegistry(t, WithClock(func() time.Time { return now }), WithCooldown(0))

	ctx := context.Background()
	fp, err := FingerprintOf(testPayload())
	require.NoError(t, err)

	_, err = r.Begin(ctx, fp)
	require.NoError(t, err)

	// Within the ceiling the entry still blocks.
	now = base.Add(4 * time.Minute)
	_, err = r.Begin(ctx, fp)
	assert.ErrorIs(t, err, ErrDuplicateSubmission)

	// Past the 5-minute ceiling the abandoned entry is reclaimed.
	now = base.Add(6 * time.Minute)
	_, err = r.Begin(ctx, fp)
	assert.NoError(t, err)
	assert.Equal(t, 1, r.Active())
}

func TestCooldownSurvivesFreshInstance(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	fp, err := FingerprintOf(testPayload())
	require.NoError(t, err)

	first := NewRegistry(st, zap.NewNop())
	_, err = first.Begin(ctx, fp)
	require.NoError(t, err)
	first.Complete(ctx, fp)

	// A fresh registry over the same store must still block identical content.
	second := NewRegistry(st, zap.NewNop())
	_, err = second.Begin(ctx, fp)
	assert.ErrorIs(t, err, ErrDuplicateSubmission)
}

func TestFailClearsCooldown(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	fp, err := FingerprintOf(testPayload())
	require.NoError(t, err)

	_, err = r.Begin(ctx, fp)
	require.NoError(t, err)
	r.Fail(ctx, fp)

	// A retry right after a failure must not be cooldown-blocked.
	_, err = r.Begin(ctx, fp)
	assert.NoError(t, err)
}

func TestRateLimit(t *testing.T) {
	r := newTestRegistry(t, WithRateLimit(2, time.Minute), WithCooldown(0))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		payload := testPayload()
		payload.ViaIs["curiosity"] = float64(i)
		fp, err := FingerprintOf(payload)
		require.NoError(t, err)
		_, err = r.Begin(ctx, fp)
		require.NoError(t, err)
	}

	payload := testPayload()
	payload.ViaIs["curiosity"] = 99
	fp, err := FingerprintOf(payload)
	require.NoError(t, err)
	_, err = r.Begin(ctx, fp)
	assert.ErrorIs(t, err, ErrRateLimited)
}
