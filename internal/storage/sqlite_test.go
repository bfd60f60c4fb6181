package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bmadloop/internal/domain"
)

func testRun(state domain.RunState) *domain.StoryRun {
	run := &domain.StoryRun{
		Story: domain.Story{
			ID:  domain.StoryID{Epic: 5, Seq: 2},
			Key: "5-2-user-auth",
		},
		State:     state,
		StartTime: time.Now().Add(-time.Minute),
		EndTime:   time.Now(),
		Duration:  time.Minute,
	}

	attempt := domain.NewAttempt(1)
	attempt.Steps[0].Status = domain.StepSuccess
	attempt.Steps[0].Output = []string{"story 5-2-user-auth: status=in-progress tasks=2/2"}
	attempt.Steps[0].Duration = 2 * time.Second
	codeExists := true
	attempt.Verdict = &domain.Verdict{
		StoryID: run.Story.ID,
		Mode:    domain.ModeDeep,
		Passed:  state == domain.RunSucceeded,
		Checks: []domain.Check{
			{Name: domain.CheckImplFiles, Passed: true, Detail: "found 3 implementation files"},
			{Name: domain.CheckTestsPass, Passed: state == domain.RunSucceeded},
		},
		Remediation:     domain.RemediationNone,
		CodeImplemented: &codeExists,
		Summary:         "Implemented.",
	}
	run.Attempts = []*domain.Attempt{attempt}
	return run
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewInMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndGetRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.SaveRun(ctx, testRun(domain.RunSucceeded))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := store.GetRun(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, "5-2", rec.StoryID)
	assert.Equal(t, "5-2-user-auth", rec.StoryKey)
	assert.Equal(t, domain.RunSucceeded, rec.State)
	assert.Equal(t, time.Minute, rec.Duration)

	require.Len(t, rec.Attempts, 1)
	attempt := rec.Attempts[0]
	assert.Equal(t, 1, attempt.Index)
	assert.Equal(t, domain.ModeDeep, attempt.VerdictMode)
	assert.True(t, attempt.VerdictPassed)
	require.NotNil(t, attempt.CodeImplemented)
	assert.True(t, *attempt.CodeImplemented)
	require.Len(t, attempt.Checks, 2)
	assert.Equal(t, domain.CheckImplFiles, attempt.Checks[0].Name)
	require.Len(t, attempt.Steps, len(domain.PipelineSteps()))

	// GetRun omits output; the size is still recorded.
	assert.Equal(t, 1, attempt.Steps[0].OutputSize)
	assert.Empty(t, attempt.Steps[0].Output)
}

func TestGetRunWithOutput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.SaveRun(ctx, testRun(domain.RunSucceeded))
	require.NoError(t, err)

	rec, err := store.GetRunWithOutput(ctx, id)
	require.NoError(t, err)
	require.Len(t, rec.Attempts[0].Steps[0].Output, 1)
	assert.Contains(t, rec.Attempts[0].Steps[0].Output[0], "tasks=2/2")
}

func TestGetRunStepOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Steps must come back in execution order, not in the incidental
	// order of their random row ids.
	id, err := store.SaveRun(ctx, testRun(domain.RunSucceeded))
	require.NoError(t, err)

	rec, err := store.GetRun(ctx, id)
	require.NoError(t, err)

	want := domain.PipelineSteps()
	require.Len(t, rec.Attempts[0].Steps, len(want))
	for i, step := range rec.Attempts[0].Steps {
		assert.Equal(t, want[i], step.StepName, "step %d", i)
	}
}

func TestGetRunNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetRun(context.Background(), "missing")
	assert.Error(t, err)
}

func TestListAndCountRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.SaveRun(ctx, testRun(domain.RunSucceeded))
	require.NoError(t, err)
	_, err = store.SaveRun(ctx, testRun(domain.RunAbandoned))
	require.NoError(t, err)

	t.Run("unfiltered", func(t *testing.T) {
		recs, err := store.ListRuns(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})

	t.Run("by state", func(t *testing.T) {
		recs, err := store.ListRuns(ctx, &RunFilter{State: domain.RunAbandoned})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, domain.RunAbandoned, recs[0].State)
	})

	t.Run("by story", func(t *testing.T) {
		count, err := store.CountRuns(ctx, &RunFilter{StoryID: "5-2"})
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		count, err = store.CountRuns(ctx, &RunFilter{StoryID: "9-9"})
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("limit", func(t *testing.T) {
		recs, err := store.ListRuns(ctx, &RunFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})
}

func TestDeleteRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.SaveRun(ctx, testRun(domain.RunSucceeded))
	require.NoError(t, err)

	require.NoError(t, store.DeleteRun(ctx, id))
	_, err = store.GetRun(ctx, id)
	assert.Error(t, err)

	// Cascade removed the attempts too.
	count := -1
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM attempts").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestGetStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("empty history", func(t *testing.T) {
		stats, err := store.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.TotalRuns)
		assert.Equal(t, float64(0), stats.AvgAttempts)
	})

	t.Run("aggregates", func(t *testing.T) {
		_, err := store.SaveRun(ctx, testRun(domain.RunSucceeded))
		require.NoError(t, err)
		_, err = store.SaveRun(ctx, testRun(domain.RunAbandoned))
		require.NoError(t, err)

		stats, err := store.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.TotalRuns)
		assert.Equal(t, 1, stats.Succeeded)
		assert.Equal(t, 1, stats.Abandoned)
		assert.Equal(t, time.Minute, stats.AvgDuration)
		assert.Equal(t, float64(1), stats.AvgAttempts)
	})
}
