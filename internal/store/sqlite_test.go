package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crop-advisor/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_RunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	params := model.RunParams{Years: 5, Seed: 42, Iterations: 500, LearningRate: 0.5, Input: "rows.csv"}
	run, err := st.CreateRun(ctx, params)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	result := &model.RunResult{
		Records:       120,
		TrainRecords:  96,
		TestRecords:   24,
		SplitStrategy: "temporal_holdout",
		TestAccuracy:  0.875,
		TestF1:        0.8,
		ModelPath:     "models/crop_recommendation_20250101_000000.model",
	}
	require.NoError(t, st.CompleteRun(ctx, run.ID, result))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	assert.Equal(t, params, got.Params)
	require.NotNil(t, got.Result)
	assert.Equal(t, *result, *got.Result)
	assert.Empty(t, got.Error)
}

func TestSQLite_FailRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, model.RunParams{Years: 2})
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, run.ID, "labeling: no positive labels"))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, "labeling: no positive labels", got.Error)
	assert.Nil(t, got.Result)
}

func TestSQLite_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetRun(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	err = st.CompleteRun(ctx, "missing", &model.RunResult{})
	assert.True(t, errors.Is(err, ErrNotFound))

	err = st.FailRun(ctx, "missing", "x")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		run, err := st.CreateRun(ctx, model.RunParams{Years: i + 2})
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}
	require.NoError(t, st.FailRun(ctx, ids[1], "boom"))

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	failed, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, ids[1], failed[0].ID)

	limited, err := st.ListRuns(ctx, RunFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	rest, err := st.ListRuns(ctx, RunFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Migrate(context.Background()))
}

func TestLimitOrDefault(t *testing.T) {
	assert.Equal(t, DefaultListLimit, limitOrDefault(0))
	assert.Equal(t, DefaultListLimit, limitOrDefault(-3))
	assert.Equal(t, 7, limitOrDefault(7))
}

var (
	_ Store     = (*SQLiteStore)(nil)
	_ Store     = (*PostgresStore)(nil)
	_ Publisher = (*PostgresStore)(nil)
)
