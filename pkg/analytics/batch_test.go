package analytics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okOp(v any) func(context.Context) (any, error) {
	return func(context.Context) (any, error) { return v, nil }
}

func TestRunBatch_FailFast(t *testing.T) {
	ranLast := false
	ops := []Operation{
		{Name: "first", Run: okOp(1)},
		{Name: "broken", Run: func(context.Context) (any, error) { return nil, errors.New("boom") }},
		{Name: "last", Run: func(context.Context) (any, error) {
			ranLast = true
			return 3, nil
		}},
	}
	res, err := RunBatch(context.Background(), ops, BatchOptions{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "broken: boom", res.ErrorMessage)
	assert.Equal(t, map[string]any{"first": 1}, res.Results, "completed results are kept")
	assert.Equal(t, 2, res.QueriesExecuted)
	assert.False(t, ranLast)
}

func TestRunBatch_ContinueOnError(t *testing.T) {
	ops := []Operation{
		{Name: "first", Run: okOp(1)},
		{Name: "broken", Run: func(context.Context) (any, error) { return nil, errors.New("boom") }},
		{Name: "last", Run: okOp(3)},
	}
	res, err := RunBatch(context.Background(), ops, BatchOptions{ContinueOnError: true})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.QueriesExecuted)
	assert.Equal(t, map[string]any{"first": 1, "last": 3}, res.Results)
	assert.Equal(t, map[string]string{"broken": "boom"}, res.Failures)
}

func TestRunBatch_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ops := []Operation{
		{Name: "first", Run: func(context.Context) (any, error) {
			cancel()
			return 1, nil
		}},
		{Name: "second", Run: okOp(2)},
	}
	res, err := RunBatch(ctx, ops, BatchOptions{ContinueOnError: true})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.QueriesExecuted)
	assert.Contains(t, res.Results, "first")
}

func TestRunBatch_Empty(t *testing.T) {
	res, err := RunBatch(context.Background(), nil, BatchOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Zero(t, res.QueriesExecuted)
}

func TestEngine_Batch(t *testing.T) {
	e, _ := newTestEngine(mixedEvents())
	ctx := context.Background()
	params := BatchParams{Query: window()}

	res, err := e.Batch(ctx, []BatchQuery{
		{ID: "summary", Type: "summary", Params: params},
		{ID: "cats", Type: "top_categories", Params: params},
		{ID: "corr", Type: "correlations", Params: BatchParams{Query: window(), CorrelationType: "category_malware"}},
	}, &tenantA, BatchOptions{})
	require.NoError(t, err)
	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, 3, res.QueriesExecuted)

	summary, isSummary := res.Results["summary"].(ThreatEventSummary)
	require.True(t, isSummary)
	assert.Equal(t, 3, summary.TotalEvents, "batch tenant overrides the query")

	res, err = e.Batch(ctx, []BatchQuery{
		{ID: "summary", Type: "summary", Params: params},
		{ID: "bad", Type: "correlations", Params: BatchParams{Query: window(), CorrelationType: "unknown"}},
		{ID: "never", Type: "summary", Params: params},
	}, nil, BatchOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "bad")
	assert.Equal(t, 2, res.QueriesExecuted)
	assert.NotContains(t, res.Results, "never")
}

func TestEngine_BatchRejectsMalformed(t *testing.T) {
	e, store := newTestEngine(mixedEvents())
	ctx := context.Background()

	_, err := e.Batch(ctx, []BatchQuery{{ID: "x", Type: "attribution"}}, nil, BatchOptions{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.Batch(ctx, []BatchQuery{{ID: "x", Type: "summary"}, {ID: "x", Type: "asns"}}, nil, BatchOptions{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.Batch(ctx, []BatchQuery{{Type: "summary"}}, nil, BatchOptions{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Zero(t, store.acquired)
	assert.Contains(t, QueryTypes(), "landscape")
}
