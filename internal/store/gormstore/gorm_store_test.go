package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnagent/internal/bias"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	store, err := NewGormStore(filepath.Join(t.TempDir(), "learnagent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBiasUpsertAndLoadAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertBias(ctx, bias.Record{
		AssetID: "BTC",
		Bias:    bias.Triple{Bull: 0.2, Bear: -0.1, Vol: 0.05},
	}))
	require.NoError(t, store.UpsertBias(ctx, bias.Record{
		AssetID: "BTC",
		Bias:    bias.Triple{Bull: 0.25},
	}))
	require.NoError(t, store.UpsertBias(ctx, bias.Record{
		AssetID: "ETH",
		Bias:    bias.Triple{Vol: 0.3},
	}))

	records, err := store.LoadAllBiases(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byAsset := map[string]bias.Record{}
	for _, rec := range records {
		byAsset[rec.AssetID] = rec
	}
	assert.InDelta(t, 0.25, byAsset["BTC"].Bias.Bull, 1e-9)
	assert.Zero(t, byAsset["BTC"].Bias.Bear)
	assert.InDelta(t, 0.3, byAsset["ETH"].Bias.Vol, 1e-9)
	assert.False(t, byAsset["BTC"].LastUpdated.IsZero())
}

func TestUpsertBiasRequiresAssetID(t *testing.T) {
	store := newTestStore(t)
	assert.Error(t, store.UpsertBias(context.Background(), bias.Record{}))
}

func TestLearningRunRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendLearningRun(ctx, LearningRunRecord{
		RunID:         "run-1",
		CorrelationID: "corr-1",
		State:         "success",
		DeltasJSON:    []byte(`{"asset_biases":{"BTC":0.05}}`),
		ReasoningJSON: []byte(`["Asset BTC: score 0.80"]`),
		CreatedAt:     time.Now().Add(-time.Minute),
	}))
	require.NoError(t, store.AppendLearningRun(ctx, LearningRunRecord{
		RunID: "run-2",
		State: "warmup",
	}))

	runs, err := store.ListRecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Equal(t, "run-1", runs[1].RunID)
	assert.JSONEq(t, `{"asset_biases":{"BTC":0.05}}`, string(runs[1].DeltasJSON))
	assert.JSONEq(t, `[]`, string(runs[0].ReasoningJSON))
}

func TestAppendLearningRunRequiresRunID(t *testing.T) {
	store := newTestStore(t)
	assert.Error(t, store.AppendLearningRun(context.Background(), LearningRunRecord{}))
}
