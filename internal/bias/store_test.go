package bias

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePersister struct {
	mu      sync.Mutex
	records []Record
	upserts []Record
	failAll bool
}

func (f *fakePersister) LoadAllBiases(context.Context) ([]Record, error) {
	if f.failAll {
		return nil, fmt.Errorf("db 不可用")
	}
	return f.records, nil
}

func (f *fakePersister) UpsertBias(_ context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return fmt.Errorf("db 不可用")
	}
	f.upserts = append(f.upserts, rec)
	return nil
}

func TestApplyDeltaDefaultsToZero(t *testing.T) {
	store := NewStore(&fakePersister{})
	got, err := store.ApplyDelta(context.Background(), "BTC", Triple{Bull: 0.1})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, got.Bull, 1e-9)
	assert.Zero(t, got.Bear)
	assert.Zero(t, got.Vol)
}

func TestApplyDeltaClampsEachComponent(t *testing.T) {
	store := NewStore(nil)
	_, err := store.ApplyDelta(context.Background(), "BTC", Triple{Bull: 0.9, Bear: -0.9})
	require.NoError(t, err)
	got, err := store.ApplyDelta(context.Background(), "BTC", Triple{Bull: 0.5, Bear: -0.5, Vol: 0.2})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got.Bull, 1e-9)
	assert.InDelta(t, -1.0, got.Bear, 1e-9)
	assert.InDelta(t, 0.2, got.Vol, 1e-9)
}

func TestApplyDeltaZeroIsIdempotent(t *testing.T) {
	store := NewStore(nil)
	first, err := store.ApplyDelta(context.Background(), "ETH", Triple{Bull: 0.3})
	require.NoError(t, err)
	second, err := store.ApplyDelta(context.Background(), "ETH", Triple{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestApplyDeltaWritesThrough(t *testing.T) {
	p := &fakePersister{}
	store := NewStore(p)
	_, err := store.ApplyDelta(context.Background(), "BTC", Triple{Vol: 0.2})
	require.NoError(t, err)
	require.Len(t, p.upserts, 1)
	assert.Equal(t, "BTC", p.upserts[0].AssetID)
	assert.InDelta(t, 0.2, p.upserts[0].Bias.Vol, 1e-9)
	assert.False(t, p.upserts[0].LastUpdated.IsZero())
}

func TestApplyDeltaSurvivesPersistFailure(t *testing.T) {
	store := NewStore(&fakePersister{failAll: true})
	got, err := store.ApplyDelta(context.Background(), "BTC", Triple{Bull: 0.05})
	require.NoError(t, err)
	assert.InDelta(t, 0.05, got.Bull, 1e-9)
	assert.InDelta(t, 0.05, store.Get("BTC").Bull, 1e-9)
}

func TestApplyDeltaRejectsEmptyAsset(t *testing.T) {
	store := NewStore(nil)
	_, err := store.ApplyDelta(context.Background(), "", Triple{Bull: 0.1})
	assert.Error(t, err)
}

func TestLoadReplacesSnapshot(t *testing.T) {
	p := &fakePersister{records: []Record{
		{AssetID: "BTC", Bias: Triple{Bull: 0.2}},
		{AssetID: "ETH", Bias: Triple{Bear: -0.1}},
	}}
	store := NewStore(p)
	require.NoError(t, store.Load(context.Background()))

	snap := store.Snapshot()
	require.Len(t, snap, 2)
	assert.InDelta(t, 0.2, snap["BTC"].Bull, 1e-9)
	assert.InDelta(t, -0.1, snap["ETH"].Bear, 1e-9)
	assert.Zero(t, store.Get("SOL"))
}

func TestLoadFailureKeepsEmptyStore(t *testing.T) {
	store := NewStore(&fakePersister{failAll: true})
	assert.Error(t, store.Load(context.Background()))
	assert.Empty(t, store.Snapshot())
}

func TestConcurrentUpdatesSameAsset(t *testing.T) {
	store := NewStore(nil)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.ApplyDelta(context.Background(), "BTC", Triple{Bull: 0.005})
		}()
	}
	wg.Wait()
	assert.InDelta(t, 0.5, store.Get("BTC").Bull, 1e-9)
}
