package vectorstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profile-indexer/domain"
)

func newTestBadger(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadgerStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestBadger(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, ok, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	want := domain.IndexEntry{ProfileID: 1, Vector: domain.Embedding{0.6, 0.8}, Fingerprint: "abc", EncoderVersion: "v1", UpdatedAt: at}
	require.NoError(t, s.Upsert(ctx, want))

	got, ok, err := s.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Vector, got.Vector)
	assert.Equal(t, want.Fingerprint, got.Fingerprint)
	assert.Equal(t, want.EncoderVersion, got.EncoderVersion)
	assert.True(t, at.Equal(got.UpdatedAt))

	want.Fingerprint = "def"
	require.NoError(t, s.Upsert(ctx, want))
	got, _, _ = s.Get(ctx, 1)
	assert.Equal(t, domain.Fingerprint("def"), got.Fingerprint)

	require.NoError(t, s.Delete(ctx, 1))
	require.NoError(t, s.Delete(ctx, 1))
	_, ok, err = s.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBadgerStore_GetManyAndCounts(t *testing.T) {
	ctx := context.Background()
	s := newTestBadger(t)
	for id, ver := range map[int64]string{1: "v1", 2: "v1", 300: "v2"} {
		require.NoError(t, s.Upsert(ctx, domain.IndexEntry{ProfileID: id, Vector: domain.Embedding{1}, EncoderVersion: ver}))
	}

	many, err := s.GetMany(ctx, []int64{1, 5, 300})
	require.NoError(t, err)
	assert.Len(t, many, 2)
	assert.Equal(t, int64(300), many[300].ProfileID)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	counts, err := s.CountByVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"v1": 2, "v2": 1}, counts)
}

func TestBadgerStore_ConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	s := newTestBadger(t)
	var wg sync.WaitGroup
	for i := int64(1); i <= 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			assert.NoError(t, s.Upsert(ctx, domain.IndexEntry{ProfileID: id, Vector: domain.Embedding{1, 0}, EncoderVersion: "v1"}))
		}(i)
	}
	wg.Wait()
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}

func TestEntryKey(t *testing.T) {
	assert.Equal(t, int64(258), profileIDFromKey(entryKey(258)))
	assert.Less(t, string(entryKey(2)), string(entryKey(10)))
}
