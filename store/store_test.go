package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/spirit-labs/aggstore/conf"
	"github.com/spirit-labs/aggstore/errors"
	"github.com/spirit-labs/aggstore/iteration"
	"github.com/spirit-labs/aggstore/objstore"
	"github.com/spirit-labs/aggstore/objstore/dev"
	"github.com/spirit-labs/aggstore/row"
	"github.com/spirit-labs/aggstore/types"
	"github.com/stretchr/testify/require"
)

var testSchema = row.NewSchema([]string{"v"}, []types.ColumnType{types.ColumnTypeString})

func testConfig() conf.Config {
	cfg := conf.Config{ObjectStoreType: conf.ObjectStoreTypeDev}
	cfg.ApplyDefaults()
	return cfg
}

func setupProvider(t *testing.T, cfg conf.Config, objStore objstore.Client) *Provider {
	t.Helper()
	p, err := NewProvider(ID{Partition: 3, StoreName: "test"}, testSchema, cfg, objStore)
	require.NoError(t, err)
	require.NoError(t, p.Open(context.Background()))
	return p
}

func openStore(t *testing.T, p *Provider) Store {
	t.Helper()
	st, err := p.GetStore(p.LatestVersion())
	require.NoError(t, err)
	return st
}

func key(i int) []byte {
	return []byte(fmt.Sprintf("key-%05d", i))
}

func value(i int) []byte {
	return []byte(fmt.Sprintf("value-%05d", i))
}

func writeKVs(t *testing.T, st Store, start int, end int) {
	t.Helper()
	for i := start; i < end; i++ {
		require.NoError(t, st.Put(key(i), value(i)))
	}
}

func expectEntries(t *testing.T, iter iteration.Iterator, keys ...int) {
	t.Helper()
	for _, k := range keys {
		valid, kv, err := iter.Next()
		require.NoError(t, err)
		require.True(t, valid)
		require.Equal(t, string(key(k)), string(kv.Key))
		require.Equal(t, string(value(k)), string(kv.Value))
	}
	valid, _, err := iter.Next()
	require.NoError(t, err)
	require.False(t, valid)
}

func TestPutGetRemove(t *testing.T) {
	p := setupProvider(t, testConfig(), nil)
	st := openStore(t, p)
	writeKVs(t, st, 0, 10)
	for i := 0; i < 10; i++ {
		v, err := st.Get(key(i))
		require.NoError(t, err)
		require.Equal(t, value(i), v)
	}
	v, err := st.Get(key(10))
	require.NoError(t, err)
	require.Nil(t, v)

	require.NoError(t, st.Remove(key(3)))
	v, err = st.Get(key(3))
	require.NoError(t, err)
	require.Nil(t, v)

	// removing a missing key is not an error
	require.NoError(t, st.Remove(key(100)))
}

func TestPutCopiesValue(t *testing.T) {
	p := setupProvider(t, testConfig(), nil)
	st := openStore(t, p)
	val := []byte("original")
	require.NoError(t, st.Put(key(1), val))
	copy(val, "mutated!")
	v, err := st.Get(key(1))
	require.NoError(t, err)
	require.Equal(t, "original", string(v))
}

func TestIterateMergesWritesOverCommitted(t *testing.T) {
	p := setupProvider(t, testConfig(), nil)
	st := openStore(t, p)
	writeKVs(t, st, 0, 10)
	_, err := st.Commit(context.Background())
	require.NoError(t, err)

	st = openStore(t, p)
	require.NoError(t, st.Remove(key(2)))
	require.NoError(t, st.Remove(key(7)))
	writeKVs(t, st, 10, 12)
	iter, err := st.NewIterator(nil, nil)
	require.NoError(t, err)
	expectEntries(t, iter, 0, 1, 3, 4, 5, 6, 8, 9, 10, 11)
}

func TestIterateInRange(t *testing.T) {
	p := setupProvider(t, testConfig(), nil)
	st := openStore(t, p)
	writeKVs(t, st, 0, 5)
	_, err := st.Commit(context.Background())
	require.NoError(t, err)
	st = openStore(t, p)
	writeKVs(t, st, 5, 10)

	iter, err := st.NewIterator(key(3), key(7))
	require.NoError(t, err)
	expectEntries(t, iter, 3, 4, 5, 6)

	iter, err = st.NewIterator(key(8), nil)
	require.NoError(t, err)
	expectEntries(t, iter, 8, 9)

	iter, err = st.NewIterator(nil, key(2))
	require.NoError(t, err)
	expectEntries(t, iter, 0, 1)
}

func TestIterateEmptyRange(t *testing.T) {
	p := setupProvider(t, testConfig(), nil)
	st := openStore(t, p)
	writeKVs(t, st, 0, 5)
	_, err := st.Commit(context.Background())
	require.NoError(t, err)
	st = openStore(t, p)
	writeKVs(t, st, 5, 10)

	iter, err := st.NewIterator(key(3), key(3))
	require.NoError(t, err)
	expectEntries(t, iter)

	iter, err = st.NewIterator(key(7), key(2))
	require.NoError(t, err)
	expectEntries(t, iter)
}

func TestIteratorDoesNotSeeLaterWrites(t *testing.T) {
	p := setupProvider(t, testConfig(), nil)
	st := openStore(t, p)
	writeKVs(t, st, 0, 3)
	iter, err := st.NewIterator(nil, nil)
	require.NoError(t, err)
	require.NoError(t, st.Remove(key(1)))
	writeKVs(t, st, 3, 4)
	expectEntries(t, iter, 0, 1, 2)
}

func TestMetricsTrackNetInserts(t *testing.T) {
	p := setupProvider(t, testConfig(), nil)
	st := openStore(t, p)
	writeKVs(t, st, 0, 10)
	require.Equal(t, int64(10), st.Metrics().NumKeys)
	expectedBytes := int64(10 * (len(key(0)) + len(value(0))))
	require.Equal(t, expectedBytes, st.Metrics().MemoryUsedBytes)

	// overwrite does not change the key count
	require.NoError(t, st.Put(key(0), []byte("x")))
	require.Equal(t, int64(10), st.Metrics().NumKeys)
	require.Equal(t, expectedBytes-int64(len(value(0))-1), st.Metrics().MemoryUsedBytes)

	require.NoError(t, st.Remove(key(1)))
	require.NoError(t, st.Remove(key(1)))
	require.Equal(t, int64(9), st.Metrics().NumKeys)

	_, err := st.Commit(context.Background())
	require.NoError(t, err)
	view, err := p.GetView(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, st.Metrics(), view.Metrics())
}

func TestVersionIsolation(t *testing.T) {
	p := setupProvider(t, testConfig(), nil)
	st := openStore(t, p)
	require.Equal(t, int64(0), st.Version())
	writeKVs(t, st, 0, 5)
	ver, err := st.Commit(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), ver)
	require.True(t, st.HasCommitted())

	st = openStore(t, p)
	require.Equal(t, int64(1), st.Version())
	require.NoError(t, st.Remove(key(0)))
	writeKVs(t, st, 5, 6)
	ver, err = st.Commit(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), ver)

	view1, err := p.GetView(context.Background(), 1)
	require.NoError(t, err)
	expectEntries(t, view1.NewIterator(nil, nil), 0, 1, 2, 3, 4)
	view2, err := p.GetView(context.Background(), 2)
	require.NoError(t, err)
	expectEntries(t, view2.NewIterator(nil, nil), 1, 2, 3, 4, 5)
	require.Nil(t, view2.Get(key(0)))
	require.Equal(t, value(0), view1.Get(key(0)))

	_, err = p.GetView(context.Background(), 3)
	require.True(t, errors.HasCode(err, errors.VersionNotFound))
}

func TestClosedAfterCommitOrAbort(t *testing.T) {
	p := setupProvider(t, testConfig(), nil)
	st := openStore(t, p)
	_, err := st.Commit(context.Background())
	require.NoError(t, err)
	err = st.Put(key(1), value(1))
	require.True(t, errors.HasCode(err, errors.StoreClosed))
	_, err = st.Commit(context.Background())
	require.True(t, errors.HasCode(err, errors.StoreClosed))
	err = st.Abort()
	require.True(t, errors.HasCode(err, errors.StoreClosed))

	st = openStore(t, p)
	require.NoError(t, st.Abort())
	require.False(t, st.HasCommitted())
	_, err = st.Get(key(1))
	require.True(t, errors.HasCode(err, errors.StoreClosed))
	_, err = st.NewIterator(nil, nil)
	require.True(t, errors.HasCode(err, errors.StoreClosed))
}

func TestAbortDiscardsWrites(t *testing.T) {
	p := setupProvider(t, testConfig(), nil)
	st := openStore(t, p)
	writeKVs(t, st, 0, 5)
	require.NoError(t, st.Abort())
	require.Equal(t, int64(0), p.LatestVersion())

	st = openStore(t, p)
	v, err := st.Get(key(0))
	require.NoError(t, err)
	require.Nil(t, v)
	require.Equal(t, int64(0), st.Metrics().NumKeys)
}

func TestSingleWriter(t *testing.T) {
	p := setupProvider(t, testConfig(), nil)
	st := openStore(t, p)
	_, err := p.GetStore(0)
	require.True(t, errors.HasCode(err, errors.Unavailable))
	require.NoError(t, st.Abort())
	st, err = p.GetStore(0)
	require.NoError(t, err)
	require.Equal(t, ID{Partition: 3, StoreName: "test"}, st.ID())
}

func TestWriteOnOldVersionRejected(t *testing.T) {
	p := setupProvider(t, testConfig(), nil)
	st := openStore(t, p)
	_, err := st.Commit(context.Background())
	require.NoError(t, err)
	_, err = p.GetStore(0)
	require.True(t, errors.HasCode(err, errors.VersionConflict))
}

func TestEvictedVersionWithoutObjectStore(t *testing.T) {
	cfg := testConfig()
	cfg.VersionsToRetainInMemory = 2
	p := setupProvider(t, cfg, nil)
	for i := 0; i < 5; i++ {
		st := openStore(t, p)
		writeKVs(t, st, i, i+1)
		_, err := st.Commit(context.Background())
		require.NoError(t, err)
	}
	_, err := p.GetView(context.Background(), 1)
	require.True(t, errors.HasCode(err, errors.VersionNotFound))
	view, err := p.GetView(context.Background(), 5)
	require.NoError(t, err)
	expectEntries(t, view.NewIterator(nil, nil), 0, 1, 2, 3, 4)
}

func TestReloadFromObjectStore(t *testing.T) {
	objStore := dev.NewInMemStore(0)
	cfg := testConfig()
	cfg.VersionsToRetainInMemory = 1
	p := setupProvider(t, cfg, objStore)
	for i := 0; i < 4; i++ {
		st := openStore(t, p)
		writeKVs(t, st, i*2, i*2+2)
		if i == 3 {
			require.NoError(t, st.Remove(key(0)))
		}
		_, err := st.Commit(context.Background())
		require.NoError(t, err)
	}

	// evicted from memory, rebuilt from deltas
	view, err := p.GetView(context.Background(), 2)
	require.NoError(t, err)
	expectEntries(t, view.NewIterator(nil, nil), 0, 1, 2, 3)

	// a new provider over the same object store resumes at the latest version
	p2 := setupProvider(t, cfg, objStore)
	require.Equal(t, int64(4), p2.LatestVersion())
	st := openStore(t, p2)
	iter, err := st.NewIterator(nil, nil)
	require.NoError(t, err)
	expectEntries(t, iter, 1, 2, 3, 4, 5, 6, 7)
	require.Equal(t, int64(7), st.Metrics().NumKeys)
}

func TestSchemaMismatch(t *testing.T) {
	objStore := dev.NewInMemStore(0)
	cfg := testConfig()
	setupProvider(t, cfg, objStore)

	otherSchema := row.NewSchema([]string{"v"}, []types.ColumnType{types.ColumnTypeInt})
	p, err := NewProvider(ID{Partition: 3, StoreName: "test"}, otherSchema, cfg, objStore)
	require.NoError(t, err)
	err = p.Open(context.Background())
	require.True(t, errors.HasCode(err, errors.InvalidConfiguration))
}

func TestCommitFailsWhenObjectStoreUnavailable(t *testing.T) {
	objStore := dev.NewInMemStore(0)
	p := setupProvider(t, testConfig(), objStore)
	st := openStore(t, p)
	writeKVs(t, st, 0, 2)
	objStore.SetUnavailable(true)
	_, err := st.Commit(context.Background())
	require.True(t, errors.HasCode(err, errors.Unavailable))
	require.False(t, st.HasCommitted())
	require.Equal(t, int64(0), p.LatestVersion())
	require.NoError(t, st.Abort())

	objStore.SetUnavailable(false)
	st = openStore(t, p)
	writeKVs(t, st, 0, 2)
	ver, err := st.Commit(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), ver)
}

func TestCommitWithCancelledContext(t *testing.T) {
	objStore := dev.NewInMemStore(0)
	p := setupProvider(t, testConfig(), objStore)
	st := openStore(t, p)
	writeKVs(t, st, 0, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := st.Commit(ctx)
	require.True(t, errors.Is(err, context.Canceled))
	require.False(t, st.HasCommitted())
	require.Equal(t, int64(0), p.LatestVersion())
	require.Equal(t, 1, objStore.Size())
	require.NoError(t, st.Abort())

	st = openStore(t, p)
	writeKVs(t, st, 0, 2)
	ver, err := st.Commit(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), ver)
}

func TestMaintenance(t *testing.T) {
	objStore := dev.NewInMemStore(0)
	cfg := testConfig()
	cfg.MinDeltasForSnapshot = 3
	cfg.MinVersionsToRetain = 1
	p := setupProvider(t, cfg, objStore)
	commitVersions := func(from int, to int) {
		for i := from; i < to; i++ {
			st := openStore(t, p)
			writeKVs(t, st, i, i+1)
			_, err := st.Commit(context.Background())
			require.NoError(t, err)
		}
	}
	ctx := context.Background()

	commitVersions(0, 5)
	require.NoError(t, p.DoMaintenance(ctx))
	// schema, 5 deltas and a snapshot at version 5, nothing deletable yet
	require.Equal(t, 7, objStore.Size())

	commitVersions(5, 7)
	require.NoError(t, p.DoMaintenance(ctx))
	// deltas 1-5 are covered by the snapshot at version 5
	require.Equal(t, 4, objStore.Size())

	p2 := setupProvider(t, cfg, objStore)
	require.Equal(t, int64(7), p2.LatestVersion())
	view, err := p2.GetView(ctx, 7)
	require.NoError(t, err)
	expectEntries(t, view.NewIterator(nil, nil), 0, 1, 2, 3, 4, 5, 6)
	view, err = p2.GetView(ctx, 6)
	require.NoError(t, err)
	expectEntries(t, view.NewIterator(nil, nil), 0, 1, 2, 3, 4, 5)
	_, err = p2.GetView(ctx, 3)
	require.True(t, errors.HasCode(err, errors.VersionNotFound))
}

func TestMaintenanceNoObjectStore(t *testing.T) {
	p := setupProvider(t, testConfig(), nil)
	require.NoError(t, p.DoMaintenance(context.Background()))
}
