package objstore

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// TestBuckets are the buckets the conformance suite writes to. Clients that need buckets created up front must
// create them before calling TestApi.
var TestBuckets = []string{"aggstore-state", "aggstore-state-other"}

// TestApi runs the conformance suite every Client must pass. The cases follow how state stores use the client:
// version objects are listed by store prefix in key order and old ones are deleted in concurrent batches.
func TestApi(t *testing.T, client Client) {
	tests := []struct {
		name string
		test func(t *testing.T, client Client)
	}{
		{name: "get put overwrite", test: testGetPutOverwrite},
		{name: "delete", test: testDelete},
		{name: "list store prefix in key order", test: testListStorePrefixInKeyOrder},
		{name: "list unlimited pages past 1000", test: testListUnlimited},
		{name: "list max keys", test: testListMaxKeys},
		{name: "delete all in concurrent batches", test: testDeleteAllBatches},
		{name: "buckets are independent", test: testBucketsIndependent},
	}
	for _, tc := range tests {
		for _, bucket := range TestBuckets {
			clearBucket(t, client, bucket)
		}
		t.Run(tc.name, func(t *testing.T) {
			tc.test(t, client)
		})
	}
}

func clearBucket(t *testing.T, client Client, bucket string) {
	t.Helper()
	infos, err := client.ListObjectsWithPrefix(context.Background(), bucket, "", -1)
	require.NoError(t, err)
	if len(infos) == 0 {
		return
	}
	require.NoError(t, client.DeleteAll(context.Background(), bucket, infoKeys(infos)))
}

func infoKeys(infos []ObjectInfo) []string {
	keys := make([]string, len(infos))
	for i, info := range infos {
		keys[i] = info.Key
	}
	return keys
}

func versionKey(storeName string, version int, suffix string) string {
	return fmt.Sprintf("aggstore/0/%s/%020d%s", storeName, version, suffix)
}

func putShuffled(t *testing.T, client Client, bucket string, keys []string) {
	t.Helper()
	shuffled := make([]string, len(keys))
	copy(shuffled, keys)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	for _, key := range shuffled {
		require.NoError(t, client.Put(context.Background(), bucket, key, []byte(key)))
	}
}

func testGetPutOverwrite(t *testing.T, client Client) {
	ctx := context.Background()
	bucket := TestBuckets[0]
	key := versionKey("rows", 1, ".snapshot")

	v, err := client.Get(ctx, bucket, key)
	require.NoError(t, err)
	require.Nil(t, v)

	require.NoError(t, client.Put(ctx, bucket, key, []byte("first")))
	v, err = client.Get(ctx, bucket, key)
	require.NoError(t, err)
	require.Equal(t, "first", string(v))

	// a snapshot can be rewritten if maintenance runs twice at the same version
	require.NoError(t, client.Put(ctx, bucket, key, []byte("second")))
	v, err = client.Get(ctx, bucket, key)
	require.NoError(t, err)
	require.Equal(t, "second", string(v))
}

func testDelete(t *testing.T, client Client) {
	ctx := context.Background()
	bucket := TestBuckets[0]
	key := versionKey("rows", 1, ".delta")
	require.NoError(t, client.Put(ctx, bucket, key, []byte("delta")))
	require.NoError(t, client.Delete(ctx, bucket, key))
	v, err := client.Get(ctx, bucket, key)
	require.NoError(t, err)
	require.Nil(t, v)
}

func testListStorePrefixInKeyOrder(t *testing.T, client Client) {
	ctx := context.Background()
	bucket := TestBuckets[0]
	var rowsKeys []string
	for v := 1; v <= 12; v++ {
		rowsKeys = append(rowsKeys, versionKey("rows", v, ".delta"))
		if v%5 == 0 {
			rowsKeys = append(rowsKeys, versionKey("rows", v, ".snapshot"))
		}
	}
	rowsKeys = append(rowsKeys, "aggstore/0/rows/schema")
	// a store whose name extends "rows" must not show up under the rows prefix
	var otherKeys []string
	for v := 1; v <= 3; v++ {
		otherKeys = append(otherKeys, versionKey("rows-meta", v, ".delta"))
	}
	before := time.Now().Add(-time.Second)
	putShuffled(t, client, bucket, append(append([]string{}, rowsKeys...), otherKeys...))

	infos, err := client.ListObjectsWithPrefix(ctx, bucket, "aggstore/0/rows/", -1)
	require.NoError(t, err)
	// zero padded versions sort numerically, a snapshot sorts after the delta of the same version
	require.Equal(t, rowsKeys, infoKeys(infos))
	for _, info := range infos {
		require.True(t, info.LastModified.After(before), "last modified %v", info.LastModified)
	}

	infos, err = client.ListObjectsWithPrefix(ctx, bucket, "aggstore/0/rows-meta/", -1)
	require.NoError(t, err)
	require.Equal(t, otherKeys, infoKeys(infos))

	infos, err = client.ListObjectsWithPrefix(ctx, bucket, "aggstore/1/", -1)
	require.NoError(t, err)
	require.Empty(t, infos)
}

// S3 pages listings at 1000 keys, a limit of -1 must return every page.
func testListUnlimited(t *testing.T, client Client) {
	bucket := TestBuckets[0]
	var keys []string
	for v := 1; v <= 1234; v++ {
		keys = append(keys, versionKey("state", v, ".delta"))
	}
	putShuffled(t, client, bucket, keys)
	infos, err := client.ListObjectsWithPrefix(context.Background(), bucket, "aggstore/0/state/", -1)
	require.NoError(t, err)
	require.Equal(t, keys, infoKeys(infos))
}

func testListMaxKeys(t *testing.T, client Client) {
	bucket := TestBuckets[0]
	var keys []string
	for v := 1; v <= 30; v++ {
		keys = append(keys, versionKey("meta", v, ".delta"))
	}
	putShuffled(t, client, bucket, keys)
	for _, maxKeys := range []int{1, 7, 30, 50} {
		infos, err := client.ListObjectsWithPrefix(context.Background(), bucket, "aggstore/0/meta/", maxKeys)
		require.NoError(t, err)
		require.Equal(t, keys[:min(maxKeys, len(keys))], infoKeys(infos), "max keys %d", maxKeys)
	}
}

func testDeleteAllBatches(t *testing.T, client Client) {
	ctx := context.Background()
	bucket := TestBuckets[0]
	var keys []string
	for v := 1; v <= 250; v++ {
		keys = append(keys, versionKey("rows", v, ".delta"))
	}
	putShuffled(t, client, bucket, keys)

	// delete everything before version 231 in batches of 100, the last batch names keys that are already gone
	toDelete := append(append([]string{}, keys[:230]...), versionKey("rows", 0, ".delta"))
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(toDelete); start += 100 {
		batch := toDelete[start:min(start+100, len(toDelete))]
		g.Go(func() error {
			return client.DeleteAll(gctx, bucket, batch)
		})
	}
	require.NoError(t, g.Wait())

	infos, err := client.ListObjectsWithPrefix(ctx, bucket, "aggstore/0/rows/", -1)
	require.NoError(t, err)
	require.Equal(t, keys[230:], infoKeys(infos))

	require.NoError(t, client.DeleteAll(ctx, bucket, []string{keys[230]}))
	v, err := client.Get(ctx, bucket, keys[230])
	require.NoError(t, err)
	require.Nil(t, v)
}

func testBucketsIndependent(t *testing.T, client Client) {
	ctx := context.Background()
	key := versionKey("rows", 1, ".delta")
	for _, bucket := range TestBuckets {
		require.NoError(t, client.Put(ctx, bucket, key, []byte(bucket)))
	}
	require.NoError(t, client.Delete(ctx, TestBuckets[0], key))
	v, err := client.Get(ctx, TestBuckets[0], key)
	require.NoError(t, err)
	require.Nil(t, v)
	for _, bucket := range TestBuckets[1:] {
		v, err = client.Get(ctx, bucket, key)
		require.NoError(t, err)
		require.Equal(t, bucket, string(v))
	}
}
