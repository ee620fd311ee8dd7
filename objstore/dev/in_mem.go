package dev

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/spirit-labs/aggstore/errors"
	log "github.com/spirit-labs/aggstore/logger"
	"github.com/spirit-labs/aggstore/objstore"
)

func NewInMemStore(delay time.Duration) *InMemStore {
	return &InMemStore{
		buckets: map[string]*treemap.Map{},
		delay:   delay,
	}
}

// InMemStore is an object store held in memory, used for development and testing.
type InMemStore struct {
	lock        sync.RWMutex
	buckets     map[string]*treemap.Map
	delay       time.Duration
	unavailable atomic.Bool
}

type entry struct {
	value        []byte
	lastModified time.Time
}

var _ objstore.Client = (*InMemStore)(nil)

func (f *InMemStore) Get(ctx context.Context, bucket string, key string) ([]byte, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.lock.RLock()
	defer f.lock.RUnlock()
	b, ok := f.buckets[bucket]
	if !ok {
		return nil, nil
	}
	v, ok := b.Get(key)
	if !ok {
		return nil, nil
	}
	return v.(entry).value, nil
}

func (f *InMemStore) Put(ctx context.Context, bucket string, key string, value []byte) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	log.Debugf("in mem store %p adding object %s/%s value length %d", f, bucket, key, len(value))
	f.lock.Lock()
	defer f.lock.Unlock()
	b, ok := f.buckets[bucket]
	if !ok {
		b = treemap.NewWithStringComparator()
		f.buckets[bucket] = b
	}
	b.Put(key, entry{value: value, lastModified: time.Now()})
	return nil
}

func (f *InMemStore) Delete(ctx context.Context, bucket string, key string) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	log.Debugf("in mem store %p deleting object %s/%s", f, bucket, key)
	f.lock.Lock()
	defer f.lock.Unlock()
	if b, ok := f.buckets[bucket]; ok {
		b.Remove(key)
	}
	return nil
}

func (f *InMemStore) DeleteAll(ctx context.Context, bucket string, keys []string) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	b, ok := f.buckets[bucket]
	if !ok {
		return nil
	}
	for _, key := range keys {
		b.Remove(key)
	}
	return nil
}

func (f *InMemStore) ListObjectsWithPrefix(ctx context.Context, bucket string, prefix string,
	maxKeys int) ([]objstore.ObjectInfo, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.lock.RLock()
	defer f.lock.RUnlock()
	b, ok := f.buckets[bucket]
	if !ok {
		return nil, nil
	}
	var infos []objstore.ObjectInfo
	it := b.Iterator()
	for it.Next() {
		if maxKeys != -1 && len(infos) == maxKeys {
			break
		}
		key := it.Key().(string)
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		infos = append(infos, objstore.ObjectInfo{Key: key, LastModified: it.Value().(entry).lastModified})
	}
	return infos, nil
}

func (f *InMemStore) SetUnavailable(unavailable bool) {
	f.unavailable.Store(unavailable)
}

func (f *InMemStore) checkUnavailable() error {
	if f.unavailable.Load() {
		return errors.NewStoreErrorf(errors.Unavailable, "object store is unavailable")
	}
	return nil
}

// wait fails fast when the store is unavailable or ctx is done, otherwise it applies the configured delay.
func (f *InMemStore) wait(ctx context.Context) error {
	if err := f.checkUnavailable(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	if f.delay == 0 {
		return nil
	}
	timer := time.NewTimer(f.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

// Size returns the number of objects across all buckets.
func (f *InMemStore) Size() int {
	f.lock.RLock()
	defer f.lock.RUnlock()
	size := 0
	for _, b := range f.buckets {
		size += b.Size()
	}
	return size
}

func (f *InMemStore) Start() error {
	return nil
}

func (f *InMemStore) Stop() error {
	return nil
}
