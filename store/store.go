package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spirit-labs/aggstore/common"
	"github.com/spirit-labs/aggstore/errors"
	"github.com/spirit-labs/aggstore/iteration"
	log "github.com/spirit-labs/aggstore/logger"
)

// Store is a writable view of one version of a partition's key space. Writes are visible to the store's own reads
// immediately and become a new version on Commit. A store is used by one goroutine.
type Store interface {
	// Get returns nil if the key does not exist.
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	Remove(key []byte) error
	// NewIterator iterates lower <= key < upper in key order, either bound may be nil. The iterator sees the store as
	// it was when the iterator was created.
	NewIterator(lower []byte, upper []byte) (iteration.Iterator, error)
	// Commit persists the writes as the next version. ctx bounds the object store upload.
	Commit(ctx context.Context) (int64, error)
	Abort() error
	HasCommitted() bool
	Metrics() Metrics
	ID() ID
	// Version is the committed version the store was opened on.
	Version() int64
}

type ID struct {
	Partition int
	StoreName string
}

func (i ID) String() string {
	return fmt.Sprintf("%s/%d", i.StoreName, i.Partition)
}

type Metrics struct {
	NumKeys         int64
	MemoryUsedBytes int64
}

type storeState int

const (
	stateOpen storeState = iota
	stateCommitted
	stateAborted
)

type memStore struct {
	provider   *Provider
	instanceID string
	base       *snapshot
	writes     *writeSet
	numKeys    int64
	memBytes   int64
	state      storeState
}

func newMemStore(provider *Provider, base *snapshot) *memStore {
	return &memStore{
		provider:   provider,
		instanceID: uuid.New().String(),
		base:       base,
		writes:     newWriteSet(),
		numKeys:    base.numKeys(),
		memBytes:   base.memBytes,
	}
}

func (m *memStore) checkOpen() error {
	switch m.state {
	case stateCommitted:
		return errors.NewStoreErrorf(errors.StoreClosed, "store %s instance %s has been committed", m.provider.id,
			m.instanceID)
	case stateAborted:
		return errors.NewStoreErrorf(errors.StoreClosed, "store %s instance %s has been aborted", m.provider.id,
			m.instanceID)
	}
	return nil
}

func (m *memStore) get(key []byte) ([]byte, bool) {
	if v, ok := m.writes.get(key); ok {
		return v, v != nil
	}
	return m.base.get(key)
}

func (m *memStore) Get(key []byte) ([]byte, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	v, _ := m.get(key)
	return v, nil
}

func (m *memStore) Put(key []byte, value []byte) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	if prev, ok := m.get(key); ok {
		m.memBytes += int64(len(value) - len(prev))
	} else {
		m.numKeys++
		m.memBytes += int64(len(key) + len(value))
	}
	m.writes.put(key, common.ByteSliceCopy(value))
	return nil
}

func (m *memStore) Remove(key []byte) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	prev, ok := m.get(key)
	if !ok {
		return nil
	}
	m.numKeys--
	m.memBytes -= int64(len(key) + len(prev))
	m.writes.put(key, nil)
	return nil
}

func (m *memStore) NewIterator(lower []byte, upper []byte) (iteration.Iterator, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if iter, empty := iteration.EmptyRange(lower, upper); empty {
		return iter, nil
	}
	if m.writes.size() == 0 {
		return m.base.newIterator(lower, upper), nil
	}
	iters := []iteration.Iterator{m.writes.newIterator(lower, upper), m.base.newIterator(lower, upper)}
	return iteration.NewMergingIterator(iters, false), nil
}

func (m *memStore) Commit(ctx context.Context) (int64, error) {
	if err := m.checkOpen(); err != nil {
		return 0, err
	}
	version, err := m.provider.commit(ctx, m)
	if err != nil {
		return 0, err
	}
	m.state = stateCommitted
	log.Debugf("store %s instance %s committed version %d keys %d", m.provider.id, m.instanceID, version, m.numKeys)
	return version, nil
}

func (m *memStore) Abort() error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	m.provider.release(m)
	m.state = stateAborted
	m.writes = newWriteSet()
	log.Debugf("store %s instance %s aborted at version %d", m.provider.id, m.instanceID, m.base.version)
	return nil
}

func (m *memStore) HasCommitted() bool {
	return m.state == stateCommitted
}

func (m *memStore) Metrics() Metrics {
	return Metrics{NumKeys: m.numKeys, MemoryUsedBytes: m.memBytes}
}

func (m *memStore) ID() ID {
	return m.provider.id
}

func (m *memStore) Version() int64 {
	return m.base.version
}
