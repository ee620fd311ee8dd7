package fullrow

import (
	"bytes"
	"context"
	"sort"

	"github.com/spirit-labs/aggstore/errors"
	log "github.com/spirit-labs/aggstore/logger"
	"github.com/spirit-labs/aggstore/metrics"
	"github.com/spirit-labs/aggstore/row"
	"github.com/spirit-labs/aggstore/store"
)

// ChangeTracker reports which groups may have a stale value for an aggregate expression.
type ChangeTracker interface {
	HasChange(group GroupKey, exprIndex int) (bool, error)
}

type RemoveResult int

const (
	// Removed means a stored row equal to the retracted row was deleted.
	Removed RemoveResult = iota
	// ExpectedAbsent means no row matched, but the row is behind the cutoff of an earlier commit that evicted it.
	ExpectedAbsent
	// UnexpectedAbsent means no row matched and nothing explains why.
	UnexpectedAbsent
)

func (r RemoveResult) String() string {
	switch r {
	case Removed:
		return "removed"
	case ExpectedAbsent:
		return "expected_absent"
	default:
		return "unexpected_absent"
	}
}

type Option func(m *Map)

// WithWatermarkPredicate sets the predicate that selects rows to evict on Commit.
func WithWatermarkPredicate(expired func(r row.Row) bool) Option {
	return func(m *Map) {
		m.expired = expired
	}
}

// WithEvictedPredicate sets the predicate that reports whether a row was behind the cutoff of an earlier commit, in
// which case it may already have been evicted.
func WithEvictedPredicate(evicted func(r row.Row) bool) Option {
	return func(m *Map) {
		m.evicted = evicted
	}
}

// Map retains every contributing row of every group in a store, keyed by group and a caller assigned index. A Map
// is bound to one writable store for the duration of a batch and is used by a single goroutine.
type Map struct {
	st          store.Store
	schema      *row.Schema
	comparators []*ValueComparator
	expired     func(r row.Row) bool
	evicted     func(r row.Row) bool
	aborted     bool
}

// NewMap binds a Map to st. comparators are indexed by aggregate expression, see NewComparators.
func NewMap(st store.Store, valueSchema *row.Schema, comparators []*ValueComparator, opts ...Option) *Map {
	m := &Map{
		st:          st,
		schema:      valueSchema,
		comparators: comparators,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Put stores r at (group, index), replacing any row already there.
func (m *Map) Put(group GroupKey, index uint64, r row.Row) error {
	key := IndexedKey{Group: group, Index: index}.Encode()
	return m.st.Put(key, row.Encode(nil, m.schema, r))
}

// Get returns the row at (group, index).
func (m *Map) Get(group GroupKey, index uint64) (row.Row, bool, error) {
	v, err := m.st.Get(IndexedKey{Group: group, Index: index}.Encode())
	if err != nil || v == nil {
		return nil, false, err
	}
	return row.Decode(v, m.schema), true, nil
}

// Remove deletes the row with the lowest index below maxIndex that is equal to r. When there is no such row nothing
// is deleted and the result says whether an earlier eviction accounts for the miss.
func (m *Map) Remove(group GroupKey, maxIndex uint64, r row.Row) (RemoveResult, error) {
	target := row.Encode(nil, m.schema, r)
	lower, upper := groupRange(group, maxIndex)
	iter, err := m.st.NewIterator(lower, upper)
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	for {
		ok, kv, err := iter.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		if !isGroupKey(kv.Key, group) || !bytes.Equal(kv.Value, target) {
			continue
		}
		if err := m.st.Remove(kv.Key); err != nil {
			return 0, err
		}
		metrics.RowRemoves.WithLabelValues(Removed.String()).Inc()
		return Removed, nil
	}
	res := UnexpectedAbsent
	if m.evicted != nil && m.evicted(r) {
		res = ExpectedAbsent
		log.Warnw("retracted row not found, it is behind the eviction cutoff", "store", m.st.ID().String(),
			"group", []byte(group), "maxIndex", maxIndex, "row", r.String())
	} else {
		log.Errorw("retracted row not found", "store", m.st.ID().String(), "group", []byte(group),
			"maxIndex", maxIndex, "row", r.String())
	}
	metrics.RowRemoves.WithLabelValues(res.String()).Inc()
	return res, nil
}

// GroupIteratorByExpr returns the extremal row for the expression at exprIndex of every group the tracker reports
// as changed for it. The whole store is scanned and sorted before the iterator is returned.
func (m *Map) GroupIteratorByExpr(exprIndex int, tracker ChangeTracker) (*GroupIterator, error) {
	if exprIndex < 0 || exprIndex >= len(m.comparators) || m.comparators[exprIndex] == nil {
		return nil, errors.NewStoreErrorf(errors.UnsupportedAggregateType,
			"aggregate %d is not recomputed from retained rows", exprIndex)
	}
	cmp := m.comparators[exprIndex]
	iter, err := m.st.NewIterator(nil, nil)
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	changed := map[GroupKey]bool{}
	var rows []indexedRow
	for {
		ok, kv, err := iter.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		key, err := DecodeIndexedKey(kv.Key)
		if err != nil {
			return nil, err
		}
		hasChange, seen := changed[key.Group]
		if !seen {
			hasChange, err = tracker.HasChange(key.Group, exprIndex)
			if err != nil {
				return nil, err
			}
			changed[key.Group] = hasChange
		}
		if !hasChange {
			continue
		}
		rows = append(rows, indexedRow{key: key, row: row.Decode(kv.Value, m.schema)})
	}
	sort.Slice(rows, func(i, j int) bool {
		if c := CompareGroups(rows[i].key.Group, rows[j].key.Group); c != 0 {
			return c < 0
		}
		if c := cmp.Compare(rows[i].row, rows[j].row); c != 0 {
			return c < 0
		}
		return rows[i].key.Index < rows[j].key.Index
	})
	return newGroupIterator(rows), nil
}

func (m *Map) NumKeys() int64 {
	return m.st.Metrics().NumKeys
}

func (m *Map) MemoryConsumption() int64 {
	return m.st.Metrics().MemoryUsedBytes
}

func (m *Map) Metrics() store.Metrics {
	return m.st.Metrics()
}

// Commit evicts rows selected by the watermark predicate and then commits the store.
func (m *Map) Commit(ctx context.Context) (int64, error) {
	if m.expired != nil {
		if err := m.evictExpired(); err != nil {
			return 0, err
		}
	}
	return m.st.Commit(ctx)
}

func (m *Map) evictExpired() error {
	iter, err := m.st.NewIterator(nil, nil)
	if err != nil {
		return err
	}
	defer iter.Close()
	var expiredKeys [][]byte
	for {
		ok, kv, err := iter.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if m.expired(row.Decode(kv.Value, m.schema)) {
			expiredKeys = append(expiredKeys, kv.Key)
		}
	}
	for _, key := range expiredKeys {
		if err := m.st.Remove(key); err != nil {
			return err
		}
	}
	if len(expiredKeys) > 0 {
		metrics.RowsEvicted.Add(float64(len(expiredKeys)))
		log.Debugf("store %s evicted %d rows behind the watermark", m.st.ID(), len(expiredKeys))
	}
	return nil
}

// AbortIfNeeded aborts the store unless it has been committed or already aborted.
func (m *Map) AbortIfNeeded() error {
	if m.aborted || m.st.HasCommitted() {
		return nil
	}
	if err := m.st.Abort(); err != nil {
		return err
	}
	m.aborted = true
	return nil
}
