package meta

import (
	"bytes"
	"context"

	"github.com/spirit-labs/aggstore/encoding"
	"github.com/spirit-labs/aggstore/errors"
	"github.com/spirit-labs/aggstore/fullrow"
	log "github.com/spirit-labs/aggstore/logger"
	"github.com/spirit-labs/aggstore/store"
)

// MaxExprs is the most aggregate expressions a Map can track, one bit each.
const MaxExprs = 64

const recordLen = 16

// cutoffKey holds the eviction cutoff. Group keys are empty or start with a null marker of 0 or 1, so it cannot
// collide with a group.
var cutoffKey = []byte{0xff}

type record struct {
	nextIndex uint64
	changed   uint64
}

func (r record) encode() []byte {
	buff := make([]byte, 0, recordLen)
	buff = encoding.AppendUint64ToBufferLE(buff, r.nextIndex)
	return encoding.AppendUint64ToBufferLE(buff, r.changed)
}

func decodeRecord(buff []byte) (record, error) {
	if len(buff) != recordLen {
		return record{}, errors.Errorf("invalid group metadata record length %d", len(buff))
	}
	var r record
	r.nextIndex, _ = encoding.ReadUint64FromBufferLE(buff, 0)
	r.changed, _ = encoding.ReadUint64FromBufferLE(buff, 8)
	return r, nil
}

// Map keeps, per group, the next row index to allocate and which aggregate expressions may need recomputing, along
// with the partition's eviction cutoff. It implements fullrow.ChangeTracker.
type Map struct {
	st       store.Store
	numExprs int
	aborted  bool
}

func NewMap(st store.Store, numExprs int) (*Map, error) {
	if numExprs < 0 || numExprs > MaxExprs {
		return nil, errors.NewStoreErrorf(errors.InvalidConfiguration,
			"%d aggregate expressions requested, at most %d are supported", numExprs, MaxExprs)
	}
	return &Map{st: st, numExprs: numExprs}, nil
}

func (m *Map) checkExpr(exprIndex int) error {
	if exprIndex < 0 || exprIndex >= m.numExprs {
		return errors.NewStoreErrorf(errors.InvalidConfiguration, "aggregate expression index %d out of range [0, %d)",
			exprIndex, m.numExprs)
	}
	return nil
}

func (m *Map) get(group fullrow.GroupKey) (record, error) {
	v, err := m.st.Get([]byte(group))
	if err != nil || v == nil {
		return record{}, err
	}
	return decodeRecord(v)
}

func (m *Map) put(group fullrow.GroupKey, r record) error {
	return m.st.Put([]byte(group), r.encode())
}

// NextIndex allocates the next row index of group.
func (m *Map) NextIndex(group fullrow.GroupKey) (uint64, error) {
	r, err := m.get(group)
	if err != nil {
		return 0, err
	}
	index := r.nextIndex
	r.nextIndex++
	if err := m.put(group, r); err != nil {
		return 0, err
	}
	return index, nil
}

// MaxIndex returns the exclusive upper bound of the indexes allocated to group.
func (m *Map) MaxIndex(group fullrow.GroupKey) (uint64, error) {
	r, err := m.get(group)
	return r.nextIndex, err
}

func (m *Map) MarkChanged(group fullrow.GroupKey, exprIndex int) error {
	if err := m.checkExpr(exprIndex); err != nil {
		return err
	}
	r, err := m.get(group)
	if err != nil {
		return err
	}
	bit := uint64(1) << exprIndex
	if r.changed&bit != 0 {
		return nil
	}
	r.changed |= bit
	return m.put(group, r)
}

func (m *Map) HasChange(group fullrow.GroupKey, exprIndex int) (bool, error) {
	if err := m.checkExpr(exprIndex); err != nil {
		return false, err
	}
	r, err := m.get(group)
	if err != nil {
		return false, err
	}
	return r.changed&(uint64(1)<<exprIndex) != 0, nil
}

// ChangedGroups returns the groups marked as changed for exprIndex in key order.
func (m *Map) ChangedGroups(exprIndex int) ([]fullrow.GroupKey, error) {
	if err := m.checkExpr(exprIndex); err != nil {
		return nil, err
	}
	var groups []fullrow.GroupKey
	err := m.forEach(func(group fullrow.GroupKey, r record) error {
		if r.changed&(uint64(1)<<exprIndex) != 0 {
			groups = append(groups, group)
		}
		return nil
	})
	return groups, err
}

// ClearChanges clears the changed flag of exprIndex on every group.
func (m *Map) ClearChanges(exprIndex int) error {
	if err := m.checkExpr(exprIndex); err != nil {
		return err
	}
	bit := uint64(1) << exprIndex
	return m.forEach(func(group fullrow.GroupKey, r record) error {
		if r.changed&bit == 0 {
			return nil
		}
		r.changed &^= bit
		return m.put(group, r)
	})
}

func (m *Map) forEach(f func(group fullrow.GroupKey, r record) error) error {
	iter, err := m.st.NewIterator(nil, nil)
	if err != nil {
		return err
	}
	defer iter.Close()
	for {
		ok, kv, err := iter.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if bytes.Equal(kv.Key, cutoffKey) {
			continue
		}
		r, err := decodeRecord(kv.Value)
		if err != nil {
			return err
		}
		if err := f(fullrow.GroupKey(kv.Key), r); err != nil {
			return err
		}
	}
}

// EvictionCutoff returns the highest event time cutoff that has been committed, rows with an earlier event time may
// have been evicted. ok is false if no batch has ever evicted.
func (m *Map) EvictionCutoff() (cutoff int64, ok bool, err error) {
	v, err := m.st.Get(cutoffKey)
	if err != nil || v == nil {
		return 0, false, err
	}
	if len(v) != 8 {
		return 0, false, errors.Errorf("invalid eviction cutoff length %d", len(v))
	}
	u, _ := encoding.ReadUint64FromBufferLE(v, 0)
	return int64(u), true, nil
}

// SetEvictionCutoff records cutoff, it only takes effect when the store commits. The cutoff never moves backwards.
func (m *Map) SetEvictionCutoff(cutoff int64) error {
	current, ok, err := m.EvictionCutoff()
	if err != nil {
		return err
	}
	if ok && cutoff <= current {
		return nil
	}
	return m.st.Put(cutoffKey, encoding.AppendUint64ToBufferLE(nil, uint64(cutoff)))
}

// Delete forgets group, its index allocation starts again from zero.
func (m *Map) Delete(group fullrow.GroupKey) error {
	return m.st.Remove([]byte(group))
}

func (m *Map) Commit(ctx context.Context) (int64, error) {
	version, err := m.st.Commit(ctx)
	if err != nil {
		return 0, err
	}
	log.Debugf("group metadata %s committed version %d", m.st.ID(), version)
	return version, nil
}

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
