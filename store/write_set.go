package store

import (
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/spirit-labs/aggstore/common"
	"github.com/spirit-labs/aggstore/iteration"
)

// writeSet holds the uncommitted writes of a store in key order. A nil value records a removal.
type writeSet struct {
	entries *treemap.Map
}

func newWriteSet() *writeSet {
	return &writeSet{entries: treemap.NewWithStringComparator()}
}

// get returns the value written for key, and whether key has been written at all.
func (w *writeSet) get(key []byte) ([]byte, bool) {
	v, ok := w.entries.Get(common.ByteSliceToStringZeroCopy(key))
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (w *writeSet) put(key []byte, value []byte) {
	w.entries.Put(string(key), value)
}

func (w *writeSet) size() int {
	return w.entries.Size()
}

// kvs returns the writes in key order, removals included.
func (w *writeSet) kvs() []common.KV {
	kvs := make([]common.KV, 0, w.entries.Size())
	it := w.entries.Iterator()
	for it.Next() {
		kvs = append(kvs, common.KV{Key: []byte(it.Key().(string)), Value: it.Value().([]byte)})
	}
	return kvs
}

// newIterator returns the writes with lower <= key < upper as they are now, later writes are not seen.
func (w *writeSet) newIterator(lower []byte, upper []byte) iteration.Iterator {
	sLower := string(lower)
	sUpper := string(upper)
	var kvs []common.KV
	it := w.entries.Iterator()
	for it.Next() {
		k := it.Key().(string)
		if lower != nil && k < sLower {
			continue
		}
		if upper != nil && k >= sUpper {
			break
		}
		kvs = append(kvs, common.KV{Key: []byte(k), Value: it.Value().([]byte)})
	}
	return iteration.NewStaticIterator(kvs)
}
