package store

import (
	"bytes"

	"github.com/google/btree"
	"github.com/spirit-labs/aggstore/common"
	"github.com/spirit-labs/aggstore/iteration"
)

const btreeDegree = 32

// snapshot is the immutable contents of one committed version.
type snapshot struct {
	version  int64
	tree     *btree.BTreeG[common.KV]
	memBytes int64
}

func kvLess(a, b common.KV) bool {
	return bytes.Compare(a.Key, b.Key) < 0
}

func newSnapshot(version int64) *snapshot {
	return &snapshot{
		version: version,
		tree:    btree.NewG(btreeDegree, kvLess),
	}
}

func (s *snapshot) get(key []byte) ([]byte, bool) {
	kv, ok := s.tree.Get(common.KV{Key: key})
	if !ok {
		return nil, false
	}
	return kv.Value, true
}

func (s *snapshot) numKeys() int64 {
	return int64(s.tree.Len())
}

// apply returns a new snapshot with the given writes applied. The receiver is not modified, the clone shares nodes
// with it copy on write.
func (s *snapshot) apply(version int64, writes []common.KV) *snapshot {
	tree := s.tree.Clone()
	memBytes := s.memBytes
	for _, kv := range writes {
		if kv.Value == nil {
			if prev, ok := tree.Delete(kv); ok {
				memBytes -= int64(len(prev.Key) + len(prev.Value))
			}
			continue
		}
		if prev, ok := tree.ReplaceOrInsert(kv); ok {
			memBytes -= int64(len(prev.Key) + len(prev.Value))
		}
		memBytes += int64(len(kv.Key) + len(kv.Value))
	}
	return &snapshot{
		version:  version,
		tree:     tree,
		memBytes: memBytes,
	}
}

// entries returns the entries with lower <= key < upper, either bound may be nil.
func (s *snapshot) entries(lower []byte, upper []byte) []common.KV {
	var kvs []common.KV
	collect := func(kv common.KV) bool {
		kvs = append(kvs, kv)
		return true
	}
	switch {
	case lower == nil && upper == nil:
		s.tree.Ascend(collect)
	case upper == nil:
		s.tree.AscendGreaterOrEqual(common.KV{Key: lower}, collect)
	case lower == nil:
		s.tree.AscendLessThan(common.KV{Key: upper}, collect)
	default:
		s.tree.AscendRange(common.KV{Key: lower}, common.KV{Key: upper}, collect)
	}
	return kvs
}

func (s *snapshot) newIterator(lower []byte, upper []byte) iteration.Iterator {
	return iteration.NewStaticIterator(s.entries(lower, upper))
}
