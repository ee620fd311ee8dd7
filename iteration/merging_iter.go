package iteration

import (
	"bytes"

	"github.com/spirit-labs/aggstore/common"
	log "github.com/spirit-labs/aggstore/logger"
)

// MergingIterator merges several ordered iterators. Iterators earlier in the slice take precedence, so when the same
// key is present in more than one iterator only the entry from the earliest one is returned. Tombstones shadow
// entries for the same key in later iterators and are only returned when preserveTombstones is set.
type MergingIterator struct {
	iters              []Iterator
	iterHeads          []*common.KV
	exhausted          []bool
	preserveTombstones bool
}

func NewMergingIterator(iters []Iterator, preserveTombstones bool) *MergingIterator {
	return &MergingIterator{
		iters:              iters,
		iterHeads:          make([]*common.KV, len(iters)),
		exhausted:          make([]bool, len(iters)),
		preserveTombstones: preserveTombstones,
	}
}

func (m *MergingIterator) Next() (bool, common.KV, error) {
	for {
		chosenIndex := -1
		var chosen *common.KV
		for i, iter := range m.iters {
			head, err := m.readIterHeadOrNext(i, iter)
			if err != nil {
				return false, common.KV{}, err
			}
			if head == nil {
				continue
			}
			if chosen == nil {
				chosen = head
				chosenIndex = i
				continue
			}
			diff := bytes.Compare(head.Key, chosen.Key)
			if diff < 0 {
				chosen = head
				chosenIndex = i
			} else if diff == 0 {
				// same key, the earlier iterator wins
				m.logKeyShadowed(head, i)
				m.iterHeads[i] = nil
			}
		}
		if chosen == nil {
			return false, common.KV{}, nil
		}
		m.iterHeads[chosenIndex] = nil
		if chosen.Value == nil && !m.preserveTombstones {
			continue
		}
		return true, *chosen, nil
	}
}

func (m *MergingIterator) readIterHeadOrNext(index int, iter Iterator) (*common.KV, error) {
	if head := m.iterHeads[index]; head != nil {
		return head, nil
	}
	if m.exhausted[index] {
		return nil, nil
	}
	valid, kv, err := iter.Next()
	if err != nil {
		return nil, err
	}
	if !valid {
		m.exhausted[index] = true
		return nil, nil
	}
	m.iterHeads[index] = &kv
	return &kv, nil
}

func (m *MergingIterator) logKeyShadowed(kv *common.KV, index int) {
	if log.DebugEnabled {
		log.Debugf("%p mi: dropping key %v from iterator %d as shadowed by an earlier iterator", m, kv.Key, index)
	}
}

func (m *MergingIterator) Close() {
	for _, iter := range m.iters {
		iter.Close()
	}
}
