package iteration

import (
	"github.com/spirit-labs/aggstore/common"
)

// StaticIterator iterates over a slice of entries which must already be in key order.
type StaticIterator struct {
	kvs []common.KV
	pos int
	err error
}

func NewStaticIterator(entries []common.KV) *StaticIterator {
	return &StaticIterator{kvs: entries}
}

func (s *StaticIterator) AddKV(k []byte, v []byte) {
	s.kvs = append(s.kvs, common.KV{
		Key:   k,
		Value: v,
	})
}

func (s *StaticIterator) AddKVAsString(k string, v string) {
	s.AddKV([]byte(k), []byte(v))
}

// SetError makes every subsequent call to Next fail with err.
func (s *StaticIterator) SetError(err error) {
	s.err = err
}

func (s *StaticIterator) Next() (bool, common.KV, error) {
	if s.err != nil {
		return false, common.KV{}, s.err
	}
	if s.pos >= len(s.kvs) {
		return false, common.KV{}, nil
	}
	kv := s.kvs[s.pos]
	s.pos++
	return true, kv, nil
}

func (s *StaticIterator) Close() {
}
