package agg

import (
	"context"

	"github.com/spirit-labs/aggstore/fullrow"
	"github.com/spirit-labs/aggstore/iteration"
	"github.com/spirit-labs/aggstore/row"
	"github.com/spirit-labs/aggstore/store"
)

// groupState is the current aggregate of one group: the number of contributing rows and one value per expression.
type groupState struct {
	count  int64
	values []any
}

// stateCodec stores group states as rows of count followed by the expression values.
type stateCodec struct {
	schema *row.Schema
}

func (c stateCodec) encode(s groupState) []byte {
	r := make(row.Row, 0, len(s.values)+1)
	r = append(r, s.count)
	r = append(r, s.values...)
	return row.Encode(nil, c.schema, r)
}

func (c stateCodec) decode(buff []byte) groupState {
	r := row.Decode(buff, c.schema)
	return groupState{count: r[0].(int64), values: r[1:]}
}

type stateStore struct {
	st      store.Store
	codec   stateCodec
	aborted bool
}

func (s *stateStore) get(group fullrow.GroupKey) (groupState, bool, error) {
	v, err := s.st.Get([]byte(group))
	if err != nil {
		return groupState{}, false, err
	}
	if v == nil {
		return groupState{values: make([]any, s.codec.schema.NumColumns()-1)}, false, nil
	}
	return s.codec.decode(v), true, nil
}

func (s *stateStore) put(group fullrow.GroupKey, state groupState) error {
	return s.st.Put([]byte(group), s.codec.encode(state))
}

func (s *stateStore) delete(group fullrow.GroupKey) error {
	return s.st.Remove([]byte(group))
}

func (s *stateStore) commit(ctx context.Context) (int64, error) {
	return s.st.Commit(ctx)
}

func (s *stateStore) abortIfNeeded() error {
	if s.aborted || s.st.HasCommitted() {
		return nil
	}
	if err := s.st.Abort(); err != nil {
		return err
	}
	s.aborted = true
	return nil
}

func forEachState(iter iteration.Iterator, codec stateCodec, f func(group fullrow.GroupKey, state groupState)) error {
	defer iter.Close()
	for {
		ok, kv, err := iter.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		f(fullrow.GroupKey(kv.Key), codec.decode(kv.Value))
	}
}
