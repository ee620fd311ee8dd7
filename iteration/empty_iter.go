package iteration

import "github.com/spirit-labs/aggstore/common"

// emptyRange is returned for ranges that cannot hold a key, so callers skip merging the write-set and the snapshot.
type emptyRange struct{}

var emptyIter Iterator = emptyRange{}

// EmptyRange returns an iterator over lower <= key < upper when the range is empty, and false otherwise. A nil
// bound is open.
func EmptyRange(lower []byte, upper []byte) (Iterator, bool) {
	if lower == nil || upper == nil || string(lower) < string(upper) {
		return nil, false
	}
	return emptyIter, true
}

func (emptyRange) Next() (bool, common.KV, error) {
	return false, common.KV{}, nil
}

func (emptyRange) Close() {
}
