package fullrow

import (
	"bytes"
	"strings"

	"github.com/spirit-labs/aggstore/encoding"
	"github.com/spirit-labs/aggstore/errors"
	"github.com/spirit-labs/aggstore/row"
	"github.com/spirit-labs/aggstore/types"
)

const indexLen = 8

// GroupKey is the order preserving encoding of a group's grouping column values. The empty key is the single group
// of a query without grouping columns.
type GroupKey string

// NewGroupKey encodes the columns colIndexes of r.
func NewGroupKey(r row.Row, colIndexes []int, schema *row.Schema) GroupKey {
	colTypes := schema.ColumnTypes()
	keyTypes := make([]types.ColumnType, len(colIndexes))
	for i, colIndex := range colIndexes {
		keyTypes[i] = colTypes[colIndex]
	}
	return GroupKey(encoding.EncodeKeyCols(nil, r, colIndexes, keyTypes))
}

// Values decodes the grouping column values, keyTypes are the types of the grouping columns in order.
func (g GroupKey) Values(keyTypes []types.ColumnType) ([]any, error) {
	vals, _, err := encoding.DecodeKeyToSlice([]byte(g), 0, keyTypes)
	return vals, err
}

// CompareGroups orders groups by encoded length, then by encoded bytes.
func CompareGroups(a, b GroupKey) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(string(a), string(b))
}

// IndexedKey identifies one retained row of a group.
type IndexedKey struct {
	Group GroupKey
	Index uint64
}

// Encode returns the store key, the group bytes followed by the big endian index. Group encodings are prefix free so
// the keys of one group form a contiguous range ordered by index.
func (k IndexedKey) Encode() []byte {
	buff := make([]byte, 0, len(k.Group)+indexLen)
	buff = append(buff, k.Group...)
	return encoding.AppendUint64ToBufferBE(buff, k.Index)
}

func DecodeIndexedKey(key []byte) (IndexedKey, error) {
	if len(key) < indexLen {
		return IndexedKey{}, errors.Errorf("full row key too short: %d bytes", len(key))
	}
	groupLen := len(key) - indexLen
	index, _ := encoding.ReadUint64FromBufferBE(key, groupLen)
	return IndexedKey{Group: GroupKey(key[:groupLen]), Index: index}, nil
}

// Compare orders by group and then by index.
func (k IndexedKey) Compare(other IndexedKey) int {
	if c := CompareGroups(k.Group, other.Group); c != 0 {
		return c
	}
	switch {
	case k.Index < other.Index:
		return -1
	case k.Index > other.Index:
		return 1
	}
	return 0
}

// SameGroup ignores the index.
func SameGroup(a, b IndexedKey) bool {
	return a.Group == b.Group
}

func groupRange(group GroupKey, maxIndex uint64) ([]byte, []byte) {
	lower := IndexedKey{Group: group}.Encode()
	upper := IndexedKey{Group: group, Index: maxIndex}.Encode()
	return lower, upper
}

func isGroupKey(key []byte, group GroupKey) bool {
	return len(key) == len(group)+indexLen && bytes.HasPrefix(key, []byte(group))
}
