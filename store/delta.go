package store

import (
	"github.com/spirit-labs/aggstore/common"
	"github.com/spirit-labs/aggstore/encoding"
	"github.com/spirit-labs/aggstore/errors"
)

const (
	deltaFormatV1 byte = 1

	opPut    byte = 1
	opRemove byte = 2
)

// encodeDelta writes a format byte followed by one record per entry:
// [op byte][u32 key length][key][u32 value length][value]. Entries with a nil value are written as removals with an
// empty value.
func encodeDelta(kvs []common.KV) []byte {
	size := 1
	for _, kv := range kvs {
		size += 9 + len(kv.Key) + len(kv.Value)
	}
	buff := make([]byte, 0, size)
	buff = append(buff, deltaFormatV1)
	for _, kv := range kvs {
		if kv.Value == nil {
			buff = append(buff, opRemove)
		} else {
			buff = append(buff, opPut)
		}
		buff = encoding.AppendBytesToBufferLE(buff, kv.Key)
		buff = encoding.AppendBytesToBufferLE(buff, kv.Value)
	}
	return buff
}

func decodeDelta(buff []byte) ([]common.KV, error) {
	if len(buff) == 0 || buff[0] != deltaFormatV1 {
		return nil, errors.New("invalid delta format")
	}
	var kvs []common.KV
	offset := 1
	for offset < len(buff) {
		op := buff[offset]
		offset++
		if op != opPut && op != opRemove {
			return nil, errors.Errorf("invalid delta op %d at offset %d", op, offset-1)
		}
		key, off, err := readLengthPrefixed(buff, offset)
		if err != nil {
			return nil, err
		}
		value, off, err := readLengthPrefixed(buff, off)
		if err != nil {
			return nil, err
		}
		offset = off
		kv := common.KV{Key: key}
		if op == opPut {
			kv.Value = value
		}
		kvs = append(kvs, kv)
	}
	return kvs, nil
}

func readLengthPrefixed(buff []byte, offset int) ([]byte, int, error) {
	if offset+4 > len(buff) {
		return nil, 0, errors.New("truncated delta")
	}
	l, offset := encoding.ReadUint32FromBufferLE(buff, offset)
	if offset+int(l) > len(buff) {
		return nil, 0, errors.New("truncated delta")
	}
	return buff[offset : offset+int(l) : offset+int(l)], offset + int(l), nil
}
