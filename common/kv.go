package common

// KV is a single key/value entry as stored in, and read from, a versioned store.
// A nil Value marks a removal.
type KV struct {
	Key   []byte
	Value []byte
}

func (kv KV) Copy() KV {
	return KV{Key: ByteSliceCopy(kv.Key), Value: ByteSliceCopy(kv.Value)}
}
