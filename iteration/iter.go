package iteration

import (
	"github.com/spirit-labs/aggstore/common"
)

// Iterator returns entries in ascending key order. Next returns false once there are no more entries. An entry with a
// nil value is a tombstone.
type Iterator interface {
	Next() (bool, common.KV, error)
	Close()
}
