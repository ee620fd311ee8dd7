package objstore

import (
	"context"
	"time"
)

// Client is the object storage used to persist committed store versions. Get returns nil, nil when the object does
// not exist.
type Client interface {
	Get(ctx context.Context, bucket string, key string) ([]byte, error)
	Put(ctx context.Context, bucket string, key string, value []byte) error
	Delete(ctx context.Context, bucket string, key string) error
	DeleteAll(ctx context.Context, bucket string, keys []string) error
	// ListObjectsWithPrefix returns infos in key order. maxKeys of -1 means no limit.
	ListObjectsWithPrefix(ctx context.Context, bucket string, prefix string, maxKeys int) ([]ObjectInfo, error)
	Start() error
	Stop() error
}

type ObjectInfo struct {
	Key          string
	LastModified time.Time
}
