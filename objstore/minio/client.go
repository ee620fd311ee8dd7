package minio

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spirit-labs/aggstore/errors"
	log "github.com/spirit-labs/aggstore/logger"
	"github.com/spirit-labs/aggstore/objstore"
)

type Conf struct {
	Endpoint string
	Username string
	Password string
	Secure   bool
}

func NewMinioClient(cfg Conf) *Client {
	return &Client{
		cfg: cfg,
	}
}

type Client struct {
	cfg    Conf
	client *minio.Client
}

var _ objstore.Client = (*Client)(nil)

func (m *Client) Get(ctx context.Context, bucket string, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, maybeConvertError(err)
	}
	//goland:noinspection GoUnhandledErrorResult
	defer obj.Close()
	buff, err := io.ReadAll(obj)
	if err != nil {
		var merr minio.ErrorResponse
		if errors.As(err, &merr) {
			if merr.StatusCode == 404 {
				// does not exist
				return nil, nil
			}
		}
		return nil, maybeConvertError(err)
	}
	return buff, nil
}

func (m *Client) Put(ctx context.Context, bucket string, key string, value []byte) error {
	buff := bytes.NewBuffer(value)
	_, err := m.client.PutObject(ctx, bucket, key, buff, int64(len(value)), minio.PutObjectOptions{})
	return maybeConvertError(err)
}

func (m *Client) Delete(ctx context.Context, bucket string, key string) error {
	return maybeConvertError(m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}))
}

func (m *Client) DeleteAll(ctx context.Context, bucket string, keys []string) error {
	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objectsCh <- minio.ObjectInfo{Key: key}
	}
	close(objectsCh)
	for rErr := range m.client.RemoveObjects(ctx, bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if rErr.Err != nil {
			return maybeConvertError(rErr.Err)
		}
	}
	return nil
}

func (m *Client) ListObjectsWithPrefix(ctx context.Context, bucket string, prefix string,
	maxKeys int) ([]objstore.ObjectInfo, error) {
	opts := minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}
	// MaxKeys only sets the page size, the client pages through all results
	if maxKeys != -1 && maxKeys < 1000 {
		opts.MaxKeys = maxKeys
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var infos []objstore.ObjectInfo
	for info := range m.client.ListObjects(ctx, bucket, opts) {
		if info.Err != nil {
			return nil, maybeConvertError(info.Err)
		}
		infos = append(infos, objstore.ObjectInfo{
			Key:          info.Key,
			LastModified: info.LastModified,
		})
		if maxKeys != -1 && len(infos) == maxKeys {
			break
		}
	}
	return infos, nil
}

func (m *Client) MakeBucket(ctx context.Context, bucket string) error {
	return maybeConvertError(m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
}

// EnsureBucket creates bucket unless it already exists.
func (m *Client) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return maybeConvertError(err)
	}
	if exists {
		return nil
	}
	return m.MakeBucket(ctx, bucket)
}

func (m *Client) Start() error {
	client, err := minio.New(m.cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(m.cfg.Username, m.cfg.Password, ""),
		Secure: m.cfg.Secure,
	})
	if err != nil {
		return err
	}
	m.client = client
	log.Debugf("started minio client for endpoint %s", m.cfg.Endpoint)
	return nil
}

func (m *Client) Stop() error {
	m.client = nil
	return nil
}

func maybeConvertError(err error) error {
	if err == nil {
		return err
	}
	return errors.NewStoreError(errors.Unavailable, err.Error())
}
