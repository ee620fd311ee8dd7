package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/spirit-labs/aggstore/common"
	"github.com/spirit-labs/aggstore/conf"
	"github.com/spirit-labs/aggstore/errors"
	"github.com/spirit-labs/aggstore/iteration"
	log "github.com/spirit-labs/aggstore/logger"
	"github.com/spirit-labs/aggstore/metrics"
	"github.com/spirit-labs/aggstore/objstore"
	"github.com/spirit-labs/aggstore/row"
	"github.com/spirit-labs/aggstore/types"
	"golang.org/x/sync/errgroup"
)

const (
	deltaSuffix    = ".delta"
	snapshotSuffix = ".snapshot"
	schemaObject   = "schema"

	maintenanceDeleteBatchSize   = 100
	maintenanceDeleteConcurrency = 4
)

// Provider owns the version line of one (partition, store name) key space. It hands out writable stores, one at a
// time, and keeps recently committed versions in memory. When an object store client is configured every committed
// version is persisted as a delta object and can be reloaded after a restart.
type Provider struct {
	lock          sync.Mutex
	id            ID
	schema        *row.Schema
	cfg           conf.Config
	objStore      objstore.Client
	versions      *lru.Cache
	latest        *snapshot
	writer        *memStore
	numKeysGauge  metrics.Gauge
	memBytesGauge metrics.Gauge
	commitCounter metrics.Counter
}

// NewProvider creates a provider. objStore may be nil, in which case versions only live in memory.
func NewProvider(id ID, schema *row.Schema, cfg conf.Config, objStore objstore.Client) (*Provider, error) {
	versions, err := lru.New(cfg.VersionsToRetainInMemory)
	if err != nil {
		return nil, errors.NewInvalidConfigurationError(err.Error())
	}
	labels := metrics.Labels{"store": id.StoreName, "partition": strconv.Itoa(id.Partition)}
	p := &Provider{
		id:            id,
		schema:        schema,
		cfg:           cfg,
		objStore:      objStore,
		versions:      versions,
		latest:        newSnapshot(0),
		numKeysGauge:  metrics.StoreNumKeys.With(labels),
		memBytesGauge: metrics.StoreMemoryBytes.With(labels),
		commitCounter: metrics.StoreCommits.With(labels),
	}
	p.versions.Add(int64(0), p.latest)
	return p, nil
}

// Open checks the persisted schema and loads the latest persisted version. It must be called before GetStore when
// an object store is configured.
func (p *Provider) Open(ctx context.Context) error {
	if p.objStore == nil {
		return nil
	}
	if err := p.checkSchema(ctx); err != nil {
		return err
	}
	infos, err := p.objStore.ListObjectsWithPrefix(ctx, p.cfg.StateBucket, p.keyPrefix(), -1)
	if err != nil {
		return err
	}
	latestVersion := int64(0)
	for _, info := range infos {
		if version, ok := parseVersion(info.Key, deltaSuffix); ok && version > latestVersion {
			latestVersion = version
		}
	}
	if latestVersion == 0 {
		return nil
	}
	snap, err := p.load(ctx, latestVersion, infos)
	if err != nil {
		return err
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	p.latest = snap
	p.versions.Add(snap.version, snap)
	p.updateGauges()
	log.Infof("store %s opened at version %d with %d keys", p.id, snap.version, snap.numKeys())
	return nil
}

func (p *Provider) checkSchema(ctx context.Context) error {
	schemaString := types.ColumnTypesToString(p.schema.ColumnTypes())
	key := p.keyPrefix() + schemaObject
	existing, err := p.objStore.Get(ctx, p.cfg.StateBucket, key)
	if err != nil {
		return err
	}
	if existing == nil {
		return p.objStore.Put(ctx, p.cfg.StateBucket, key, []byte(schemaString))
	}
	if string(existing) != schemaString {
		return errors.NewStoreErrorf(errors.InvalidConfiguration,
			"store %s was persisted with schema [%s] which does not match [%s]", p.id, string(existing), schemaString)
	}
	return nil
}

// GetStore opens a writable store on version, which must be the latest committed version. Only one writable store
// can be open at a time, it must be committed or aborted before the next is opened.
func (p *Provider) GetStore(version int64) (Store, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.writer != nil {
		return nil, errors.NewStoreErrorf(errors.Unavailable, "store %s already has an open writer on version %d",
			p.id, p.writer.base.version)
	}
	if version != p.latest.version {
		return nil, errors.NewStoreErrorf(errors.VersionConflict,
			"cannot write store %s at version %d, latest version is %d", p.id, version, p.latest.version)
	}
	p.writer = newMemStore(p, p.latest)
	return p.writer, nil
}

// LatestVersion returns the most recently committed version, 0 if nothing has been committed.
func (p *Provider) LatestVersion() int64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.latest.version
}

// View is a read only view of a committed version.
type View struct {
	snap *snapshot
}

func (v *View) Get(key []byte) []byte {
	val, _ := v.snap.get(key)
	return val
}

func (v *View) NewIterator(lower []byte, upper []byte) iteration.Iterator {
	return v.snap.newIterator(lower, upper)
}

func (v *View) Metrics() Metrics {
	return Metrics{NumKeys: v.snap.numKeys(), MemoryUsedBytes: v.snap.memBytes}
}

func (v *View) Version() int64 {
	return v.snap.version
}

// GetView returns a read only view of a committed version, loading it from the object store if it is no longer in
// memory.
func (p *Provider) GetView(ctx context.Context, version int64) (*View, error) {
	p.lock.Lock()
	if version > p.latest.version || version < 0 {
		p.lock.Unlock()
		return nil, errors.NewStoreErrorf(errors.VersionNotFound, "store %s has no version %d", p.id, version)
	}
	if version == p.latest.version {
		snap := p.latest
		p.lock.Unlock()
		return &View{snap: snap}, nil
	}
	if s, ok := p.versions.Get(version); ok {
		p.lock.Unlock()
		return &View{snap: s.(*snapshot)}, nil
	}
	p.lock.Unlock()
	if p.objStore == nil {
		return nil, errors.NewStoreErrorf(errors.VersionNotFound, "store %s version %d is no longer retained", p.id,
			version)
	}
	infos, err := p.objStore.ListObjectsWithPrefix(ctx, p.cfg.StateBucket, p.keyPrefix(), -1)
	if err != nil {
		return nil, err
	}
	snap, err := p.load(ctx, version, infos)
	if err != nil {
		return nil, err
	}
	p.versions.Add(version, snap)
	return &View{snap: snap}, nil
}

// load rebuilds version from the newest snapshot object at or before it followed by the deltas after that snapshot.
func (p *Provider) load(ctx context.Context, version int64, infos []objstore.ObjectInfo) (*snapshot, error) {
	fromVersion := int64(0)
	for _, info := range infos {
		if v, ok := parseVersion(info.Key, snapshotSuffix); ok && v <= version && v > fromVersion {
			fromVersion = v
		}
	}
	snap := newSnapshot(0)
	if fromVersion > 0 {
		kvs, err := p.getObject(ctx, p.objectKey(fromVersion, snapshotSuffix))
		if err != nil {
			return nil, err
		}
		snap = snap.apply(fromVersion, kvs)
	}
	for v := fromVersion + 1; v <= version; v++ {
		kvs, err := p.getObject(ctx, p.objectKey(v, deltaSuffix))
		if err != nil {
			return nil, err
		}
		snap = snap.apply(v, kvs)
	}
	log.Debugf("store %s loaded version %d from snapshot %d", p.id, version, fromVersion)
	return snap, nil
}

func (p *Provider) getObject(ctx context.Context, key string) ([]common.KV, error) {
	buff, err := p.objStore.Get(ctx, p.cfg.StateBucket, key)
	if err != nil {
		return nil, err
	}
	if buff == nil {
		return nil, errors.NewStoreErrorf(errors.VersionNotFound, "store %s object %s not found", p.id, key)
	}
	kvs, err := decodeDelta(buff)
	if err != nil {
		return nil, errors.Wrapf(err, "store %s object %s", p.id, key)
	}
	return kvs, nil
}

func (p *Provider) commit(ctx context.Context, m *memStore) (int64, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.writer != m {
		return 0, errors.NewStoreErrorf(errors.StoreClosed, "store %s instance %s is not the open writer", p.id,
			m.instanceID)
	}
	if err := ctx.Err(); err != nil {
		return 0, errors.WithStack(err)
	}
	writes := m.writes.kvs()
	newVersion := m.base.version + 1
	if p.objStore != nil {
		if err := p.objStore.Put(ctx, p.cfg.StateBucket, p.objectKey(newVersion, deltaSuffix),
			encodeDelta(writes)); err != nil {
			return 0, err
		}
	}
	snap := m.base.apply(newVersion, writes)
	p.latest = snap
	p.versions.Add(newVersion, snap)
	p.writer = nil
	p.updateGauges()
	p.commitCounter.Inc()
	return newVersion, nil
}

func (p *Provider) release(m *memStore) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.writer == m {
		p.writer = nil
	}
}

func (p *Provider) updateGauges() {
	p.numKeysGauge.Set(float64(p.latest.numKeys()))
	p.memBytesGauge.Set(float64(p.latest.memBytes))
}

// DoMaintenance writes a snapshot object for the latest version once enough deltas have accumulated since the last
// one, then deletes objects no longer needed to read any of the latest MinVersionsToRetain versions.
func (p *Provider) DoMaintenance(ctx context.Context) error {
	if p.objStore == nil {
		return nil
	}
	p.lock.Lock()
	latest := p.latest
	p.lock.Unlock()
	if latest.version == 0 {
		return nil
	}
	infos, err := p.objStore.ListObjectsWithPrefix(ctx, p.cfg.StateBucket, p.keyPrefix(), -1)
	if err != nil {
		return err
	}
	lastSnapshot := int64(0)
	for _, info := range infos {
		if v, ok := parseVersion(info.Key, snapshotSuffix); ok && v > lastSnapshot {
			lastSnapshot = v
		}
	}
	if latest.version-lastSnapshot >= int64(p.cfg.MinDeltasForSnapshot) {
		kvs := latest.entries(nil, nil)
		key := p.objectKey(latest.version, snapshotSuffix)
		if err := p.objStore.Put(ctx, p.cfg.StateBucket, key, encodeDelta(kvs)); err != nil {
			return err
		}
		infos = append(infos, objstore.ObjectInfo{Key: key})
		log.Debugf("store %s wrote snapshot at version %d", p.id, latest.version)
	}
	// the oldest version that must stay readable, and the snapshot it will be rebuilt from
	retainFrom := latest.version - int64(p.cfg.MinVersionsToRetain)
	base := int64(0)
	for _, info := range infos {
		if v, ok := parseVersion(info.Key, snapshotSuffix); ok && v <= retainFrom && v > base {
			base = v
		}
	}
	if base == 0 {
		return nil
	}
	var toDelete []string
	for _, info := range infos {
		if v, ok := parseVersion(info.Key, deltaSuffix); ok && v <= base {
			toDelete = append(toDelete, info.Key)
		} else if v, ok := parseVersion(info.Key, snapshotSuffix); ok && v < base {
			toDelete = append(toDelete, info.Key)
		}
	}
	if err := p.deleteObjects(ctx, toDelete); err != nil {
		return err
	}
	if len(toDelete) > 0 {
		log.Debugf("store %s maintenance deleted %d objects older than snapshot %d", p.id, len(toDelete), base)
	}
	return nil
}

func (p *Provider) deleteObjects(ctx context.Context, keys []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maintenanceDeleteConcurrency)
	for start := 0; start < len(keys); start += maintenanceDeleteBatchSize {
		batch := keys[start:min(start+maintenanceDeleteBatchSize, len(keys))]
		g.Go(func() error {
			return p.objStore.DeleteAll(ctx, p.cfg.StateBucket, batch)
		})
	}
	return g.Wait()
}

func (p *Provider) keyPrefix() string {
	return fmt.Sprintf("%s/%d/%s/", p.cfg.StatePrefix, p.id.Partition, p.id.StoreName)
}

func (p *Provider) objectKey(version int64, suffix string) string {
	return fmt.Sprintf("%s%020d%s", p.keyPrefix(), version, suffix)
}

func parseVersion(key string, suffix string) (int64, bool) {
	if !strings.HasSuffix(key, suffix) {
		return 0, false
	}
	name := key[strings.LastIndexByte(key, '/')+1 : len(key)-len(suffix)]
	v, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
