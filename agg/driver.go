package agg

import (
	"context"
	"fmt"
	"strings"

	"github.com/spirit-labs/aggstore/conf"
	"github.com/spirit-labs/aggstore/errors"
	"github.com/spirit-labs/aggstore/fullrow"
	log "github.com/spirit-labs/aggstore/logger"
	"github.com/spirit-labs/aggstore/meta"
	"github.com/spirit-labs/aggstore/metrics"
	"github.com/spirit-labs/aggstore/objstore"
	"github.com/spirit-labs/aggstore/row"
	"github.com/spirit-labs/aggstore/store"
	"github.com/spirit-labs/aggstore/types"
)

const (
	rowsStoreName  = "rows"
	metaStoreName  = "meta"
	stateStoreName = "state"

	// NoEventTime disables watermark eviction.
	NoEventTime = -1
)

var metaSchema = row.NewSchema([]string{"next_index", "changed"},
	[]types.ColumnType{types.ColumnTypeInt, types.ColumnTypeInt})

type Config struct {
	Schema       *row.Schema
	GroupColumns []int
	Exprs        []fullrow.AggExpr
	// EventTimeColumn is an int or timestamp column holding milliseconds, or NoEventTime.
	EventTimeColumn int
	// Lateness is how far, in milliseconds, a row's event time may fall behind the watermark before it is evicted.
	Lateness int64
}

// ParseExprs parses aggregate expressions of the form "max(price)".
func ParseExprs(schema *row.Schema, exprs []string) ([]fullrow.AggExpr, error) {
	res := make([]fullrow.AggExpr, 0, len(exprs))
	for _, s := range exprs {
		s = strings.TrimSpace(s)
		open := strings.IndexByte(s, '(')
		if open < 0 || !strings.HasSuffix(s, ")") {
			return nil, errors.NewInvalidConfigurationError(fmt.Sprintf("invalid aggregate expression %q", s))
		}
		kind, err := fullrow.ParseAggKind(s[:open])
		if err != nil {
			return nil, err
		}
		colName := strings.TrimSpace(s[open+1 : len(s)-1])
		colIndex := schema.ColumnIndex(colName)
		if colIndex < 0 {
			return nil, errors.NewInvalidConfigurationError(fmt.Sprintf("unknown column %q in %q", colName, s))
		}
		res = append(res, fullrow.AggExpr{Kind: kind, ColIndex: colIndex})
	}
	return res, nil
}

// Batch is a set of row deltas applied and committed together. Rows whose event time is before
// Watermark - Lateness are evicted when the batch commits. The cutoff never moves backwards, a Watermark of 0 or one
// below an earlier batch's leaves it where it was.
type Batch struct {
	Deltas    []Delta
	Watermark int64
}

type Delta struct {
	Retract bool
	Row     row.Row
}

// Result is the aggregate of a group touched by a batch.
type Result struct {
	Group   fullrow.GroupKey
	Key     []any
	Count   int64
	Values  []any
	Deleted bool
}

func (r Result) String() string {
	if r.Deleted {
		return fmt.Sprintf("%v deleted", r.Key)
	}
	return fmt.Sprintf("%v count=%d values=%v", r.Key, r.Count, r.Values)
}

// Driver maintains grouped aggregates for one partition. Every retained row, the per group metadata and the
// aggregate state live in three stores that are committed together at the end of each batch.
type Driver struct {
	partition     int
	cfg           Config
	funcs         []aggFunc
	comparators   []*fullrow.ValueComparator
	keyTypes      []types.ColumnType
	codec         stateCodec
	rowsProvider  *store.Provider
	metaProvider  *store.Provider
	stateProvider *store.Provider
}

func NewDriver(partition int, cfg Config, storeConf conf.Config, objStore objstore.Client) (*Driver, error) {
	if cfg.Schema == nil {
		return nil, errors.NewInvalidConfigurationError("schema must be specified")
	}
	colTypes := cfg.Schema.ColumnTypes()
	keyTypes := make([]types.ColumnType, len(cfg.GroupColumns))
	for i, colIndex := range cfg.GroupColumns {
		if colIndex < 0 || colIndex >= len(colTypes) {
			return nil, errors.NewInvalidConfigurationError(fmt.Sprintf("group column %d out of range", colIndex))
		}
		keyTypes[i] = colTypes[colIndex]
	}
	if len(cfg.Exprs) > meta.MaxExprs {
		return nil, errors.NewInvalidConfigurationError(fmt.Sprintf("at most %d aggregate expressions are supported",
			meta.MaxExprs))
	}
	for _, expr := range cfg.Exprs {
		if expr.ColIndex < 0 || expr.ColIndex >= len(colTypes) {
			return nil, errors.NewInvalidConfigurationError(fmt.Sprintf("aggregate column %d out of range",
				expr.ColIndex))
		}
	}
	comparators, err := fullrow.NewComparators(cfg.Schema, cfg.Exprs)
	if err != nil {
		return nil, err
	}
	funcs := make([]aggFunc, len(cfg.Exprs))
	stateNames := []string{"count"}
	stateTypes := []types.ColumnType{types.ColumnTypeInt}
	for i, expr := range cfg.Exprs {
		f, err := newAggFunc(expr, colTypes[expr.ColIndex], comparators[i])
		if err != nil {
			return nil, err
		}
		funcs[i] = f
		stateNames = append(stateNames, expr.String())
		stateTypes = append(stateTypes, f.ReturnType())
	}
	if cfg.EventTimeColumn != NoEventTime {
		if cfg.EventTimeColumn < 0 || cfg.EventTimeColumn >= len(colTypes) {
			return nil, errors.NewInvalidConfigurationError(fmt.Sprintf("event time column %d out of range",
				cfg.EventTimeColumn))
		}
		id := colTypes[cfg.EventTimeColumn].ID()
		if id != types.ColumnTypeIDInt && id != types.ColumnTypeIDTimestamp {
			return nil, errors.NewInvalidConfigurationError("event time column must be of type int or timestamp")
		}
	}
	if cfg.Lateness < 0 {
		return nil, errors.NewInvalidConfigurationError("lateness must be >= 0")
	}
	stateSchema := row.NewSchema(stateNames, stateTypes)
	d := &Driver{
		partition:   partition,
		cfg:         cfg,
		funcs:       funcs,
		comparators: comparators,
		keyTypes:    keyTypes,
		codec:       stateCodec{schema: stateSchema},
	}
	if d.rowsProvider, err = store.NewProvider(d.storeID(rowsStoreName), cfg.Schema, storeConf, objStore); err != nil {
		return nil, err
	}
	if d.metaProvider, err = store.NewProvider(d.storeID(metaStoreName), metaSchema, storeConf, objStore); err != nil {
		return nil, err
	}
	if d.stateProvider, err = store.NewProvider(d.storeID(stateStoreName), stateSchema, storeConf, objStore); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Driver) storeID(name string) store.ID {
	return store.ID{Partition: d.partition, StoreName: name}
}

func (d *Driver) providers() []*store.Provider {
	return []*store.Provider{d.rowsProvider, d.metaProvider, d.stateProvider}
}

// Open resumes from the latest persisted versions of the driver's stores.
func (d *Driver) Open(ctx context.Context) error {
	for _, p := range d.providers() {
		if err := p.Open(ctx); err != nil {
			return err
		}
	}
	return nil
}

// DoMaintenance compacts and trims the persisted versions of the driver's stores.
func (d *Driver) DoMaintenance(ctx context.Context) error {
	for _, p := range d.providers() {
		if err := p.DoMaintenance(ctx); err != nil {
			return err
		}
	}
	return nil
}

type batchContext struct {
	rows  *fullrow.Map
	meta  *meta.Map
	state *stateStore
}

func (b *batchContext) abortIfNeeded() {
	if err := b.rows.AbortIfNeeded(); err != nil {
		log.Warnf("failed to abort row store: %v", err)
	}
	if err := b.meta.AbortIfNeeded(); err != nil {
		log.Warnf("failed to abort metadata store: %v", err)
	}
	if err := b.state.abortIfNeeded(); err != nil {
		log.Warnf("failed to abort state store: %v", err)
	}
}

func (d *Driver) openStores(watermark int64) (*batchContext, error) {
	var stores []store.Store
	abortAll := func() {
		for _, st := range stores {
			_ = st.Abort()
		}
	}
	for _, p := range d.providers() {
		st, err := p.GetStore(p.LatestVersion())
		if err != nil {
			abortAll()
			return nil, err
		}
		stores = append(stores, st)
	}
	metaMap, err := meta.NewMap(stores[1], len(d.cfg.Exprs))
	if err != nil {
		abortAll()
		return nil, err
	}
	opts, err := d.evictionOptions(metaMap, watermark)
	if err != nil {
		abortAll()
		return nil, err
	}
	return &batchContext{
		rows:  fullrow.NewMap(stores[0], d.cfg.Schema, d.comparators, opts...),
		meta:  metaMap,
		state: &stateStore{st: stores[2], codec: d.codec},
	}, nil
}

// evictionOptions configures the full-row map with the cutoff committed by earlier batches, which explains retracted
// rows that are gone, and with the cutoff this batch evicts at. The cutoff only moves forward, so a batch with a
// lower or zero watermark still evicts late rows behind the committed cutoff.
func (d *Driver) evictionOptions(metaMap *meta.Map, watermark int64) ([]fullrow.Option, error) {
	if d.cfg.EventTimeColumn == NoEventTime {
		return nil, nil
	}
	committed, hasCutoff, err := metaMap.EvictionCutoff()
	if err != nil {
		return nil, err
	}
	var opts []fullrow.Option
	if hasCutoff {
		opts = append(opts, fullrow.WithEvictedPredicate(d.expiredBefore(committed)))
	}
	cutoff := committed
	if next := watermark - d.cfg.Lateness; watermark > 0 && (!hasCutoff || next > committed) {
		if err := metaMap.SetEvictionCutoff(next); err != nil {
			return nil, err
		}
		cutoff, hasCutoff = next, true
	}
	if hasCutoff {
		opts = append(opts, fullrow.WithWatermarkPredicate(d.expiredBefore(cutoff)))
	}
	return opts, nil
}

func (d *Driver) expiredBefore(cutoff int64) func(r row.Row) bool {
	col := d.cfg.EventTimeColumn
	return func(r row.Row) bool {
		switch v := r[col].(type) {
		case int64:
			return v < cutoff
		case types.Timestamp:
			return v.Val < cutoff
		}
		return false
	}
}

// ProcessBatch applies the batch and returns the new aggregate of every group it touched, in order of first touch.
// On error nothing the batch wrote is committed.
func (d *Driver) ProcessBatch(ctx context.Context, batch Batch) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bc, err := d.openStores(batch.Watermark)
	if err != nil {
		return nil, err
	}
	defer bc.abortIfNeeded()

	var touched []fullrow.GroupKey
	seen := map[fullrow.GroupKey]struct{}{}
	for _, delta := range batch.Deltas {
		if err := row.Validate(d.cfg.Schema, delta.Row); err != nil {
			return nil, err
		}
		group := fullrow.NewGroupKey(delta.Row, d.cfg.GroupColumns, d.cfg.Schema)
		if delta.Retract {
			err = d.retract(bc, group, delta.Row)
		} else {
			err = d.insert(bc, group, delta.Row)
		}
		if err != nil {
			return nil, err
		}
		if _, ok := seen[group]; !ok {
			seen[group] = struct{}{}
			touched = append(touched, group)
		}
	}
	if err := d.recompute(bc); err != nil {
		return nil, err
	}
	results, err := d.results(bc, touched)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rowsVersion, err := bc.rows.Commit(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := bc.meta.Commit(ctx); err != nil {
		return nil, err
	}
	if _, err := bc.state.commit(ctx); err != nil {
		return nil, err
	}
	metrics.BatchesProcessed.Inc()
	log.Debugf("partition %d processed batch of %d deltas touching %d groups, row store version %d", d.partition,
		len(batch.Deltas), len(touched), rowsVersion)
	return results, nil
}

func (d *Driver) insert(bc *batchContext, group fullrow.GroupKey, r row.Row) error {
	index, err := bc.meta.NextIndex(group)
	if err != nil {
		return err
	}
	if err := bc.rows.Put(group, index, r); err != nil {
		return err
	}
	state, _, err := bc.state.get(group)
	if err != nil {
		return err
	}
	state.count++
	for i, f := range d.funcs {
		if state.values[i], err = f.Add(state.values[i], r[d.cfg.Exprs[i].ColIndex]); err != nil {
			return err
		}
	}
	return bc.state.put(group, state)
}

func (d *Driver) retract(bc *batchContext, group fullrow.GroupKey, r row.Row) error {
	maxIndex, err := bc.meta.MaxIndex(group)
	if err != nil {
		return err
	}
	res, err := bc.rows.Remove(group, maxIndex, r)
	if err != nil {
		return err
	}
	if res == fullrow.UnexpectedAbsent {
		// the row never contributed to the aggregate
		return nil
	}
	state, exists, err := bc.state.get(group)
	if err != nil || !exists {
		return err
	}
	state.count--
	for i, f := range d.funcs {
		val, ok, err := f.Retract(state.values[i], r[d.cfg.Exprs[i].ColIndex])
		if err != nil {
			return err
		}
		if !ok {
			if err := bc.meta.MarkChanged(group, i); err != nil {
				return err
			}
		}
		state.values[i] = val
	}
	return bc.state.put(group, state)
}

// recompute restores min and max values invalidated by retractions from the retained rows.
func (d *Driver) recompute(bc *batchContext) error {
	for i, expr := range d.cfg.Exprs {
		if !expr.Kind.NeedsRecompute() {
			continue
		}
		changed, err := bc.meta.ChangedGroups(i)
		if err != nil {
			return err
		}
		if len(changed) == 0 {
			continue
		}
		iter, err := bc.rows.GroupIteratorByExpr(i, bc.meta)
		if err != nil {
			return err
		}
		for iter.HasNext() {
			gr := iter.Next()
			state, exists, err := bc.state.get(gr.Group)
			if err != nil {
				return err
			}
			if !exists {
				continue
			}
			state.values[i] = gr.Row[expr.ColIndex]
			if err := bc.state.put(gr.Group, state); err != nil {
				return err
			}
		}
		if err := bc.meta.ClearChanges(i); err != nil {
			return err
		}
		log.Debugf("partition %d recomputed %s for %d groups", d.partition, expr, len(changed))
	}
	return nil
}

func (d *Driver) results(bc *batchContext, touched []fullrow.GroupKey) ([]Result, error) {
	results := make([]Result, 0, len(touched))
	for _, group := range touched {
		key, err := group.Values(d.keyTypes)
		if err != nil {
			return nil, err
		}
		state, exists, err := bc.state.get(group)
		if err != nil {
			return nil, err
		}
		if !exists {
			// only retractions of rows that were never inserted
			continue
		}
		if state.count <= 0 {
			if err := bc.state.delete(group); err != nil {
				return nil, err
			}
			if err := bc.meta.Delete(group); err != nil {
				return nil, err
			}
			results = append(results, Result{Group: group, Key: key, Deleted: true})
			continue
		}
		results = append(results, Result{Group: group, Key: key, Count: state.count, Values: state.values})
	}
	return results, nil
}

// Current returns the committed aggregate of every group in group key order.
func (d *Driver) Current(ctx context.Context) ([]Result, error) {
	view, err := d.stateProvider.GetView(ctx, d.stateProvider.LatestVersion())
	if err != nil {
		return nil, err
	}
	var results []Result
	var decodeErr error
	err = forEachState(view.NewIterator(nil, nil), d.codec, func(group fullrow.GroupKey, state groupState) {
		key, err := group.Values(d.keyTypes)
		if err != nil {
			decodeErr = err
			return
		}
		results = append(results, Result{Group: group, Key: key, Count: state.count, Values: state.values})
	})
	if err != nil {
		return nil, err
	}
	return results, decodeErr
}
