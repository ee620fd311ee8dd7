package agg

import (
	"context"
	"testing"

	"github.com/spirit-labs/aggstore/conf"
	"github.com/spirit-labs/aggstore/errors"
	"github.com/spirit-labs/aggstore/fullrow"
	"github.com/spirit-labs/aggstore/objstore"
	"github.com/spirit-labs/aggstore/objstore/dev"
	"github.com/spirit-labs/aggstore/row"
	"github.com/spirit-labs/aggstore/types"
	"github.com/stretchr/testify/require"
)

var testSchema = row.NewSchema([]string{"name", "price", "ts", "flag"},
	[]types.ColumnType{types.ColumnTypeString, types.ColumnTypeInt, types.ColumnTypeTimestamp, types.ColumnTypeBool})

func testExprs(t *testing.T) []fullrow.AggExpr {
	exprs, err := ParseExprs(testSchema, []string{"min(price)", "max(price)", "sum(price)", "count(price)"})
	require.NoError(t, err)
	return exprs
}

func testConfig(t *testing.T) Config {
	return Config{
		Schema:          testSchema,
		GroupColumns:    []int{0},
		Exprs:           testExprs(t),
		EventTimeColumn: NoEventTime,
	}
}

func storeConf(objStoreType string) conf.Config {
	cfg := conf.Config{ObjectStoreType: objStoreType}
	cfg.ApplyDefaults()
	return cfg
}

func newDriver(t *testing.T, cfg Config, objStore objstore.Client) *Driver {
	t.Helper()
	storeType := conf.ObjectStoreTypeNone
	if objStore != nil {
		storeType = conf.ObjectStoreTypeDev
	}
	d, err := NewDriver(0, cfg, storeConf(storeType), objStore)
	require.NoError(t, err)
	require.NoError(t, d.Open(context.Background()))
	return d
}

func insert(name string, price any, ts int64) Delta {
	return Delta{Row: row.Row{name, price, types.NewTimestamp(ts), false}}
}

func retract(name string, price any, ts int64) Delta {
	return Delta{Retract: true, Row: row.Row{name, price, types.NewTimestamp(ts), false}}
}

func process(t *testing.T, d *Driver, deltas ...Delta) []Result {
	t.Helper()
	return processWithWatermark(t, d, 0, deltas...)
}

func processWithWatermark(t *testing.T, d *Driver, watermark int64, deltas ...Delta) []Result {
	t.Helper()
	results, err := d.ProcessBatch(context.Background(), Batch{Deltas: deltas, Watermark: watermark})
	require.NoError(t, err)
	return results
}

func requireResult(t *testing.T, res Result, name string, count int64, values ...any) {
	t.Helper()
	require.False(t, res.Deleted)
	require.Equal(t, []any{name}, res.Key)
	require.Equal(t, count, res.Count)
	require.Equal(t, values, res.Values)
}

func TestMinMaxUnderRetraction(t *testing.T) {
	d := newDriver(t, testConfig(t), nil)

	results := process(t, d, insert("A", int64(3), 1), insert("A", int64(7), 1), insert("B", int64(5), 1),
		insert("A", int64(1), 1))
	require.Equal(t, 2, len(results))
	requireResult(t, results[0], "A", 3, int64(1), int64(7), int64(11), int64(3))
	requireResult(t, results[1], "B", 1, int64(5), int64(5), int64(5), int64(1))

	results = process(t, d, retract("A", int64(7), 1))
	require.Equal(t, 1, len(results))
	requireResult(t, results[0], "A", 2, int64(1), int64(3), int64(4), int64(2))

	results = process(t, d, retract("A", int64(1), 1))
	requireResult(t, results[0], "A", 1, int64(3), int64(3), int64(3), int64(1))

	results = process(t, d, retract("A", int64(3), 1))
	require.Equal(t, 1, len(results))
	require.True(t, results[0].Deleted)
	require.Equal(t, []any{"A"}, results[0].Key)

	current, err := d.Current(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, len(current))
	requireResult(t, current[0], "B", 1, int64(5), int64(5), int64(5), int64(1))
}

func TestRetractAndReinsertInOneBatch(t *testing.T) {
	d := newDriver(t, testConfig(t), nil)
	process(t, d, insert("A", int64(3), 1), insert("A", int64(9), 1))
	results := process(t, d, retract("A", int64(9), 1), insert("A", int64(4), 1))
	require.Equal(t, 1, len(results))
	requireResult(t, results[0], "A", 2, int64(3), int64(4), int64(7), int64(2))
}

func TestRetractDuplicateRow(t *testing.T) {
	d := newDriver(t, testConfig(t), nil)
	process(t, d, insert("A", int64(5), 1), insert("A", int64(5), 1), insert("A", int64(2), 1))
	results := process(t, d, retract("A", int64(5), 1))
	requireResult(t, results[0], "A", 2, int64(2), int64(5), int64(7), int64(2))
}

func TestRetractNeverInserted(t *testing.T) {
	d := newDriver(t, testConfig(t), nil)
	process(t, d, insert("A", int64(5), 1))
	results := process(t, d, retract("A", int64(6), 1), retract("Z", int64(1), 1))
	require.Equal(t, 1, len(results))
	requireResult(t, results[0], "A", 1, int64(5), int64(5), int64(5), int64(1))
}

func TestNullValues(t *testing.T) {
	d := newDriver(t, testConfig(t), nil)
	results := process(t, d, insert("A", nil, 1))
	requireResult(t, results[0], "A", 1, nil, nil, nil, int64(0))
	results = process(t, d, insert("A", int64(4), 1))
	requireResult(t, results[0], "A", 2, int64(4), int64(4), int64(4), int64(1))
	results = process(t, d, retract("A", int64(4), 1))
	requireResult(t, results[0], "A", 1, nil, nil, int64(0), int64(0))
}

func TestGlobalGroup(t *testing.T) {
	cfg := testConfig(t)
	cfg.GroupColumns = nil
	d := newDriver(t, cfg, nil)
	results := process(t, d, insert("A", int64(3), 1), insert("B", int64(8), 1))
	require.Equal(t, 1, len(results))
	require.Equal(t, []any{}, results[0].Key)
	require.Equal(t, []any{int64(3), int64(8), int64(11), int64(2)}, results[0].Values)
}

func TestWatermarkEviction(t *testing.T) {
	cfg := testConfig(t)
	cfg.EventTimeColumn = 2
	cfg.Lateness = 100
	d := newDriver(t, cfg, nil)

	results := processWithWatermark(t, d, 300, insert("A", int64(1), 50), insert("A", int64(2), 500))
	requireResult(t, results[0], "A", 2, int64(1), int64(2), int64(3), int64(2))
	view, err := d.rowsProvider.GetView(context.Background(), d.rowsProvider.LatestVersion())
	require.NoError(t, err)
	require.Equal(t, int64(1), view.Metrics().NumKeys)

	// the evicted row is still retractable and min is recomputed from the remaining rows
	results = processWithWatermark(t, d, 300, retract("A", int64(1), 50))
	requireResult(t, results[0], "A", 1, int64(2), int64(2), int64(2), int64(1))
}

func TestRetractEvictedRowInLaterBatch(t *testing.T) {
	for _, watermark := range []int64{0, 120, 300} {
		cfg := testConfig(t)
		cfg.EventTimeColumn = 2
		cfg.Lateness = 100
		d := newDriver(t, cfg, nil)
		processWithWatermark(t, d, 300, insert("A", int64(1), 50), insert("A", int64(2), 500))

		// the row was evicted by the first batch, whatever this batch's watermark is
		results := processWithWatermark(t, d, watermark, retract("A", int64(1), 50))
		require.Equal(t, 1, len(results), "watermark %d", watermark)
		requireResult(t, results[0], "A", 1, int64(2), int64(2), int64(2), int64(1))

		// a missing row at or after the committed cutoff never contributed
		results = processWithWatermark(t, d, watermark, retract("A", int64(5), 250))
		requireResult(t, results[0], "A", 1, int64(2), int64(2), int64(2), int64(1))
	}
}

func TestLateInsertEvictedBehindCommittedCutoff(t *testing.T) {
	cfg := testConfig(t)
	cfg.EventTimeColumn = 2
	cfg.Lateness = 100
	d := newDriver(t, cfg, nil)
	processWithWatermark(t, d, 300, insert("A", int64(2), 500))

	results := process(t, d, insert("A", int64(9), 60))
	requireResult(t, results[0], "A", 2, int64(2), int64(9), int64(11), int64(2))
	view, err := d.rowsProvider.GetView(context.Background(), d.rowsProvider.LatestVersion())
	require.NoError(t, err)
	require.Equal(t, int64(1), view.Metrics().NumKeys)

	results = process(t, d, retract("A", int64(9), 60))
	requireResult(t, results[0], "A", 1, int64(2), int64(2), int64(2), int64(1))
}

func TestEvictionCutoffSurvivesRestart(t *testing.T) {
	objStore := dev.NewInMemStore(0)
	cfg := testConfig(t)
	cfg.EventTimeColumn = 2
	cfg.Lateness = 100
	d := newDriver(t, cfg, objStore)
	processWithWatermark(t, d, 300, insert("A", int64(1), 50), insert("A", int64(2), 500))

	d2 := newDriver(t, cfg, objStore)
	results := process(t, d2, retract("A", int64(1), 50))
	requireResult(t, results[0], "A", 1, int64(2), int64(2), int64(2), int64(1))
}

func TestResumeFromObjectStore(t *testing.T) {
	objStore := dev.NewInMemStore(0)
	d := newDriver(t, testConfig(t), objStore)
	process(t, d, insert("A", int64(3), 1), insert("A", int64(7), 1), insert("B", int64(5), 1))

	d2 := newDriver(t, testConfig(t), objStore)
	current, err := d2.Current(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, len(current))
	requireResult(t, current[0], "A", 2, int64(3), int64(7), int64(10), int64(2))

	results := process(t, d2, retract("A", int64(7), 1), insert("A", int64(6), 1))
	requireResult(t, results[0], "A", 2, int64(3), int64(6), int64(9), int64(2))
	require.NoError(t, d2.DoMaintenance(context.Background()))
}

func TestFailedBatchIsNotCommitted(t *testing.T) {
	d := newDriver(t, testConfig(t), nil)
	process(t, d, insert("A", int64(3), 1))
	_, err := d.ProcessBatch(context.Background(), Batch{Deltas: []Delta{
		insert("A", int64(10), 1),
		{Row: row.Row{"A", "not an int", types.NewTimestamp(1), false}},
	}})
	require.True(t, errors.HasCode(err, errors.InvalidConfiguration))

	current, err := d.Current(context.Background())
	require.NoError(t, err)
	requireResult(t, current[0], "A", 1, int64(3), int64(3), int64(3), int64(1))

	// the stores were released
	results := process(t, d, insert("A", int64(4), 1))
	requireResult(t, results[0], "A", 2, int64(3), int64(4), int64(7), int64(2))
}

func TestCancelledContext(t *testing.T) {
	d := newDriver(t, testConfig(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.ProcessBatch(ctx, Batch{Deltas: []Delta{insert("A", int64(1), 1)}})
	require.Error(t, err)
	current, err := d.Current(context.Background())
	require.NoError(t, err)
	require.Empty(t, current)
}

func TestInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Exprs = []fullrow.AggExpr{{Kind: fullrow.AggMax, ColIndex: 3}}
	_, err := NewDriver(0, cfg, storeConf(conf.ObjectStoreTypeNone), nil)
	require.True(t, errors.HasCode(err, errors.UnsupportedAggregateType))

	cfg.Exprs = []fullrow.AggExpr{{Kind: fullrow.AggSum, ColIndex: 0}}
	_, err = NewDriver(0, cfg, storeConf(conf.ObjectStoreTypeNone), nil)
	require.True(t, errors.HasCode(err, errors.UnsupportedAggregateType))

	cfg = testConfig(t)
	cfg.GroupColumns = []int{4}
	_, err = NewDriver(0, cfg, storeConf(conf.ObjectStoreTypeNone), nil)
	require.True(t, errors.HasCode(err, errors.InvalidConfiguration))

	cfg = testConfig(t)
	cfg.EventTimeColumn = 0
	_, err = NewDriver(0, cfg, storeConf(conf.ObjectStoreTypeNone), nil)
	require.True(t, errors.HasCode(err, errors.InvalidConfiguration))

	cfg = testConfig(t)
	cfg.Exprs = make([]fullrow.AggExpr, 65)
	_, err = NewDriver(0, cfg, storeConf(conf.ObjectStoreTypeNone), nil)
	require.True(t, errors.HasCode(err, errors.InvalidConfiguration))
}

func TestParseExprs(t *testing.T) {
	exprs, err := ParseExprs(testSchema, []string{"max(price)", " COUNT( name ) "})
	require.NoError(t, err)
	require.Equal(t, []fullrow.AggExpr{{Kind: fullrow.AggMax, ColIndex: 1}, {Kind: fullrow.AggCount, ColIndex: 0}},
		exprs)
	for _, s := range []string{"max", "max(nope)", "avg(price)", "max(price"} {
		_, err := ParseExprs(testSchema, []string{s})
		require.True(t, errors.HasCode(err, errors.InvalidConfiguration), s)
	}
}
