package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	konghcl "github.com/alecthomas/kong-hcl/v2"
	"github.com/spirit-labs/aggstore/agg"
	"github.com/spirit-labs/aggstore/conf"
	"github.com/spirit-labs/aggstore/errors"
	log "github.com/spirit-labs/aggstore/logger"
	"github.com/spirit-labs/aggstore/metrics"
	"github.com/spirit-labs/aggstore/objstore"
	"github.com/spirit-labs/aggstore/objstore/dev"
	"github.com/spirit-labs/aggstore/objstore/minio"
	"github.com/spirit-labs/aggstore/row"
)

type queryConfig struct {
	Schema     string        `help:"Input row schema, for example 'name: string, price: int, ts: timestamp'"`
	GroupBy    []string      `help:"Grouping columns"`
	Aggregates []string      `help:"Aggregate expressions, for example 'max(price)'. Supported functions are min, max, sum and count"`
	EventTime  string        `help:"Int or timestamp column holding event time in milliseconds. Enables watermark eviction"`
	Lateness   time.Duration `help:"How far behind the watermark a row's event time may fall before the row is evicted" default:"0s"`
	Partition  int           `help:"Partition whose state this instance owns" default:"0"`
}

type arguments struct {
	Config kong.ConfigFlag `help:"Path to config file" type:"existingfile"`
	Store  conf.Config     `help:"State store configuration" embed:"" prefix:""`
	Query  queryConfig     `help:"Aggregation configuration" embed:"" prefix:""`
	Log    log.Config      `help:"Configuration for the logger" embed:"" prefix:"log-"`
	Input  string          `help:"File of JSON lines deltas, - reads stdin" default:"-"`
}

func logErrorAndExit(msg string) {
	log.Errorf(msg)
	log.Sync()
	os.Exit(1)
}

func main() {
	r := &runner{}
	cfg, err := r.loadConfig(os.Args[1:])
	if err != nil {
		logErrorAndExit(err.Error())
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		sig := <-signals
		log.Warnf("signal: %s received. aggstore will stop after the current batch", sig.String())
		cancel()
	}()
	if err := r.setup(ctx, cfg); err != nil {
		logErrorAndExit(err.Error())
	}
	in := io.Reader(os.Stdin)
	if cfg.Input != "-" {
		f, err := os.Open(cfg.Input)
		if err != nil {
			logErrorAndExit(err.Error())
		}
		defer f.Close()
		in = f
	}
	out := bufio.NewWriter(os.Stdout)
	runErr := r.run(ctx, in, out)
	if err := out.Flush(); err != nil && runErr == nil {
		runErr = err
	}
	if err := r.stop(); err != nil {
		log.Warnf("failed to stop cleanly: %v", err)
	}
	if runErr != nil {
		logErrorAndExit(runErr.Error())
	}
}

type runner struct {
	objStore      objstore.Client
	metricsServer *metrics.Server
	schema        *row.Schema
	driver        *agg.Driver
}

func (r *runner) loadConfig(args []string) (*arguments, error) {
	cfg := arguments{}
	parser, err := kong.New(&cfg, kong.Configuration(konghcl.Loader))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if _, err = parser.Parse(args); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := cfg.Log.Configure(); err != nil {
		return nil, err
	}
	cfg.Store.ApplyDefaults()
	if err := cfg.Store.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// driverConfig resolves column names in the query configuration against the schema.
func driverConfig(q queryConfig) (agg.Config, error) {
	if q.Schema == "" {
		return agg.Config{}, errors.NewInvalidConfigurationError("schema must be specified")
	}
	if len(q.Aggregates) == 0 {
		return agg.Config{}, errors.NewInvalidConfigurationError("at least one aggregate must be specified")
	}
	schema, err := row.ParseSchema(q.Schema)
	if err != nil {
		return agg.Config{}, err
	}
	groupColumns := make([]int, 0, len(q.GroupBy))
	for _, name := range q.GroupBy {
		colIndex := schema.ColumnIndex(strings.TrimSpace(name))
		if colIndex < 0 {
			return agg.Config{}, errors.NewInvalidConfigurationError("unknown group by column '" + name + "'")
		}
		groupColumns = append(groupColumns, colIndex)
	}
	exprs, err := agg.ParseExprs(schema, q.Aggregates)
	if err != nil {
		return agg.Config{}, err
	}
	eventTimeColumn := agg.NoEventTime
	if q.EventTime != "" {
		eventTimeColumn = schema.ColumnIndex(q.EventTime)
		if eventTimeColumn < 0 {
			return agg.Config{}, errors.NewInvalidConfigurationError("unknown event time column '" + q.EventTime + "'")
		}
	}
	return agg.Config{
		Schema:          schema,
		GroupColumns:    groupColumns,
		Exprs:           exprs,
		EventTimeColumn: eventTimeColumn,
		Lateness:        q.Lateness.Milliseconds(),
	}, nil
}

func createObjStore(ctx context.Context, cfg conf.Config) (objstore.Client, error) {
	switch cfg.ObjectStoreType {
	case conf.ObjectStoreTypeDev:
		client := dev.NewInMemStore(0)
		return client, client.Start()
	case conf.ObjectStoreTypeMinio:
		client := minio.NewMinioClient(minio.Conf{
			Endpoint: cfg.MinioEndpoint,
			Username: cfg.MinioAccessKey,
			Password: cfg.MinioSecretKey,
			Secure:   cfg.MinioSecure,
		})
		if err := client.Start(); err != nil {
			return nil, err
		}
		if err := client.EnsureBucket(ctx, cfg.StateBucket); err != nil {
			return nil, err
		}
		return client, nil
	}
	return nil, nil
}

func (r *runner) setup(ctx context.Context, cfg *arguments) error {
	driverCfg, err := driverConfig(cfg.Query)
	if err != nil {
		return err
	}
	r.schema = driverCfg.Schema
	r.objStore, err = createObjStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	r.driver, err = agg.NewDriver(cfg.Query.Partition, driverCfg, cfg.Store, r.objStore)
	if err != nil {
		return err
	}
	if err := r.driver.Open(ctx); err != nil {
		return err
	}
	r.metricsServer = metrics.NewServer(cfg.Store)
	return r.metricsServer.Start()
}

// run applies the deltas read from in, one batch per commit line, and writes each batch's results to out. Deltas
// after the last commit line form a final batch.
func (r *runner) run(ctx context.Context, in io.Reader, out io.Writer) error {
	reader := newDeltaReader(in, r.schema)
	batchNum := 0
	for {
		batch, ok, err := reader.nextBatch()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		results, err := r.driver.ProcessBatch(ctx, batch)
		if err != nil {
			return err
		}
		batchNum++
		if err := writeResults(out, batchNum, results); err != nil {
			return err
		}
		if err := r.driver.DoMaintenance(ctx); err != nil {
			log.Warnf("state maintenance failed: %v", err)
		}
	}
}

func (r *runner) stop() error {
	if r.metricsServer != nil {
		if err := r.metricsServer.Stop(); err != nil {
			return err
		}
	}
	if r.objStore != nil {
		return r.objStore.Stop()
	}
	return nil
}
