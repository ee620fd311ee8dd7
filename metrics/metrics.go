package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spirit-labs/aggstore/common"
	"github.com/spirit-labs/aggstore/conf"
	log "github.com/spirit-labs/aggstore/logger"
)

type (
	Labels      = prometheus.Labels
	Counter     = prometheus.Counter
	CounterVec  = prometheus.CounterVec
	CounterOpts = prometheus.CounterOpts
	Gauge       = prometheus.Gauge
	GaugeVec    = prometheus.GaugeVec
	GaugeOpts   = prometheus.GaugeOpts
)

const namespace = "aggstore"

var (
	StoreNumKeys = prometheus.NewGaugeVec(GaugeOpts{
		Namespace: namespace,
		Name:      "store_num_keys",
		Help:      "Live keys in the most recently committed version of a store",
	}, []string{"store", "partition"})

	StoreMemoryBytes = prometheus.NewGaugeVec(GaugeOpts{
		Namespace: namespace,
		Name:      "store_memory_bytes",
		Help:      "Bytes of keys and values in the most recently committed version of a store",
	}, []string{"store", "partition"})

	StoreCommits = prometheus.NewCounterVec(CounterOpts{
		Namespace: namespace,
		Name:      "store_commits_total",
		Help:      "Committed store versions",
	}, []string{"store", "partition"})

	RowRemoves = prometheus.NewCounterVec(CounterOpts{
		Namespace: namespace,
		Name:      "fullrow_removes_total",
		Help:      "Retractions applied to the full row map by result",
	}, []string{"result"})

	RowsEvicted = prometheus.NewCounter(CounterOpts{
		Namespace: namespace,
		Name:      "fullrow_evicted_rows_total",
		Help:      "Rows removed at commit because they fell behind the watermark",
	})

	BatchesProcessed = prometheus.NewCounter(CounterOpts{
		Namespace: namespace,
		Name:      "batches_processed_total",
		Help:      "Delta batches processed by the aggregation driver",
	})
)

func init() {
	prometheus.MustRegister(StoreNumKeys, StoreMemoryBytes, StoreCommits, RowRemoves, RowsEvicted, BatchesProcessed)
}

type Server struct {
	config     conf.Config
	httpServer *http.Server
	dummy      bool
}

type metricServer struct{}

func (ms *metricServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer, promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			DisableCompression: true,
		}),
	).ServeHTTP(w, r)
}

// NewServer creates the HTTP export server. When metrics are disabled the server does nothing.
func NewServer(config conf.Config) *Server {
	if !config.MetricsEnabled {
		return &Server{dummy: true}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", &metricServer{})
	return &Server{
		config: config,
		httpServer: &http.Server{
			Addr:    config.MetricsBind,
			Handler: mux,
		},
	}
}

func (s *Server) Start() error {
	if s.dummy {
		return nil
	}
	common.Go(func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("prometheus http export server failed to listen %v", err)
		}
	})
	log.Debugf("started prometheus http server on address %s", s.config.MetricsBind)
	return nil
}

func (s *Server) Stop() error {
	if s.dummy {
		return nil
	}
	return s.httpServer.Close()
}
