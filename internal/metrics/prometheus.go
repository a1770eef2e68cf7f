package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics for the store daemon
type Metrics struct {
	MutationsTotal      *prometheus.CounterVec
	MutationDuration    prometheus.Histogram
	PersistsTotal       prometheus.Counter
	PersistDuration     prometheus.Histogram
	JournalAppendsTotal prometheus.Counter
	JournalRotations    prometheus.Counter
	SequencesAllocated  *prometheus.CounterVec
	ArchiveCyclesTotal  *prometheus.CounterVec
	SegmentsUploaded    prometheus.Counter
	SegmentsFailed      prometheus.Counter
	ActiveStores        prometheus.Gauge
	NoticesPublished    prometheus.Counter
}

// NewMetrics creates and registers all metrics on a fresh registry.
// Each call gets its own registry so tests can construct metrics
// without duplicate-registration panics.
func NewMetrics(serverID string) (*Metrics, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	labels := prometheus.Labels{"server_id": serverID}

	m := &Metrics{
		MutationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "branchstore_mutations_total",
			Help:        "Total mutations processed by action and outcome",
			ConstLabels: labels,
		}, []string{"action", "outcome"}),
		MutationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "branchstore_mutation_duration_seconds",
			Help:        "End-to-end mutation pipeline latency",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		PersistsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name:        "branchstore_persists_total",
			Help:        "Total snapshot persist operations",
			ConstLabels: labels,
		}),
		PersistDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "branchstore_persist_duration_seconds",
			Help:        "Snapshot persist latency",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		JournalAppendsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name:        "branchstore_journal_appends_total",
			Help:        "Total journal entries appended",
			ConstLabels: labels,
		}),
		JournalRotations: factory.NewCounter(prometheus.CounterOpts{
			Name:        "branchstore_journal_rotations_total",
			Help:        "Total journal segment rotations",
			ConstLabels: labels,
		}),
		SequencesAllocated: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "branchstore_sequences_allocated_total",
			Help:        "Total sequence values allocated by module and table",
			ConstLabels: labels,
		}, []string{"module", "table"}),
		ArchiveCyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "branchstore_archive_cycles_total",
			Help:        "Total archive cycles by outcome",
			ConstLabels: labels,
		}, []string{"outcome"}),
		SegmentsUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name:        "branchstore_segments_uploaded_total",
			Help:        "Total closed journal segments uploaded to the archival sink",
			ConstLabels: labels,
		}),
		SegmentsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name:        "branchstore_segments_failed_total",
			Help:        "Total closed journal segments that failed to upload",
			ConstLabels: labels,
		}),
		ActiveStores: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "branchstore_active_stores",
			Help:        "Number of hydrated module stores",
			ConstLabels: labels,
		}),
		NoticesPublished: factory.NewCounter(prometheus.CounterOpts{
			Name:        "branchstore_notices_published_total",
			Help:        "Total change notices published",
			ConstLabels: labels,
		}),
	}
	return m, registry
}

// Server exposes the metrics registry and a liveness endpoint over HTTP
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// NewServer creates a metrics HTTP server
func NewServer(port int, path string, registry *prometheus.Registry, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving in a background goroutine
func (s *Server) Start() {
	go func() {
		s.logger.Info("Starting metrics server", zap.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
