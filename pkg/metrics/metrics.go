// Package metrics exposes Prometheus instrumentation for the extraction
// scheduler.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Batch paths.
const (
	PathGrouped   = "grouped"
	PathSingleton = "singleton"
)

// Sub-batch outcomes.
const (
	OutcomeDone         = "done"
	OutcomeRetry        = "retry"
	OutcomeError        = "error"
	OutcomeInconsistent = "inconsistent"
)

type Metrics struct {
	// BlocksTotal counts blocks per extractor and sub-batch outcome.
	BlocksTotal *prometheus.CounterVec

	// SubBatchesTotal counts sub-batches per extractor and batching path.
	SubBatchesTotal *prometheus.CounterVec

	// FailuresTotal counts failed sub-batches per extractor and error kind.
	FailuresTotal *prometheus.CounterVec

	// SubBatchDuration observes the time to apply one sub-batch.
	SubBatchDuration *prometheus.HistogramVec

	// PassesTotal counts scheduler passes by whether any work was found.
	PassesTotal *prometheus.CounterVec

	// LastDoneBlock is the highest block number marked done per extractor.
	LastDoneBlock *prometheus.GaugeVec

	mu          sync.Mutex
	highestDone map[string]int64
}

func New() *Metrics {
	return &Metrics{
		BlocksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extract_blocks_total",
				Help: "Total number of blocks handled by extractors",
			},
			[]string{"extractor", "outcome"},
		),
		SubBatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extract_sub_batches_total",
				Help: "Total number of sub-batches applied",
			},
			[]string{"extractor", "path"},
		),
		FailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extract_failures_total",
				Help: "Total number of failed sub-batches",
			},
			[]string{"extractor", "kind"},
		),
		SubBatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extract_sub_batch_duration_seconds",
				Help:    "Time to apply a sub-batch",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"extractor"},
		),
		PassesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extract_passes_total",
				Help: "Total number of scheduler passes",
			},
			[]string{"state"},
		),
		LastDoneBlock: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "extract_last_done_block",
				Help: "Highest block number marked done",
			},
			[]string{"extractor"},
		),
		highestDone: map[string]int64{},
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.BlocksTotal,
		m.SubBatchesTotal,
		m.FailuresTotal,
		m.SubBatchDuration,
		m.PassesTotal,
		m.LastDoneBlock,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// InitExtractor initializes the series of an extractor with zero values so
// they appear before any work is done.
func (m *Metrics) InitExtractor(name string) {
	for _, outcome := range []string{OutcomeDone, OutcomeRetry, OutcomeError, OutcomeInconsistent} {
		m.BlocksTotal.WithLabelValues(name, outcome).Add(0)
	}
	m.SubBatchesTotal.WithLabelValues(name, PathGrouped).Add(0)
	m.SubBatchesTotal.WithLabelValues(name, PathSingleton).Add(0)
}

// ObserveSubBatch records the outcome of one sub-batch.
func (m *Metrics) ObserveSubBatch(extractor, outcome string, blocks int, took time.Duration) {
	m.BlocksTotal.WithLabelValues(extractor, outcome).Add(float64(blocks))
	m.SubBatchDuration.WithLabelValues(extractor).Observe(took.Seconds())
}

// ObserveDoneBlock raises LastDoneBlock of extractor to number. Sub-batches
// commit out of order, so lower numbers are ignored.
func (m *Metrics) ObserveDoneBlock(extractor string, number int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if highest, ok := m.highestDone[extractor]; ok && number <= highest {
		return
	}
	m.highestDone[extractor] = number
	m.LastDoneBlock.WithLabelValues(extractor).Set(float64(number))
}

// Handler serves the metrics of gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
