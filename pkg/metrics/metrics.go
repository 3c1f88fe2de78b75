// Package metrics exposes Prometheus instrumentation for the flow watcher.
package metrics

import (
	"net/http"
	"time"

	"github.com/hervehildenbrand/flow-radar/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flow_radar"

var (
	BlocksProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "watcher",
		Name:      "blocks_processed_total",
		Help:      "Total blocks classified and summarized.",
	})

	FetchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "watcher",
		Name:      "fetch_errors_total",
		Help:      "Total failed block or head fetches.",
	})

	StepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "watcher",
		Name:      "step_duration_seconds",
		Help:      "Time to fetch, classify and persist one block.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	TransactionsClassified = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "classifier",
		Name:      "transactions_total",
		Help:      "Total transactions classified, by category.",
	}, []string{"category"})

	TransactionsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "classifier",
		Name:      "transactions_dropped_total",
		Help:      "Total transactions dropped for an undecodable value or timestamp.",
	})

	AlertsRaised = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "alerts_total",
		Help:      "Total alerts raised, by category.",
	}, []string{"category"})

	WindowSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "window_size",
		Help:      "Number of summaries held in the sliding window.",
	})

	LatestBlock = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "watcher",
		Name:      "latest_block",
		Help:      "Number of the last block processed.",
	})

	BlockFlowEther = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "block_flow_ether",
		Help:      "Value moved in the last processed block, by category, in ether.",
	}, []string{"category"})

	SinkFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sinks",
		Name:      "failures_total",
		Help:      "Total failed summary or alert deliveries, by sink kind.",
	}, []string{"sink"}) // "summary", "alert"
)

func init() {
	prometheus.MustRegister(
		BlocksProcessed,
		FetchErrors,
		StepDuration,
		TransactionsClassified,
		TransactionsDropped,
		AlertsRaised,
		WindowSize,
		LatestBlock,
		BlockFlowEther,
		SinkFailures,
	)
}

// ObserveBlock records one processed block: its classified transactions,
// dropped count, per-category flow and the time the step took.
func ObserveBlock(txs []models.ClassifiedTransaction, dropped int, s models.FlowSummary, took time.Duration) {
	BlocksProcessed.Inc()
	for _, tx := range txs {
		TransactionsClassified.WithLabelValues(tx.Category.String()).Inc()
	}
	TransactionsDropped.Add(float64(dropped))
	for _, c := range models.Categories {
		BlockFlowEther.WithLabelValues(c.String()).Set(s.Total(c).EtherFloat())
	}
	LatestBlock.Set(float64(s.BlockNumber))
	StepDuration.Observe(took.Seconds())
}

// ObserveAlerts counts raised alerts by category.
func ObserveAlerts(alerts []models.Alert) {
	for _, a := range alerts {
		AlertsRaised.WithLabelValues(a.Category.String()).Inc()
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
