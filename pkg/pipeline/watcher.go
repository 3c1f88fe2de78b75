// Package pipeline drives blocks through classification, aggregation and the
// flow monitor, and hands the results to sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hervehildenbrand/flow-radar/pkg/aggregator"
	"github.com/hervehildenbrand/flow-radar/pkg/classifier"
	"github.com/hervehildenbrand/flow-radar/pkg/ingest"
	"github.com/hervehildenbrand/flow-radar/pkg/metrics"
	"github.com/hervehildenbrand/flow-radar/pkg/models"
	"github.com/hervehildenbrand/flow-radar/pkg/monitor"
)

// DefaultPollInterval matches Ethereum's slot time.
const DefaultPollInterval = 12 * time.Second

// ErrSink wraps summary persistence failures. Run stops on them.
var ErrSink = errors.New("summary sink failed")

// SummarySink persists one summary at a time. An error from Append stops the
// watcher unless the sink is a BestEffortSink.
type SummarySink interface {
	Append(ctx context.Context, s models.FlowSummary) error
}

// BestEffortSink marks a summary sink whose failures are counted in
// StepResult.SinkDrops and logged instead of stopping the watcher.
type BestEffortSink interface {
	BestEffort() bool
}

func isBestEffort(sink SummarySink) bool {
	b, ok := sink.(BestEffortSink)
	return ok && b.BestEffort()
}

// AlertSink delivers one alert at a time.
type AlertSink interface {
	Publish(ctx context.Context, a models.Alert) error
}

// Options configures a Watcher. Zero values are valid.
type Options struct {
	PollInterval time.Duration
	// Heads triggers an immediate step on every new chain head.
	Heads        <-chan ingest.Head
	SummarySinks []SummarySink
	AlertSinks   []AlertSink
	Logger       *slog.Logger
}

// StepResult describes one processed block.
type StepResult struct {
	Summary models.FlowSummary
	Delta   *models.FlowDelta
	Alerts  []models.Alert
	Dropped int
	// SinkDrops counts best-effort summary sinks that failed for this block.
	SinkDrops int
}

// Watcher polls a block source and processes each new head block once, in
// order of arrival. It is not safe for concurrent Step calls.
type Watcher struct {
	source    ingest.BlockSource
	lookup    classifier.Lookup
	monitor   *monitor.FlowMonitor
	summaries []SummarySink
	alerts    []AlertSink
	heads     <-chan ingest.Head
	interval  time.Duration
	logger    *slog.Logger

	latestSeen atomic.Uint64
}

// NewWatcher creates a watcher over source, classifying with lookup and
// feeding mon.
func NewWatcher(source ingest.BlockSource, lookup classifier.Lookup, mon *monitor.FlowMonitor, opts Options) *Watcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{
		source:    source,
		lookup:    lookup,
		monitor:   mon,
		summaries: opts.SummarySinks,
		alerts:    opts.AlertSinks,
		heads:     opts.Heads,
		interval:  opts.PollInterval,
		logger:    opts.Logger.With(slog.String("component", "watcher")),
	}
}

// LatestSeen returns the last block number processed, or 0.
func (w *Watcher) LatestSeen() uint64 {
	return w.latestSeen.Load()
}

// Step processes the current head block if it is newer than the last one
// seen. It returns nil and no error when there is nothing new. Summary sink
// failures wrap ErrSink; by then the monitor has already been updated and
// the block is marked as seen. Best-effort sink failures only count.
func (w *Watcher) Step(ctx context.Context) (*StepResult, error) {
	start := time.Now()

	latest, err := w.source.LatestBlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest block: %w", err)
	}
	if latest <= w.latestSeen.Load() {
		return nil, nil
	}

	block, err := w.source.BlockByNumber(ctx, latest)
	if err != nil {
		return nil, fmt.Errorf("fetch block %d: %w", latest, err)
	}

	txs, dropped := classifier.ClassifyBlock(block, w.lookup)
	summary := aggregator.Summarize(txs)
	if aggregator.IsEmpty(summary) {
		// No decodable transactions: keep the block identity so the window
		// and the log still show which block was empty.
		summary.BlockNumber = latest
		summary.Timestamp, _ = models.ParseHexUint64(block.Timestamp)
	}

	delta, alerts := w.monitor.Push(summary)
	w.latestSeen.Store(latest)

	metrics.ObserveAlerts(alerts)
	metrics.WindowSize.Set(float64(w.monitor.Len()))

	result := &StepResult{Summary: summary, Delta: delta, Alerts: alerts, Dropped: dropped}

	for _, sink := range w.summaries {
		err := sink.Append(ctx, summary)
		if err == nil {
			continue
		}
		if isBestEffort(sink) {
			result.SinkDrops++
			metrics.SinkFailures.WithLabelValues("summary_best_effort").Inc()
			w.logger.Warn("summary not persisted",
				slog.Uint64("block", latest),
				slog.String("error", err.Error()),
			)
			continue
		}
		metrics.SinkFailures.WithLabelValues("summary").Inc()
		return result, fmt.Errorf("%w: block %d: %v", ErrSink, latest, err)
	}

	for _, a := range alerts {
		for _, sink := range w.alerts {
			if err := sink.Publish(ctx, a); err != nil {
				metrics.SinkFailures.WithLabelValues("alert").Inc()
				w.logger.Error("alert delivery failed",
					slog.Uint64("block", a.BlockNumber),
					slog.String("category", a.Category.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	metrics.ObserveBlock(txs, dropped, summary, time.Since(start))
	w.report(result)
	return result, nil
}

// report logs the outcome of a step.
func (w *Watcher) report(r *StepResult) {
	attrs := []any{
		slog.Uint64("block", r.Summary.BlockNumber),
		slog.Int("tx_count", r.Summary.TxCount),
		slog.Int("dropped", r.Dropped),
	}
	if r.SinkDrops > 0 {
		attrs = append(attrs, slog.Int("sink_drops", r.SinkDrops))
	}
	for _, c := range models.Categories {
		if v, ok := r.Summary.CategoryTotals[c]; ok {
			attrs = append(attrs, slog.String("total_"+c.String(), v.String()))
		}
	}
	w.logger.Info("block summarized", attrs...)

	if r.Delta != nil {
		deltaAttrs := []any{slog.Uint64("block", r.Delta.BlockNumber)}
		for _, c := range models.Categories {
			if v, ok := r.Delta.Deltas[c]; ok {
				deltaAttrs = append(deltaAttrs, slog.String(c.String(), v.String()))
			}
		}
		w.logger.Info("flow delta", deltaAttrs...)
	}

	if avg, ok := w.monitor.AvgFlow(models.CategoryForeign); ok {
		w.logger.Info("average foreign flow", slog.Float64("eth", avg.EtherFloat()))
	}
	if tail, ok := w.monitor.LatestBlock(); ok {
		w.logger.Info("monitoring up to block", slog.Uint64("block", tail))
	}
	w.monitor.LogWindow(w.logger)
}

// Run steps on every poll tick and head notification until ctx is done or
// a summary sink fails. Fetch errors are logged and retried on the next
// trigger.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("watcher started", slog.Duration("poll_interval", w.interval))

	heads := w.heads
	for {
		if err := w.step(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopped", slog.Uint64("latest_seen", w.latestSeen.Load()))
			return ctx.Err()
		case <-ticker.C:
		case head, ok := <-heads:
			if !ok {
				// Feed closed; fall back to polling only.
				heads = nil
				continue
			}
			w.logger.Debug("new head", slog.Uint64("block", head.Number))
		}
	}
}

func (w *Watcher) step(ctx context.Context) error {
	_, err := w.Step(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSink):
		return err
	case ctx.Err() != nil:
		return nil
	default:
		metrics.FetchErrors.Inc()
		w.logger.Warn("step failed, retrying", slog.String("error", err.Error()))
		return nil
	}
}
