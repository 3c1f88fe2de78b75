package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hervehildenbrand/flow-radar/pkg/models"
)

const (
	batchSize     = 50
	batchInterval = 2 * time.Second
	queueSize     = 10000
	writeTimeout  = 30 * time.Second
)

var (
	// ErrQueueFull is returned by Append and Publish when the record was
	// dropped because the write queue is full.
	ErrQueueFull = errors.New("write queue full, record dropped")
	// ErrBatchFailed is returned by the next Append after a batch failed to
	// commit in the background.
	ErrBatchFailed = errors.New("summary batch write failed")
)

// record is one queued row: exactly one of summary or alert is set.
type record struct {
	summary *models.FlowSummary
	alert   *models.Alert
}

// SummaryWriter batches flow summaries and alerts into PostgreSQL.
// Append and Publish never block; when the queue is full the record is
// dropped, counted and ErrQueueFull is returned. Writes happen in the
// background, so a failed batch surfaces as ErrBatchFailed on the following
// Append. The writer is a best-effort sink: see BestEffort.
type SummaryWriter struct {
	db      *sql.DB
	queue   chan record
	done    chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
	logger  *slog.Logger

	errMu    sync.Mutex
	batchErr error

	// Stats
	summariesWritten uint64
	alertsWritten    uint64
	dropped          uint64
	batchesWritten   uint64
	failedBatches    uint64
}

// NewSummaryWriter creates a writer over db. Call Start before appending.
func NewSummaryWriter(db *sql.DB, logger *slog.Logger) *SummaryWriter {
	return newSummaryWriter(db, logger, queueSize)
}

func newSummaryWriter(db *sql.DB, logger *slog.Logger, size int) *SummaryWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SummaryWriter{
		db:     db,
		queue:  make(chan record, size),
		done:   make(chan struct{}),
		logger: logger.With(slog.String("component", "summary_writer")),
	}
}

// Start begins the background writer goroutine.
func (w *SummaryWriter) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.writerLoop()
	w.logger.Info("summary writer started")
}

// Stop gracefully shuts down the writer, flushing queued records.
// The database handle is left open for its owner to close.
func (w *SummaryWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()
	w.logger.Info("summary writer stopped",
		slog.Uint64("summaries", atomic.LoadUint64(&w.summariesWritten)),
		slog.Uint64("alerts", atomic.LoadUint64(&w.alertsWritten)),
		slog.Uint64("dropped", atomic.LoadUint64(&w.dropped)),
		slog.Uint64("batches", atomic.LoadUint64(&w.batchesWritten)),
	)
}

// Append queues a summary for writing. The summary is still queued when a
// previous batch failure is reported.
func (w *SummaryWriter) Append(_ context.Context, s models.FlowSummary) error {
	c := s.Clone()
	if err := w.enqueue(record{summary: &c}); err != nil {
		return fmt.Errorf("summary %d: %w", s.BlockNumber, err)
	}

	w.errMu.Lock()
	err := w.batchErr
	w.batchErr = nil
	w.errMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBatchFailed, err)
	}
	return nil
}

// Publish queues an alert for writing.
func (w *SummaryWriter) Publish(_ context.Context, a models.Alert) error {
	if err := w.enqueue(record{alert: &a}); err != nil {
		return fmt.Errorf("alert %d/%s: %w", a.BlockNumber, a.Category, err)
	}
	return nil
}

// BestEffort reports that losing a summary here must not stop the watcher;
// the summary log remains the durable record.
func (w *SummaryWriter) BestEffort() bool { return true }

// Name returns "postgres".
func (w *SummaryWriter) Name() string { return "postgres" }

func (w *SummaryWriter) enqueue(r record) error {
	select {
	case w.queue <- r:
		return nil
	default:
		// Queue full, drop record
		n := atomic.AddUint64(&w.dropped, 1)
		if n%1000 == 1 {
			w.logger.Warn("write queue full, dropping records", slog.Uint64("dropped", n))
		}
		return ErrQueueFull
	}
}

func (w *SummaryWriter) recordBatchError(err error) {
	atomic.AddUint64(&w.failedBatches, 1)
	w.errMu.Lock()
	w.batchErr = err
	w.errMu.Unlock()
}

// Stats returns writer statistics.
func (w *SummaryWriter) Stats() map[string]interface{} {
	return map[string]interface{}{
		"summaries_written": atomic.LoadUint64(&w.summariesWritten),
		"alerts_written":    atomic.LoadUint64(&w.alertsWritten),
		"dropped":           atomic.LoadUint64(&w.dropped),
		"batches_written":   atomic.LoadUint64(&w.batchesWritten),
		"failed_batches":    atomic.LoadUint64(&w.failedBatches),
		"queue_len":         len(w.queue),
		"queue_cap":         cap(w.queue),
	}
}

func (w *SummaryWriter) writerLoop() {
	defer w.wg.Done()

	batch := make([]record, 0, batchSize)
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	for {
		select {
		case r := <-w.queue:
			batch = append(batch, r)
			if len(batch) >= batchSize {
				w.writeBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.writeBatch(batch)
				batch = batch[:0]
			}

		case <-w.done:
			// Drain whatever is queued without closing the channel, so a
			// late Append cannot panic.
		drain:
			for {
				select {
				case r := <-w.queue:
					batch = append(batch, r)
					if len(batch) >= batchSize {
						w.writeBatch(batch)
						batch = batch[:0]
					}
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				w.writeBatch(batch)
			}
			return
		}
	}
}

func (w *SummaryWriter) writeBatch(batch []record) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.recordBatchError(err)
		w.logger.Error("failed to begin transaction", slog.String("error", err.Error()))
		return
	}
	defer tx.Rollback()

	var summaries, alerts uint64
	for _, r := range batch {
		switch {
		case r.summary != nil:
			if err := writeSummary(ctx, tx, *r.summary); err != nil {
				w.logger.Error("failed to write summary",
					slog.Uint64("block", r.summary.BlockNumber),
					slog.String("error", err.Error()),
				)
				continue
			}
			summaries++
		case r.alert != nil:
			if err := writeAlert(ctx, tx, *r.alert); err != nil {
				w.logger.Error("failed to write alert",
					slog.Uint64("block", r.alert.BlockNumber),
					slog.String("error", err.Error()),
				)
				continue
			}
			alerts++
		}
	}

	if err := tx.Commit(); err != nil {
		w.recordBatchError(err)
		w.logger.Error("failed to commit batch", slog.String("error", err.Error()))
		return
	}

	atomic.AddUint64(&w.summariesWritten, summaries)
	atomic.AddUint64(&w.alertsWritten, alerts)
	atomic.AddUint64(&w.batchesWritten, 1)
}

// summaryArgs returns the column values of a flow_summaries row, in
// statement order.
func summaryArgs(s models.FlowSummary) ([]interface{}, error) {
	totals, err := json.Marshal(s.CategoryTotals)
	if err != nil {
		return nil, fmt.Errorf("encode totals: %w", err)
	}
	return []interface{}{
		int64(s.BlockNumber),
		time.Unix(int64(s.Timestamp), 0).UTC(),
		s.TxCount,
		s.Total(models.CategoryDomestic).String(),
		s.Total(models.CategoryBridge).String(),
		s.Total(models.CategoryForeign).String(),
		s.Total(models.CategoryUnknown).String(),
		string(totals),
	}, nil
}

// writeSummary upserts by block number; a re-processed block refreshes its
// totals and last_seen_at.
func writeSummary(ctx context.Context, tx *sql.Tx, s models.FlowSummary) error {
	args, err := summaryArgs(s)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO flow_summaries (
			block_number, block_time, tx_count,
			domestic_wei, bridge_wei, foreign_wei, unknown_wei, totals
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (block_number) DO UPDATE SET
			tx_count = EXCLUDED.tx_count,
			domestic_wei = EXCLUDED.domestic_wei,
			bridge_wei = EXCLUDED.bridge_wei,
			foreign_wei = EXCLUDED.foreign_wei,
			unknown_wei = EXCLUDED.unknown_wei,
			totals = EXCLUDED.totals,
			last_seen_at = now()
	`, args...)
	return err
}

func alertArgs(a models.Alert) []interface{} {
	return []interface{}{
		int64(a.BlockNumber),
		a.Category.String(),
		int16(a.Level),
		a.Reason,
		a.Delta.String(),
	}
}

func writeAlert(ctx context.Context, tx *sql.Tx, a models.Alert) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO flow_alerts (block_number, category, level, reason, delta_wei)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (block_number, category) DO UPDATE SET
			level = GREATEST(flow_alerts.level, EXCLUDED.level),
			delta_wei = EXCLUDED.delta_wei,
			reason = EXCLUDED.reason
	`, alertArgs(a)...)
	return err
}

// LatestSummaries returns up to n summaries ordered by block number,
// oldest first.
func LatestSummaries(ctx context.Context, db *sql.DB, n int) ([]models.FlowSummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT block_number, block_time, tx_count, totals FROM (
			SELECT block_number, block_time, tx_count, totals
			FROM flow_summaries
			ORDER BY block_number DESC
			LIMIT $1
		) latest
		ORDER BY block_number ASC
	`, n)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []models.FlowSummary
	for rows.Next() {
		var (
			block   int64
			blockAt time.Time
			txCount int
			totals  []byte
		)
		if err := rows.Scan(&block, &blockAt, &txCount, &totals); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s := models.FlowSummary{
			BlockNumber: uint64(block),
			Timestamp:   uint64(blockAt.Unix()),
			TxCount:     txCount,
		}
		if err := json.Unmarshal(totals, &s.CategoryTotals); err != nil {
			return nil, fmt.Errorf("decode totals for block %d: %w", block, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}
	return out, nil
}
