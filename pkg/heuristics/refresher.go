package heuristics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultRefreshInterval is how often a Refresher reloads its store.
const DefaultRefreshInterval = 15 * time.Minute

// Refresher periodically reloads a Store into a live Registry, so a
// registry shared with other processes (Redis, PostgreSQL) picks up their
// additions. A failed reload keeps the current contents.
type Refresher struct {
	store    Store
	target   *Registry
	interval time.Duration
	logger   *slog.Logger

	done chan struct{}
	wg   sync.WaitGroup

	mu         sync.Mutex
	lastUpdate time.Time
}

// NewRefresher creates a refresher. interval <= 0 uses DefaultRefreshInterval.
func NewRefresher(store Store, target *Registry, interval time.Duration, logger *slog.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		store:    store,
		target:   target,
		interval: interval,
		logger:   logger.With(slog.String("component", "heuristics_refresh")),
		done:     make(chan struct{}),
	}
}

// Start begins periodic refresh. The first reload happens after one
// interval; the caller is expected to have loaded the registry already.
func (r *Refresher) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), r.interval)
				_ = r.Refresh(ctx)
				cancel()
			case <-r.done:
				return
			}
		}
	}()
}

// Stop stops the refresher.
func (r *Refresher) Stop() {
	close(r.done)
	r.wg.Wait()
}

// Refresh reloads the store once.
func (r *Refresher) Refresh(ctx context.Context) error {
	start := time.Now()

	loaded, err := r.store.Load(ctx)
	if err != nil {
		r.logger.Warn("refresh failed", slog.String("error", err.Error()))
		return err
	}
	r.target.Replace(loaded)

	r.mu.Lock()
	r.lastUpdate = time.Now()
	r.mu.Unlock()

	cex, bridge := r.target.Count()
	r.logger.Debug("registry refreshed",
		slog.Int("cex", cex),
		slog.Int("bridge", bridge),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// LastUpdate returns the time of the last successful refresh.
func (r *Refresher) LastUpdate() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUpdate
}
