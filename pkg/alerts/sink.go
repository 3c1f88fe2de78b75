// Package alerts delivers flow alerts to one or more sinks: the structured
// log, Redis pub/sub, and HTTP webhooks.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hervehildenbrand/flow-radar/pkg/models"
)

// Sink is implemented by each alert destination.
type Sink interface {
	// Publish delivers one alert.
	Publish(ctx context.Context, alert models.Alert) error
	// Name returns a short identifier for logs (e.g. "redis").
	Name() string
}

// Fanout delivers every alert to all of its sinks. A failing sink does not
// prevent delivery to the others.
type Fanout struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewFanout creates a fan-out over sinks.
func NewFanout(sinks []Sink, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		sinks:  sinks,
		logger: logger.With(slog.String("component", "alerts")),
	}
}

// Len returns the number of sinks.
func (f *Fanout) Len() int { return len(f.sinks) }

// Name returns "fanout".
func (f *Fanout) Name() string { return "fanout" }

// Publish sends alert to every sink and returns a combined error naming each
// sink that failed.
func (f *Fanout) Publish(ctx context.Context, alert models.Alert) error {
	var errs []string
	for _, s := range f.sinks {
		if err := s.Publish(ctx, alert); err != nil {
			f.logger.ErrorContext(ctx, "alert sink failed",
				slog.String("sink", s.Name()),
				slog.Uint64("block", alert.BlockNumber),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("alerts: %d sink(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// LogSink writes alerts to a structured logger at warn level.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink over logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Publish logs the alert. It never fails.
func (s *LogSink) Publish(ctx context.Context, alert models.Alert) error {
	s.logger.WarnContext(ctx, "ALERT",
		slog.String("reason", alert.Reason),
		slog.String("category", alert.Category.String()),
		slog.Int("level", int(alert.Level)),
		slog.Uint64("block", alert.BlockNumber),
		slog.String("delta_wei", alert.Delta.String()),
		slog.Float64("delta_eth", alert.Delta.EtherFloat()),
	)
	return nil
}

// Name returns "log".
func (s *LogSink) Name() string { return "log" }
