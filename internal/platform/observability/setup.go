package observability

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Config controls what spans and metrics write to the log.
type Config struct {
	// Enabled logs every span and metric datapoint at debug level.
	Enabled bool
	// SlowSpan logs spans that take at least this long at warn level, even
	// when Enabled is false. Zero disables the check.
	SlowSpan time.Duration
}

// ShutdownFunc detaches the sink and logs the aggregated metric summary.
type ShutdownFunc func(context.Context) error

type sink struct {
	logger *slog.Logger
	cfg    Config
}

var current atomic.Pointer[sink]

func activeSink() *sink {
	s := current.Load()
	if s == nil || s.logger == nil {
		return nil
	}
	return s
}

// Setup installs logger as the span and metric sink. Metrics are aggregated
// in memory whether or not a sink is installed.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (ShutdownFunc, error) {
	s := &sink{logger: logger, cfg: cfg}
	current.Store(s)

	if logger != nil {
		logger.LogAttrs(ctx, slog.LevelInfo, "[OBSERVABILITY] sink installed",
			slog.Bool("enabled", cfg.Enabled),
			slog.Duration("slow_span", cfg.SlowSpan),
		)
	}

	return func(ctx context.Context) error {
		// a later Setup keeps its own sink
		current.CompareAndSwap(s, nil)
		if logger == nil {
			return nil
		}
		for _, m := range Snapshot() {
			attrs := []slog.Attr{
				slog.String("metric", m.Name),
				slog.Int64("count", m.Count),
				slog.Float64("min", m.Min),
				slog.Float64("max", m.Max),
				slog.Float64("avg", m.Sum/float64(m.Count)),
			}
			for k, v := range m.Labels {
				attrs = append(attrs, slog.String(k, v))
			}
			logger.LogAttrs(ctx, slog.LevelInfo, "[OBSERVABILITY] metric summary", attrs...)
		}
		return nil
	}, nil
}
