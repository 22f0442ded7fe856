package observability

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Enabled reports whether span and metric logging is on.
func Enabled() bool {
	s := activeSink()
	return s != nil && s.cfg.Enabled
}

// StartSpan times an operation. With logging enabled both ends are logged;
// otherwise only spans slower than Config.SlowSpan are.
func StartSpan(ctx context.Context, component, operation string) (context.Context, func(error)) {
	s := activeSink()
	if s == nil || (!s.cfg.Enabled && s.cfg.SlowSpan <= 0) {
		return ctx, func(error) {}
	}

	start := time.Now()
	if s.cfg.Enabled {
		s.logger.LogAttrs(ctx, slog.LevelDebug, "obs span start",
			slog.String("component", component),
			slog.String("operation", operation),
		)
	}

	return ctx, func(err error) {
		elapsed := time.Since(start)
		attrs := []slog.Attr{
			slog.String("component", component),
			slog.String("operation", operation),
			slog.Duration("duration", elapsed),
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}

		switch {
		case s.cfg.Enabled && err != nil:
			s.logger.LogAttrs(ctx, slog.LevelError, "obs span end", attrs...)
		case s.cfg.Enabled:
			s.logger.LogAttrs(ctx, slog.LevelDebug, "obs span end", attrs...)
		}
		if s.cfg.SlowSpan > 0 && elapsed >= s.cfg.SlowSpan {
			s.logger.LogAttrs(ctx, slog.LevelWarn, "obs slow span", attrs...)
		}
	}
}

// MetricSummary aggregates every datapoint recorded under one series.
type MetricSummary struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Count  int64             `json:"count"`
	Sum    float64           `json:"sum"`
	Min    float64           `json:"min"`
	Max    float64           `json:"max"`
	Last   float64           `json:"last"`
}

var (
	metricsMu sync.Mutex
	metrics   = map[string]*MetricSummary{}
)

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

// RecordMetric aggregates a datapoint and, when enabled, emits it via the
// configured logger.
func RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) {
	key := seriesKey(name, labels)

	metricsMu.Lock()
	m, ok := metrics[key]
	if !ok {
		copied := make(map[string]string, len(labels))
		for k, v := range labels {
			copied[k] = v
		}
		m = &MetricSummary{Name: name, Labels: copied, Min: value, Max: value}
		metrics[key] = m
	}
	m.Count++
	m.Sum += value
	m.Last = value
	if value < m.Min {
		m.Min = value
	}
	if value > m.Max {
		m.Max = value
	}
	metricsMu.Unlock()

	sk := activeSink()
	if sk == nil || !sk.cfg.Enabled {
		return
	}

	attrs := []slog.Attr{
		slog.String("metric", name),
		slog.Float64("value", value),
	}
	for k, v := range labels {
		attrs = append(attrs, slog.String(k, v))
	}

	sk.logger.LogAttrs(ctx, slog.LevelDebug, "obs metric", attrs...)
}

// Snapshot returns a copy of every aggregated series, sorted by name.
func Snapshot() []MetricSummary {
	metricsMu.Lock()
	out := make([]MetricSummary, 0, len(metrics))
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m := *metrics[k]
		labels := make(map[string]string, len(m.Labels))
		for lk, lv := range m.Labels {
			labels[lk] = lv
		}
		m.Labels = labels
		out = append(out, m)
	}
	metricsMu.Unlock()
	return out
}

// ResetMetrics drops every aggregated series.
func ResetMetrics() {
	metricsMu.Lock()
	metrics = map[string]*MetricSummary{}
	metricsMu.Unlock()
}
