package store

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func addDBStatsToSpan(span trace.Span, system, statement string, rowsCount int, duration time.Duration) {
	span.SetAttributes(
		attribute.Int("rowsCount", rowsCount),
		attribute.String("db.system", system),
		attribute.String("db.statement", statement),
		attribute.Float64("db.execution_time_ms", float64(duration.Milliseconds())),
	)
}

func utcNow() time.Time {
	return time.Now().UTC()
}

type options struct {
	now func() time.Time
}

type Option func(*options)

// WithClock replaces the clock used for claims, due times and creation stamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{now: utcNow}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
