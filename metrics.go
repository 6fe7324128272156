package facematch

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
type MetricsCollector interface {
	// RecordRegister is called after each registration attempt.
	RecordRegister(duration time.Duration, err error)

	// RecordRecognize is called after each recognition query.
	// matched reports whether at least one candidate cleared the threshold.
	RecordRecognize(matched bool, duration time.Duration, err error)

	// RecordDelete is called after each deletion.
	RecordDelete(duration time.Duration, err error)

	// RecordRebuild is called after each index rebuild.
	RecordRebuild(vectors int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordRegister(time.Duration, error)        {}
func (NoopMetricsCollector) RecordRecognize(bool, time.Duration, error) {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)          {}
func (NoopMetricsCollector) RecordRebuild(int, time.Duration, error)    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	RegisterCount       atomic.Int64
	RegisterErrors      atomic.Int64
	RegisterTotalNanos  atomic.Int64
	RecognizeCount      atomic.Int64
	RecognizeMatches    atomic.Int64
	RecognizeErrors     atomic.Int64
	RecognizeTotalNanos atomic.Int64
	DeleteCount         atomic.Int64
	DeleteErrors        atomic.Int64
	RebuildCount        atomic.Int64
	RebuildErrors       atomic.Int64
	RebuildTotalNanos   atomic.Int64
}

// RecordRegister implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRegister(duration time.Duration, err error) {
	b.RegisterCount.Add(1)
	b.RegisterTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RegisterErrors.Add(1)
	}
}

// RecordRecognize implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRecognize(matched bool, duration time.Duration, err error) {
	b.RecognizeCount.Add(1)
	b.RecognizeTotalNanos.Add(duration.Nanoseconds())
	if matched {
		b.RecognizeMatches.Add(1)
	}
	if err != nil {
		b.RecognizeErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(duration time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordRebuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRebuild(vectors int, duration time.Duration, err error) {
	b.RebuildCount.Add(1)
	b.RebuildTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RebuildErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		RegisterCount:    b.RegisterCount.Load(),
		RegisterErrors:   b.RegisterErrors.Load(),
		RegisterAvgNanos: avgNanos(&b.RegisterCount, &b.RegisterTotalNanos),
		RecognizeCount:   b.RecognizeCount.Load(),
		RecognizeMatches: b.RecognizeMatches.Load(),
		RecognizeErrors:  b.RecognizeErrors.Load(),
		RecognizeAvg:     avgNanos(&b.RecognizeCount, &b.RecognizeTotalNanos),
		DeleteCount:      b.DeleteCount.Load(),
		DeleteErrors:     b.DeleteErrors.Load(),
		RebuildCount:     b.RebuildCount.Load(),
		RebuildErrors:    b.RebuildErrors.Load(),
	}
}

func avgNanos(count, total *atomic.Int64) int64 {
	c := count.Load()
	if c == 0 {
		return 0
	}
	return total.Load() / c
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	RegisterCount    int64
	RegisterErrors   int64
	RegisterAvgNanos int64
	RecognizeCount   int64
	RecognizeMatches int64
	RecognizeErrors  int64
	RecognizeAvg     int64
	DeleteCount      int64
	DeleteErrors     int64
	RebuildCount     int64
	RebuildErrors    int64
}
