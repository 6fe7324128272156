// Package facematch provides the identity matching engine.
//
// This file implements index-specific fluent builder APIs for creating and
// configuring engines. Builders are immutable - each method returns a new
// builder with the updated configuration.
package facematch

import (
	"time"

	"github.com/facegate/facematch/confidence"
	"github.com/facegate/facematch/extractor"
	"github.com/facegate/facematch/index/flat"
	"github.com/facegate/facematch/index/ivf"
	"github.com/facegate/facematch/persistence"
)

// =============================================================================
// Exact Builder (Immutable)
// =============================================================================

// Exact creates a builder for an engine backed by the exact (brute-force)
// index. Every query scans the whole gallery, which is the right trade below
// roughly a hundred thousand identities.
//
// Example:
//
//	engine, err := facematch.Exact(512).
//	    Backend(backend).
//	    Logger(logger).
//	    Build()
func Exact(dimension int) ExactBuilder {
	return ExactBuilder{dimension: dimension}
}

// ExactBuilder is an immutable fluent builder for exact-index engines.
// Each method returns a new builder with the updated configuration.
type ExactBuilder struct {
	dimension int
	common    commonConfig
}

// Logger sets the structured logger for operation tracing.
func (b ExactBuilder) Logger(l *Logger) ExactBuilder {
	b.common.logger = l
	return b
}

// Metrics sets the metrics collector for monitoring.
func (b ExactBuilder) Metrics(mc MetricsCollector) ExactBuilder {
	b.common.metrics = mc
	return b
}

// Backend sets the durable storage backend.
func (b ExactBuilder) Backend(p persistence.Backend) ExactBuilder {
	b.common.backend = p
	return b
}

// Extractor sets the face embedding extractor for image operations.
func (b ExactBuilder) Extractor(e extractor.Extractor) ExactBuilder {
	b.common.extractor = e
	return b
}

// Thresholds sets the confidence classification thresholds.
func (b ExactBuilder) Thresholds(t confidence.Thresholds) ExactBuilder {
	b.common.thresholds = &t
	return b
}

// MatchThreshold sets the default recognition distance cutoff.
func (b ExactBuilder) MatchThreshold(t float32) ExactBuilder {
	b.common.matchThreshold = &t
	return b
}

// DefaultLimit sets the default number of candidates per recognition.
func (b ExactBuilder) DefaultLimit(k int) ExactBuilder {
	b.common.defaultLimit = k
	return b
}

// Build creates the exact-index engine.
func (b ExactBuilder) Build() (*Engine, error) {
	idx, err := flat.New(b.dimension)
	if err != nil {
		return nil, translateError(err)
	}
	return New(b.dimension, idx, b.common.options()...)
}

// MustBuild creates the engine, panicking on error.
func (b ExactBuilder) MustBuild() *Engine {
	e, err := b.Build()
	if err != nil {
		panic(err)
	}
	return e
}

// =============================================================================
// Clustered Builder (Immutable)
// =============================================================================

// Clustered creates a builder for an engine backed by the clustered
// (inverted-file) index. Queries probe only the nearest clusters, trading a
// small amount of recall for sub-linear scan cost on large galleries.
//
// Example:
//
//	engine, err := facematch.Clustered(512).
//	    Probes(8).
//	    AutoRebuild(1000, time.Minute).
//	    Build()
func Clustered(dimension int) ClusteredBuilder {
	return ClusteredBuilder{dimension: dimension}
}

// ClusteredBuilder is an immutable fluent builder for clustered-index
// engines. Each method returns a new builder with the updated configuration.
type ClusteredBuilder struct {
	dimension       int
	lists           int
	probes          int
	seed            *int64
	rebuildAfter    int
	rebuildInterval time.Duration
	policy          RebuildPolicy
	common          commonConfig
}

// Lists fixes the number of inverted lists instead of the sqrt(n) heuristic
// applied at rebuild time.
func (b ClusteredBuilder) Lists(n int) ClusteredBuilder {
	b.lists = n
	return b
}

// Probes sets the number of closest lists scanned per query.
// Higher values raise recall at the cost of scan time.
func (b ClusteredBuilder) Probes(n int) ClusteredBuilder {
	b.probes = n
	return b
}

// Seed fixes the centroid initialization seed for deterministic rebuilds.
func (b ClusteredBuilder) Seed(seed int64) ClusteredBuilder {
	b.seed = &seed
	return b
}

// AutoRebuild triggers a background rebuild after every n mutations, at most
// once per minInterval.
func (b ClusteredBuilder) AutoRebuild(n int, minInterval time.Duration) ClusteredBuilder {
	b.rebuildAfter = n
	b.rebuildInterval = minInterval
	return b
}

// RebuildPolicy sets the query behavior during rebuilds.
func (b ClusteredBuilder) RebuildPolicy(p RebuildPolicy) ClusteredBuilder {
	b.policy = p
	return b
}

// Logger sets the structured logger for operation tracing.
func (b ClusteredBuilder) Logger(l *Logger) ClusteredBuilder {
	b.common.logger = l
	return b
}

// Metrics sets the metrics collector for monitoring.
func (b ClusteredBuilder) Metrics(mc MetricsCollector) ClusteredBuilder {
	b.common.metrics = mc
	return b
}

// Backend sets the durable storage backend.
func (b ClusteredBuilder) Backend(p persistence.Backend) ClusteredBuilder {
	b.common.backend = p
	return b
}

// Extractor sets the face embedding extractor for image operations.
func (b ClusteredBuilder) Extractor(e extractor.Extractor) ClusteredBuilder {
	b.common.extractor = e
	return b
}

// Thresholds sets the confidence classification thresholds.
func (b ClusteredBuilder) Thresholds(t confidence.Thresholds) ClusteredBuilder {
	b.common.thresholds = &t
	return b
}

// MatchThreshold sets the default recognition distance cutoff.
func (b ClusteredBuilder) MatchThreshold(t float32) ClusteredBuilder {
	b.common.matchThreshold = &t
	return b
}

// DefaultLimit sets the default number of candidates per recognition.
func (b ClusteredBuilder) DefaultLimit(k int) ClusteredBuilder {
	b.common.defaultLimit = k
	return b
}

// Build creates the clustered-index engine.
func (b ClusteredBuilder) Build() (*Engine, error) {
	var ivfOpts []func(o *ivf.Options)
	if b.lists > 0 {
		ivfOpts = append(ivfOpts, ivf.WithLists(b.lists))
	}
	if b.probes > 0 {
		ivfOpts = append(ivfOpts, ivf.WithProbes(b.probes))
	}
	if b.seed != nil {
		ivfOpts = append(ivfOpts, ivf.WithSeed(*b.seed))
	}

	idx, err := ivf.New(b.dimension, ivfOpts...)
	if err != nil {
		return nil, translateError(err)
	}

	opts := b.common.options()
	opts = append(opts, WithRebuildPolicy(b.policy))
	if b.rebuildAfter > 0 {
		opts = append(opts, WithAutoRebuild(b.rebuildAfter, b.rebuildInterval))
	}
	return New(b.dimension, idx, opts...)
}

// MustBuild creates the engine, panicking on error.
func (b ClusteredBuilder) MustBuild() *Engine {
	e, err := b.Build()
	if err != nil {
		panic(err)
	}
	return e
}

// commonConfig holds the builder fields shared by both index strategies.
type commonConfig struct {
	logger         *Logger
	metrics        MetricsCollector
	backend        persistence.Backend
	extractor      extractor.Extractor
	thresholds     *confidence.Thresholds
	matchThreshold *float32
	defaultLimit   int
}

func (c commonConfig) options() []Option {
	var opts []Option
	if c.logger != nil {
		opts = append(opts, WithLogger(c.logger))
	}
	if c.metrics != nil {
		opts = append(opts, WithMetricsCollector(c.metrics))
	}
	if c.backend != nil {
		opts = append(opts, WithBackend(c.backend))
	}
	if c.extractor != nil {
		opts = append(opts, WithExtractor(c.extractor))
	}
	if c.thresholds != nil {
		opts = append(opts, WithThresholds(*c.thresholds))
	}
	if c.matchThreshold != nil {
		opts = append(opts, WithMatchThreshold(*c.matchThreshold))
	}
	if c.defaultLimit > 0 {
		opts = append(opts, WithDefaultLimit(c.defaultLimit))
	}
	return opts
}
