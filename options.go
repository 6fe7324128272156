package facematch

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/facegate/facematch/confidence"
	"github.com/facegate/facematch/extractor"
	"github.com/facegate/facematch/persistence"
)

// RebuildPolicy controls how recognition queries behave while an index
// rebuild is in flight.
type RebuildPolicy int

const (
	// ServeOld keeps answering queries from the previous complete index
	// state until the rebuilt one is swapped in. This is the default: the
	// old state is consistent, just slightly stale.
	ServeOld RebuildPolicy = iota

	// FailFast rejects queries with ErrIndexUnavailable while a rebuild is
	// running. Use when stale answers are worse than no answer.
	FailFast
)

// DefaultMatchThreshold is the cosine distance cutoff for recognition: a
// candidate at or beyond it is not a match. Matches the Low confidence
// boundary so every returned match has at least Medium confidence.
const DefaultMatchThreshold float32 = 0.45

// DefaultLimit is the default number of candidates a recognition returns.
const DefaultLimit = 1

type options struct {
	logger         *Logger
	metrics        MetricsCollector
	thresholds     confidence.Thresholds
	matchThreshold float32
	defaultLimit   int
	backend        persistence.Backend
	extractor      extractor.Extractor
	duringRebuild  RebuildPolicy
	rebuildAfter   int
	rebuildLimiter *rate.Limiter
	now            func() time.Time
}

func defaultOptions() options {
	return options{
		logger:         NoopLogger(),
		metrics:        NoopMetricsCollector{},
		thresholds:     confidence.DefaultThresholds,
		matchThreshold: DefaultMatchThreshold,
		defaultLimit:   DefaultLimit,
		duringRebuild:  ServeOld,
		now:            time.Now,
	}
}

// Option configures the engine.
type Option func(*options)

// WithLogger sets the structured logger for operation tracing.
func WithLogger(l *Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetricsCollector sets the metrics collector for monitoring.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) { o.metrics = mc }
}

// WithThresholds sets the confidence classification thresholds.
func WithThresholds(t confidence.Thresholds) Option {
	return func(o *options) { o.thresholds = t }
}

// WithMatchThreshold sets the default recognition distance cutoff.
// Candidates at or beyond the cutoff are never returned.
func WithMatchThreshold(t float32) Option {
	return func(o *options) { o.matchThreshold = t }
}

// WithDefaultLimit sets the default number of candidates per recognition.
func WithDefaultLimit(k int) Option {
	return func(o *options) { o.defaultLimit = k }
}

// WithBackend sets the durable storage backend. Records found in the backend
// are restored at startup; without a backend the engine is purely in-memory.
func WithBackend(b persistence.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithExtractor sets the face embedding extractor, enabling the image-based
// RegisterImage and RecognizeImage operations.
func WithExtractor(e extractor.Extractor) Option {
	return func(o *options) { o.extractor = e }
}

// WithRebuildPolicy sets the query behavior during index rebuilds.
func WithRebuildPolicy(p RebuildPolicy) Option {
	return func(o *options) { o.duringRebuild = p }
}

// WithAutoRebuild triggers a background index rebuild after every n
// mutations, rate-limited to at most one rebuild per minInterval.
func WithAutoRebuild(n int, minInterval time.Duration) Option {
	return func(o *options) {
		o.rebuildAfter = n
		if minInterval > 0 {
			o.rebuildLimiter = rate.NewLimiter(rate.Every(minInterval), 1)
		}
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// RecognizeOption overrides recognition parameters per call.
type RecognizeOption func(*recognizeOptions)

type recognizeOptions struct {
	threshold float32
	limit     int
}

// WithThreshold overrides the distance cutoff for this recognition.
func WithThreshold(t float32) RecognizeOption {
	return func(o *recognizeOptions) { o.threshold = t }
}

// WithLimit overrides the number of candidates for this recognition.
func WithLimit(k int) RecognizeOption {
	return func(o *recognizeOptions) { o.limit = k }
}
