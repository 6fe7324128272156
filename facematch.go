package facematch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/facegate/facematch/confidence"
	"github.com/facegate/facematch/distance"
	"github.com/facegate/facematch/identity"
	"github.com/facegate/facematch/index"
)

// Match is one recognition candidate.
type Match struct {
	ID         identity.ID
	Name       string
	Distance   float32
	Confidence confidence.Level
	CreatedAt  time.Time
}

// MatchOutcome is the result of a recognition query.
//
// An empty gallery or a query where nothing clears the distance cutoff is a
// NoMatch outcome, not an error: Matched is false and Matches is empty.
type MatchOutcome struct {
	Matched bool
	Matches []Match
}

// Best returns the closest match, if any.
func (o MatchOutcome) Best() (Match, bool) {
	if len(o.Matches) == 0 {
		return Match{}, false
	}
	return o.Matches[0], true
}

// Stats is a snapshot of engine state.
type Stats struct {
	// Identities is the number of registered identities.
	Identities int

	// Dimension is the fixed embedding dimension.
	Dimension int

	// IndexName identifies the similarity index strategy.
	IndexName string

	// IndexedVectors is the number of vectors reachable by queries.
	IndexedVectors int

	// Trained reports whether a clustered index has centroids. Always true
	// for the exact index.
	Trained bool

	// PendingVectors counts vectors not yet assigned to a cluster.
	// Always zero for the exact index.
	PendingVectors int

	// Rebuilds is the number of completed index rebuilds.
	Rebuilds int64
}

// Engine is the identity matching engine: it owns the canonical identity
// store, keeps the similarity index in sync with it, and classifies match
// confidence.
//
// All methods are safe for concurrent use. Recognition queries are lock-free
// against the index; write operations are serialized so the store, the
// backend and the index always move together.
type Engine struct {
	dimension int
	store     *identity.Store
	idx       index.Index
	opts      options

	writeMu      sync.Mutex
	mutations    atomic.Int64
	rebuilds     atomic.Int64
	rebuilding   atomic.Bool
	rebuildGroup singleflight.Group
	closed       atomic.Bool
}

// New creates an engine around the given similarity index. Most callers
// should use the Exact or Clustered builders instead; New is the extension
// point for custom index implementations.
//
// When a persistence backend is configured, all persisted records are
// restored and the index is rebuilt from them before New returns.
func New(dimension int, idx index.Index, optFns ...Option) (*Engine, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := opts.thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if opts.matchThreshold <= 0 || opts.matchThreshold > 2 {
		return nil, fmt.Errorf("%w: match threshold %g out of range (0, 2]", ErrInvalidInput, opts.matchThreshold)
	}
	if opts.defaultLimit <= 0 {
		return nil, fmt.Errorf("%w: default limit must be positive", ErrInvalidInput)
	}

	store, err := identity.NewStore(dimension)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	e := &Engine{
		dimension: dimension,
		store:     store,
		idx:       idx,
		opts:      opts,
	}

	if opts.backend != nil {
		if err := e.recover(context.Background()); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// recover replays the persistence backend into the store and rebuilds the
// index from it.
func (e *Engine) recover(ctx context.Context) error {
	records, err := e.opts.backend.LoadAll(ctx)
	if err != nil {
		e.opts.logger.LogRecovery(ctx, 0, err)
		return fmt.Errorf("load persisted identities: %w", err)
	}

	for _, rec := range records {
		if err := e.store.Restore(rec); err != nil {
			e.opts.logger.LogRecovery(ctx, len(records), err)
			return fmt.Errorf("restore identity %d: %w", rec.ID, err)
		}
	}

	if err := e.idx.Rebuild(ctx, e.store); err != nil {
		e.opts.logger.LogRecovery(ctx, len(records), err)
		return fmt.Errorf("rebuild index from persisted identities: %w", err)
	}

	e.opts.logger.LogRecovery(ctx, len(records), nil)
	return nil
}

// Dimension returns the fixed embedding dimension of the engine.
func (e *Engine) Dimension() int {
	return e.dimension
}

// Register adds a new identity with the given name and embedding.
//
// Names are unique and case-sensitive; a second registration of the same
// name fails with ErrDuplicateIdentity regardless of how similar or
// different the embeddings are. The returned record carries the assigned id.
func (e *Engine) Register(ctx context.Context, name string, embedding []float32) (identity.Record, error) {
	start := time.Now()
	rec, err := e.register(ctx, name, embedding)
	e.opts.metrics.RecordRegister(time.Since(start), err)
	e.opts.logger.LogRegister(ctx, name, uint64(rec.ID), err)
	return rec, err
}

func (e *Engine) register(ctx context.Context, name string, embedding []float32) (identity.Record, error) {
	if e.closed.Load() {
		return identity.Record{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return identity.Record{}, err
	}
	// Reject zero embeddings before touching the store so the failed-insert
	// rollback path below stays reserved for real storage faults.
	if len(embedding) > 0 && distance.Magnitude(embedding) == 0 {
		return identity.Record{}, translateError(index.ErrZeroVector)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	rec, err := e.store.Insert(name, embedding, e.opts.now())
	if err != nil {
		return identity.Record{}, translateError(err)
	}

	if e.opts.backend != nil {
		if err := e.opts.backend.Save(ctx, rec); err != nil {
			e.store.Delete(rec.ID)
			return identity.Record{}, fmt.Errorf("persist identity: %w", err)
		}
	}

	if err := e.idx.Insert(uint64(rec.ID), rec.Embedding); err != nil {
		if e.opts.backend != nil {
			_ = e.opts.backend.Remove(ctx, rec.ID)
		}
		e.store.Delete(rec.ID)
		return identity.Record{}, translateError(err)
	}

	e.noteMutation(ctx)
	return rec, nil
}

// RegisterImage extracts the single face from the image and registers it
// under the given name. Requires an extractor.
func (e *Engine) RegisterImage(ctx context.Context, name string, image []byte) (identity.Record, error) {
	if e.opts.extractor == nil {
		return identity.Record{}, fmt.Errorf("%w: no extractor configured", ErrInvalidInput)
	}

	embedding, err := e.opts.extractor.Extract(ctx, image)
	if err != nil {
		return identity.Record{}, translateError(err)
	}
	return e.Register(ctx, name, embedding)
}

// Recognize searches the gallery for identities matching the probe
// embedding. Candidates are ordered nearest first; equal distances break by
// ascending id. Only candidates strictly below the distance cutoff are
// returned, each classified with a confidence level.
func (e *Engine) Recognize(ctx context.Context, embedding []float32, optFns ...RecognizeOption) (MatchOutcome, error) {
	start := time.Now()
	out, err := e.recognize(ctx, embedding, optFns...)
	e.opts.metrics.RecordRecognize(out.Matched, time.Since(start), err)
	e.opts.logger.LogRecognize(ctx, out.Matched, len(out.Matches), err)
	return out, err
}

func (e *Engine) recognize(ctx context.Context, embedding []float32, optFns ...RecognizeOption) (MatchOutcome, error) {
	if e.closed.Load() {
		return MatchOutcome{}, ErrClosed
	}
	if e.opts.duringRebuild == FailFast && e.rebuilding.Load() {
		return MatchOutcome{}, fmt.Errorf("%w: rebuild in progress", ErrIndexUnavailable)
	}

	ro := recognizeOptions{
		threshold: e.opts.matchThreshold,
		limit:     e.opts.defaultLimit,
	}
	for _, fn := range optFns {
		fn(&ro)
	}
	if ro.threshold <= 0 || ro.threshold > 2 {
		return MatchOutcome{}, fmt.Errorf("%w: threshold %g out of range (0, 2]", ErrInvalidInput, ro.threshold)
	}

	results, err := e.idx.Query(ctx, embedding, ro.limit, ro.threshold)
	if err != nil {
		return MatchOutcome{}, translateError(err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		// The store is authoritative: an id the index still carries but the
		// store no longer knows was deleted mid-query and is skipped.
		rec, ok := e.store.Get(identity.ID(r.ID))
		if !ok {
			continue
		}
		matches = append(matches, Match{
			ID:         rec.ID,
			Name:       rec.Name,
			Distance:   r.Distance,
			Confidence: e.opts.thresholds.Classify(r.Distance),
			CreatedAt:  rec.CreatedAt,
		})
	}

	return MatchOutcome{Matched: len(matches) > 0, Matches: matches}, nil
}

// RecognizeImage extracts the single face from the image and recognizes it.
// Requires an extractor.
func (e *Engine) RecognizeImage(ctx context.Context, image []byte, optFns ...RecognizeOption) (MatchOutcome, error) {
	if e.opts.extractor == nil {
		return MatchOutcome{}, fmt.Errorf("%w: no extractor configured", ErrInvalidInput)
	}

	embedding, err := e.opts.extractor.Extract(ctx, image)
	if err != nil {
		return MatchOutcome{}, translateError(err)
	}
	return e.Recognize(ctx, embedding, optFns...)
}

// Delete removes an identity. The id is never reused. Deleting an unknown id
// returns ErrNotFound.
func (e *Engine) Delete(ctx context.Context, id identity.ID) error {
	start := time.Now()
	err := e.delete(ctx, id)
	e.opts.metrics.RecordDelete(time.Since(start), err)
	e.opts.logger.LogDelete(ctx, uint64(id), err)
	return err
}

func (e *Engine) delete(ctx context.Context, id identity.ID) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if !e.store.Contains(id) {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	// Backend first: if the durable remove fails, nothing in memory has
	// changed and the operation can simply be retried.
	if e.opts.backend != nil {
		if err := e.opts.backend.Remove(ctx, id); err != nil {
			return fmt.Errorf("remove persisted identity: %w", err)
		}
	}

	e.store.Delete(id)
	e.idx.Delete(uint64(id))

	e.noteMutation(ctx)
	return nil
}

// Get returns the identity registered under the given id.
func (e *Engine) Get(id identity.ID) (identity.Record, error) {
	if e.closed.Load() {
		return identity.Record{}, ErrClosed
	}

	rec, ok := e.store.Get(id)
	if !ok {
		return identity.Record{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return rec, nil
}

// FindByName returns the identity registered under the given name.
func (e *Engine) FindByName(name string) (identity.Record, error) {
	if e.closed.Load() {
		return identity.Record{}, ErrClosed
	}

	rec, ok := e.store.FindByName(name)
	if !ok {
		return identity.Record{}, fmt.Errorf("%w: name %q", ErrNotFound, name)
	}
	return rec, nil
}

// List returns up to limit identities in registration order, skipping
// offset. A closed engine lists nothing.
func (e *Engine) List(offset, limit int) []identity.Record {
	if e.closed.Load() {
		return nil
	}
	return e.store.List(offset, limit)
}

// Count returns the number of registered identities, zero once closed.
func (e *Engine) Count() int {
	if e.closed.Load() {
		return 0
	}
	return e.store.Count()
}

// Stats returns a snapshot of engine state, the zero value once closed.
func (e *Engine) Stats() Stats {
	if e.closed.Load() {
		return Stats{}
	}

	s := Stats{
		Identities:     e.store.Count(),
		Dimension:      e.dimension,
		IndexName:      e.idx.Name(),
		IndexedVectors: e.idx.Len(),
		Trained:        true,
		Rebuilds:       e.rebuilds.Load(),
	}

	type clustered interface {
		Trained() bool
		Pending() int
	}
	if c, ok := e.idx.(clustered); ok {
		s.Trained = c.Trained()
		s.PendingVectors = c.Pending()
	}
	return s
}

// Rebuild reconstructs the similarity index from the identity store.
// Concurrent calls coalesce into a single rebuild. Queries keep serving
// under the ServeOld policy and fail fast under FailFast.
func (e *Engine) Rebuild(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}

	_, err, _ := e.rebuildGroup.Do("rebuild", func() (any, error) {
		return nil, e.rebuild(ctx)
	})
	return err
}

func (e *Engine) rebuild(ctx context.Context) error {
	e.rebuilding.Store(true)
	defer e.rebuilding.Store(false)

	start := time.Now()
	err := e.idx.Rebuild(ctx, e.store)
	if err == nil {
		e.rebuilds.Add(1)
	}

	e.opts.metrics.RecordRebuild(e.idx.Len(), time.Since(start), err)
	e.opts.logger.LogRebuild(ctx, e.idx.Len(), time.Since(start), err)
	return err
}

// noteMutation counts a successful write and kicks off a background rebuild
// when the configured mutation budget is exhausted.
func (e *Engine) noteMutation(ctx context.Context) {
	if e.opts.rebuildAfter <= 0 {
		return
	}
	if e.mutations.Add(1)%int64(e.opts.rebuildAfter) != 0 {
		return
	}
	if e.opts.rebuildLimiter != nil && !e.opts.rebuildLimiter.Allow() {
		return
	}

	go func() {
		_ = e.Rebuild(context.WithoutCancel(ctx))
	}()
}

// Close marks the engine closed and releases the persistence backend.
// In-flight operations finish; new ones fail with ErrClosed.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if e.opts.backend != nil {
		return e.opts.backend.Close()
	}
	return nil
}
