// Package facematch provides an embedded identity matching engine for face
// recognition galleries.
//
// Identities are registered as (name, embedding) pairs and recognized by
// cosine-distance nearest-neighbor search with confidence classification:
//
//   - Canonical identity store with unique names and never-reused ids
//   - Two similarity index strategies: exact (brute-force) and clustered
//     (inverted-file with k-means centroids, rebuildable)
//   - Confidence bands (high/medium/low) derived from cosine distance
//   - Pluggable embedding extractor for image-based operations
//   - Durable persistence with compressed, checksummed snapshots and
//     optional object-storage archival
//
// # Quick Start
//
// Create an engine with the exact index:
//
//	engine, err := facematch.Exact(512).
//	    Backend(backend).
//	    Build()
//	if err != nil {
//	    panic(err)
//	}
//	defer engine.Close()
//
//	rec, err := engine.Register(ctx, "alice", embedding)
//
//	outcome, err := engine.Recognize(ctx, probe)
//	if best, ok := outcome.Best(); ok {
//	    fmt.Println(best.Name, best.Distance, best.Confidence)
//	}
//
// Large galleries use the clustered index, which probes only the nearest
// clusters per query and is periodically rebuilt:
//
//	engine, err := facematch.Clustered(512).
//	    Probes(8).
//	    AutoRebuild(1000, time.Minute).
//	    Build()
//
// A recognition that finds nothing below the distance cutoff is a NoMatch
// outcome, not an error. Errors are reserved for malformed input
// (ErrInvalidInput), duplicate names (ErrDuplicateIdentity), unknown ids
// (ErrNotFound) and an unavailable index (ErrIndexUnavailable).
package facematch
