// Package store persists chunks with their vectors and metadata and serves
// hybrid (dense + lexical) similarity queries with access-level and metadata
// filtering.
//
// Two interchangeable backends satisfy the Store interface:
//
//   - Postgres: pgvector cosine distance plus ts_rank full-text rank, with
//     the access predicate and metadata filters evaluated in the same query,
//     before LIMIT.
//   - Flat: an exhaustive-scan vector index persisted as a JSON-lines
//     metadata file and a raw float32 vector file. It has no native
//     filtering, so it over-fetches candidates and filters in application
//     logic; that adapter lives here, not in callers.
//
// The access-control invariant (no returned chunk's level exceeds the
// caller's clearance) is structural: the predicate is part of the storage
// query path and cannot be bypassed by a ranking bug upstream.
package store
