// Package knowledge defines the domain model shared by the retrieval
// pipeline: documents, chunks, access levels, retrieved results and answers,
// plus helpers for generating unit-normalized embeddings through a Genkit
// ai.Embedder.
//
// Access control model: every chunk carries an ordered clearance tier
// (public < internal < restricted). A chunk must never be returned to a
// caller whose tier is below the chunk's. Enforcement lives in the store
// layer (package store), not here; this package only defines the ordering.
package knowledge
