// Package derive maintains the artifacts computed from source fields:
// lexical documents, place aggregate documents, and embeddings.
//
// Document composition is pure and deterministic (see ComposePlaceDocument
// and friends); the Maintainer adds persistence, the async worker pool, and
// the pending-row sweep around it.
package derive
