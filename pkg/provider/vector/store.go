// Package vector defines the Store interface for vector database backends.
//
// A vector store holds named collections of embedded records and answers
// nearest-neighbour queries over them. The archive keeps minute chunks in one
// collection and speaker voiceprints in another; both go through the same
// Store so a deployment can swap pgvector for an in-memory store in tests
// without touching the calling code.
//
// Distances are L2 (Euclidean). Callers that want a bounded score should use
// [Similarity] to map a distance into (0, 1].
//
// Implementations must be safe for concurrent use.
package vector

import "context"

// Record is a single entry in a collection: a vector plus the content and
// metadata it was derived from.
type Record struct {
	// ID uniquely identifies the record within its collection. Upserting a
	// record with an existing ID replaces it.
	ID string

	// Vector is the embedding. Its length must match the dimension the
	// collection was created with.
	Vector []float32

	// Content is the raw text the vector was derived from. May be empty for
	// records whose vector is not text-derived (e.g., voiceprints).
	Content string

	// Payload holds flat string metadata (source id, department, meeting
	// date, …). Keys used in a Filter must be present here to match.
	Payload map[string]string
}

// Match is a query result: the stored record plus its distance to the query
// vector.
type Match struct {
	Record Record

	// Distance is the L2 distance between the query vector and the record.
	Distance float64

	// Similarity is Similarity(Distance), precomputed for convenience.
	Similarity float64
}

// Filter restricts a query or delete to records whose payload matches every
// key/value pair. A zero Filter matches all records.
type Filter struct {
	Payload map[string]string
}

// Store is the abstraction over any vector database backend.
//
// Implementations must be safe for concurrent use and must report a
// dimension mismatch (query or upsert vector length differing from the
// collection's dimension) as an error rather than silently truncating.
type Store interface {
	// EnsureCollection creates the named collection with the given vector
	// dimension if it does not exist. Calling it again with the same name is
	// a no-op; the dimension of an existing collection is never changed.
	EnsureCollection(ctx context.Context, name string, dimensions int) error

	// Upsert inserts or replaces records in the collection by ID.
	Upsert(ctx context.Context, collection string, records []Record) error

	// Query returns up to topK records nearest to vec, ordered by ascending
	// distance, restricted by filter.
	Query(ctx context.Context, collection string, vec []float32, topK int, filter Filter) ([]Match, error)

	// List returns up to limit records matching filter, ordered by ID. It is
	// a plain metadata fetch; no vector is involved. A limit of 0 or less
	// means no limit.
	List(ctx context.Context, collection string, filter Filter, limit int) ([]Record, error)

	// Delete removes every record matching filter. Deleting with a filter
	// that matches nothing is not an error.
	Delete(ctx context.Context, collection string, filter Filter) error

	// Ready reports whether the backend is reachable.
	Ready(ctx context.Context) error

	// Close releases any resources held by the store.
	Close()
}

// Similarity converts an L2 distance into a score in (0, 1]: identical
// vectors score 1, and the score decays monotonically with distance.
func Similarity(distance float64) float64 {
	return 1 / (1 + distance)
}
