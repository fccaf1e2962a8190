// Package memory provides an in-memory implementation of [vector.Store].
//
// It performs exact (brute-force) nearest-neighbour search and is intended
// for tests and small single-process deployments where running PostgreSQL
// with pgvector is not worth the setup cost. All data is lost on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/minutekit/minutekit/pkg/meeting"
	"github.com/minutekit/minutekit/pkg/provider/vector"
)

// Ensure Store implements the vector.Store interface.
var _ vector.Store = (*Store)(nil)

type collection struct {
	dims    int
	records map[string]vector.Record
}

// Store is an in-memory vector store. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

// EnsureCollection implements [vector.Store].
func (s *Store) EnsureCollection(_ context.Context, name string, dimensions int) error {
	if name == "" {
		return meeting.Faultf(meeting.KindBadInput, "memory store: collection name must not be empty")
	}
	if dimensions <= 0 {
		return meeting.Faultf(meeting.KindBadInput, "memory store: dimensions must be positive, got %d", dimensions)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		s.collections[name] = &collection{dims: dimensions, records: make(map[string]vector.Record)}
	}
	return nil
}

// Upsert implements [vector.Store].
func (s *Store) Upsert(_ context.Context, name string, records []vector.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, err := s.collection(name)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if len(rec.Vector) != col.dims {
			return meeting.Faultf(meeting.KindVectorDimMismatch,
				"memory store: upsert %s/%s: vector has %d dimensions, collection expects %d",
				name, rec.ID, len(rec.Vector), col.dims)
		}
		col.records[rec.ID] = cloneRecord(rec)
	}
	return nil
}

// Query implements [vector.Store] with an exact scan over the collection.
func (s *Store) Query(_ context.Context, name string, vec []float32, topK int, filter vector.Filter) ([]vector.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, err := s.collection(name)
	if err != nil {
		return nil, err
	}
	if len(vec) != col.dims {
		return nil, meeting.Faultf(meeting.KindVectorDimMismatch,
			"memory store: query %s: vector has %d dimensions, collection expects %d",
			name, len(vec), col.dims)
	}
	if topK <= 0 {
		return []vector.Match{}, nil
	}

	query := toFloat64(vec)
	matches := make([]vector.Match, 0, len(col.records))
	for _, rec := range col.records {
		if !matchesFilter(rec, filter) {
			continue
		}
		d := floats.Distance(query, toFloat64(rec.Vector), 2)
		matches = append(matches, vector.Match{
			Record:     cloneRecord(rec),
			Distance:   d,
			Similarity: vector.Similarity(d),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// List implements [vector.Store]: a plain metadata fetch ordered by ID.
func (s *Store) List(_ context.Context, name string, filter vector.Filter, limit int) ([]vector.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, err := s.collection(name)
	if err != nil {
		return nil, err
	}

	records := make([]vector.Record, 0, len(col.records))
	for _, rec := range col.records {
		if matchesFilter(rec, filter) {
			records = append(records, cloneRecord(rec))
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Delete implements [vector.Store].
func (s *Store) Delete(_ context.Context, name string, filter vector.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, err := s.collection(name)
	if err != nil {
		return err
	}
	for id, rec := range col.records {
		if matchesFilter(rec, filter) {
			delete(col.records, id)
		}
	}
	return nil
}

// Ready implements [vector.Store]. The in-memory store is always ready.
func (s *Store) Ready(context.Context) error { return nil }

// Close implements [vector.Store]. It is a no-op.
func (s *Store) Close() {}

// Len returns the number of records currently held in the named collection.
// Intended for tests.
func (s *Store) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.collections[name]
	if !ok {
		return 0
	}
	return len(col.records)
}

func (s *Store) collection(name string) (*collection, error) {
	col, ok := s.collections[name]
	if !ok {
		return nil, meeting.Faultf(meeting.KindBadInput, "memory store: unknown collection %q (call EnsureCollection first)", name)
	}
	return col, nil
}

func matchesFilter(rec vector.Record, filter vector.Filter) bool {
	for k, v := range filter.Payload {
		if rec.Payload[k] != v {
			return false
		}
	}
	return true
}

func cloneRecord(rec vector.Record) vector.Record {
	out := rec
	out.Vector = make([]float32, len(rec.Vector))
	copy(out.Vector, rec.Vector)
	if rec.Payload != nil {
		out.Payload = make(map[string]string, len(rec.Payload))
		for k, v := range rec.Payload {
			out.Payload[k] = v
		}
	}
	return out
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

// String implements fmt.Stringer for debugging.
func (s *Store) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, col := range s.collections {
		total += len(col.records)
	}
	return fmt.Sprintf("memory.Store{collections: %d, records: %d}", len(s.collections), total)
}
