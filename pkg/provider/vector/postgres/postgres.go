// Package postgres provides a PostgreSQL-backed implementation of
// [vector.Store] using the pgvector extension.
//
// Each collection maps to its own table with an HNSW index for fast
// approximate nearest-neighbour search under L2 distance. The pgvector
// extension must be available in the target database; [Store.EnsureCollection]
// installs it via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.EnsureCollection(ctx, "minutes_chunks", 1024)
//	_ = store.Upsert(ctx, "minutes_chunks", records)
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/minutekit/minutekit/pkg/meeting"
	"github.com/minutekit/minutekit/pkg/provider/vector"
)

// Ensure Store implements the vector.Store interface.
var _ vector.Store = (*Store)(nil)

// collectionName restricts collection names to safe SQL identifiers, since
// the name is interpolated into DDL and queries as a table name.
var collectionName = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Store is a pgvector-backed vector store. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool

	mu   sync.RWMutex
	dims map[string]int // collection -> vector dimension
}

// New creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, and registers pgvector types on every connection so that
// vector columns can be scanned into and inserted from pgvector.Vector
// values.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector store: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// best-effort: the vector extension may not be installed until the
		// first EnsureCollection runs
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgvector store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, meeting.Wrap(meeting.KindUpstreamUnavailable, fmt.Errorf("pgvector store: ping: %w", err))
	}

	return &Store{pool: pool, dims: make(map[string]int)}, nil
}

// EnsureCollection implements [vector.Store]. It is idempotent (CREATE TABLE
// IF NOT EXISTS) and safe to call on every application start. The vector
// dimension is baked into the column type at creation time; changing it
// afterwards requires a manual schema change.
func (s *Store) EnsureCollection(ctx context.Context, name string, dimensions int) error {
	if !collectionName.MatchString(name) {
		return meeting.Faultf(meeting.KindBadInput, "pgvector store: invalid collection name %q", name)
	}
	if dimensions <= 0 {
		return meeting.Faultf(meeting.KindBadInput, "pgvector store: dimensions must be positive, got %d", dimensions)
	}

	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %[1]s (
    id          TEXT         PRIMARY KEY,
    content     TEXT         NOT NULL DEFAULT '',
    payload     JSONB        NOT NULL DEFAULT '{}',
    embedding   vector(%[2]d) NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_embedding
    ON %[1]s USING hnsw (embedding vector_l2_ops);

CREATE INDEX IF NOT EXISTS idx_%[1]s_payload
    ON %[1]s USING GIN (payload);
`, name, dimensions)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("pgvector store: ensure collection %s: %w", name, err)
	}

	s.mu.Lock()
	s.dims[name] = dimensions
	s.mu.Unlock()
	return nil
}

// Upsert implements [vector.Store]. Records with existing IDs are completely
// replaced.
func (s *Store) Upsert(ctx context.Context, collection string, records []vector.Record) error {
	dim, err := s.collectionDim(collection)
	if err != nil {
		return err
	}

	q := fmt.Sprintf(`
		INSERT INTO %s (id, content, payload, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
		    content   = EXCLUDED.content,
		    payload   = EXCLUDED.payload,
		    embedding = EXCLUDED.embedding`, collection)

	for _, rec := range records {
		if len(rec.Vector) != dim {
			return meeting.Faultf(meeting.KindVectorDimMismatch,
				"pgvector store: upsert %s/%s: vector has %d dimensions, collection expects %d",
				collection, rec.ID, len(rec.Vector), dim)
		}
		payload, err := json.Marshal(payloadOrEmpty(rec.Payload))
		if err != nil {
			return fmt.Errorf("pgvector store: marshal payload for %s: %w", rec.ID, err)
		}
		if _, err := s.pool.Exec(ctx, q, rec.ID, rec.Content, payload, pgvector.NewVector(rec.Vector)); err != nil {
			return fmt.Errorf("pgvector store: upsert %s/%s: %w", collection, rec.ID, err)
		}
	}
	return nil
}

// Query implements [vector.Store]. Results are ordered by ascending L2
// distance (most similar first).
func (s *Store) Query(ctx context.Context, collection string, vec []float32, topK int, filter vector.Filter) ([]vector.Match, error) {
	dim, err := s.collectionDim(collection)
	if err != nil {
		return nil, err
	}
	if len(vec) != dim {
		return nil, meeting.Faultf(meeting.KindVectorDimMismatch,
			"pgvector store: query %s: vector has %d dimensions, collection expects %d",
			collection, len(vec), dim)
	}
	if topK <= 0 {
		return []vector.Match{}, nil
	}

	args := []any{pgvector.NewVector(vec)} // $1 = query vector
	whereClause := ""
	if len(filter.Payload) > 0 {
		cond, err := json.Marshal(filter.Payload)
		if err != nil {
			return nil, fmt.Errorf("pgvector store: marshal filter: %w", err)
		}
		args = append(args, cond)
		whereClause = fmt.Sprintf("WHERE payload @> $%d", len(args))
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, content, payload, embedding,
		       embedding <-> $1 AS distance
		FROM   %s
		%s
		ORDER  BY distance
		LIMIT  %s`, collection, whereClause, limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector store: query %s: %w", collection, err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (vector.Match, error) {
		var (
			m       vector.Match
			payload []byte
			v       pgvector.Vector
		)
		if err := row.Scan(&m.Record.ID, &m.Record.Content, &payload, &v, &m.Distance); err != nil {
			return vector.Match{}, err
		}
		if err := json.Unmarshal(payload, &m.Record.Payload); err != nil {
			return vector.Match{}, fmt.Errorf("unmarshal payload: %w", err)
		}
		m.Record.Vector = v.Slice()
		m.Similarity = vector.Similarity(m.Distance)
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pgvector store: scan rows: %w", err)
	}
	if matches == nil {
		matches = []vector.Match{}
	}
	return matches, nil
}

// List implements [vector.Store]: a plain metadata fetch ordered by ID.
func (s *Store) List(ctx context.Context, collection string, filter vector.Filter, limit int) ([]vector.Record, error) {
	if _, err := s.collectionDim(collection); err != nil {
		return nil, err
	}

	var args []any
	whereClause := ""
	if len(filter.Payload) > 0 {
		cond, err := json.Marshal(filter.Payload)
		if err != nil {
			return nil, fmt.Errorf("pgvector store: marshal filter: %w", err)
		}
		args = append(args, cond)
		whereClause = fmt.Sprintf("WHERE payload @> $%d", len(args))
	}

	limitClause := ""
	if limit > 0 {
		args = append(args, limit)
		limitClause = fmt.Sprintf("LIMIT $%d", len(args))
	}

	q := fmt.Sprintf(`
		SELECT id, content, payload, embedding
		FROM   %s
		%s
		ORDER  BY id
		%s`, collection, whereClause, limitClause)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector store: list %s: %w", collection, err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (vector.Record, error) {
		var (
			rec     vector.Record
			payload []byte
			v       pgvector.Vector
		)
		if err := row.Scan(&rec.ID, &rec.Content, &payload, &v); err != nil {
			return vector.Record{}, err
		}
		if err := json.Unmarshal(payload, &rec.Payload); err != nil {
			return vector.Record{}, fmt.Errorf("unmarshal payload: %w", err)
		}
		rec.Vector = v.Slice()
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pgvector store: scan rows: %w", err)
	}
	if records == nil {
		records = []vector.Record{}
	}
	return records, nil
}

// Delete implements [vector.Store]. A filter with no payload conditions
// removes every record in the collection.
func (s *Store) Delete(ctx context.Context, collection string, filter vector.Filter) error {
	if _, err := s.collectionDim(collection); err != nil {
		return err
	}

	var (
		q    string
		args []any
	)
	if len(filter.Payload) > 0 {
		cond, err := json.Marshal(filter.Payload)
		if err != nil {
			return fmt.Errorf("pgvector store: marshal filter: %w", err)
		}
		q = fmt.Sprintf("DELETE FROM %s WHERE payload @> $1", collection)
		args = []any{cond}
	} else {
		q = fmt.Sprintf("DELETE FROM %s", collection)
	}

	if _, err := s.pool.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("pgvector store: delete from %s: %w", collection, err)
	}
	return nil
}

// Ready implements [vector.Store] by pinging the database.
func (s *Store) Ready(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return meeting.Wrap(meeting.KindUpstreamUnavailable, fmt.Errorf("pgvector store: ping: %w", err))
	}
	return nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// collectionDim returns the registered dimension for a collection, or a
// BAD_INPUT fault if EnsureCollection was never called for it.
func (s *Store) collectionDim(collection string) (int, error) {
	s.mu.RLock()
	dim, ok := s.dims[collection]
	s.mu.RUnlock()
	if !ok {
		return 0, meeting.Faultf(meeting.KindBadInput, "pgvector store: unknown collection %q (call EnsureCollection first)", collection)
	}
	return dim, nil
}

func payloadOrEmpty(p map[string]string) map[string]string {
	if p == nil {
		return map[string]string{}
	}
	return p
}
