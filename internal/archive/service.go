// Package archive persists approved meeting minutes as semantically chunked
// vectors for later retrieval.
//
// A minute is split along its markdown structure (see [Split]), every chunk
// is embedded, and the chunks are written to the archive collection keyed as
// "{source_id}_{chunk_index}". Re-archiving a source id replaces all of its
// previous chunks: delete first, then insert, with the delete logged so an
// interrupted run can be completed by retrying.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/minutekit/minutekit/pkg/meeting"
	"github.com/minutekit/minutekit/pkg/provider/embeddings"
	"github.com/minutekit/minutekit/pkg/provider/vector"
)

const (
	// DefaultCollection is the archive's vector collection.
	DefaultCollection = "minutes_chunks"

	embedTimeout  = 30 * time.Second
	vectorTimeout = 10 * time.Second
)

// Service archives minutes into a vector collection.
type Service struct {
	embedder   embeddings.Provider
	store      vector.Store
	collection string
	dimensions int

	minChars     int
	maxChars     int
	overlapChars int
}

// Option customises a Service.
type Option func(*Service)

// WithChunking overrides the chunk geometry.
func WithChunking(minChars, maxChars, overlapChars int) Option {
	return func(s *Service) {
		s.minChars = minChars
		s.maxChars = maxChars
		s.overlapChars = overlapChars
	}
}

// New builds a Service writing dimension-checked vectors into collection.
// An empty collection name falls back to [DefaultCollection]; dimensions of
// 0 falls back to the embedder's native dimension.
func New(embedder embeddings.Provider, store vector.Store, collection string, dimensions int, opts ...Option) *Service {
	if collection == "" {
		collection = DefaultCollection
	}
	if dimensions <= 0 {
		dimensions = embedder.Dimensions()
	}
	s := &Service{
		embedder:     embedder,
		store:        store,
		collection:   collection,
		dimensions:   dimensions,
		minChars:     DefaultMinChars,
		maxChars:     DefaultMaxChars,
		overlapChars: DefaultOverlapChars,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Collection returns the archive collection name.
func (s *Service) Collection() string { return s.collection }

// Init creates the backing collection if it does not exist.
func (s *Service) Init(ctx context.Context) error {
	return s.store.EnsureCollection(ctx, s.collection, s.dimensions)
}

// Archive chunks, embeds, and stores rec, returning the number of chunks
// written. The embedding dimension is verified against the collection before
// any write, so a mismatch aborts with no partial state. Re-archiving the
// same SourceID replaces all prior chunks.
func (s *Service) Archive(ctx context.Context, rec meeting.MinuteRecord) (int, error) {
	if err := rec.Validate(); err != nil {
		return 0, meeting.Wrap(meeting.KindBadInput, err)
	}

	chunks := Split(rec.Markdown, s.minChars, s.maxChars, s.overlapChars)
	if len(chunks) == 0 {
		return 0, meeting.Faultf(meeting.KindBadInput, "archive: minute %d produced no chunks", rec.SourceID)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	embedCtx, cancel := context.WithTimeout(ctx, embedTimeout)
	vectors, err := s.embedder.EmbedBatch(embedCtx, texts)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("archive: embed %d chunks for minute %d: %w", len(chunks), rec.SourceID, err)
	}
	if len(vectors) != len(chunks) {
		return 0, meeting.Faultf(meeting.KindInternal,
			"archive: embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	for i, vec := range vectors {
		if len(vec) != s.dimensions {
			return 0, meeting.Faultf(meeting.KindVectorDimMismatch,
				"archive: chunk %d embedding has %d dimensions, collection expects %d",
				i, len(vec), s.dimensions)
		}
	}

	records := make([]vector.Record, len(chunks))
	sourceID := strconv.Itoa(rec.SourceID)
	for i, c := range chunks {
		payload := map[string]string{
			"source_id":     sourceID,
			"chunk_index":   strconv.Itoa(c.Index),
			"section_title": c.Section,
		}
		if rec.UserID != "" {
			payload["user_id"] = rec.UserID
		}
		if rec.MeetingDate != "" {
			payload["meeting_date"] = rec.MeetingDate
		}
		if rec.Department != "" {
			payload["department"] = rec.Department
		}
		records[i] = vector.Record{
			ID:      fmt.Sprintf("%s_%d", sourceID, c.Index),
			Vector:  vectors[i],
			Content: c.Text,
			Payload: payload,
		}
	}

	// Delete-then-insert; the log line lets an interrupted replacement be
	// completed by retrying the archive call.
	slog.Info("replacing archived chunks", "source_id", rec.SourceID, "new_chunks", len(records))
	delCtx, cancel := context.WithTimeout(ctx, vectorTimeout)
	err = s.store.Delete(delCtx, s.collection, vector.Filter{
		Payload: map[string]string{"source_id": sourceID},
	})
	cancel()
	if err != nil {
		return 0, fmt.Errorf("archive: delete prior chunks of minute %d: %w", rec.SourceID, err)
	}

	upsertCtx, cancel := context.WithTimeout(ctx, vectorTimeout)
	err = s.store.Upsert(upsertCtx, s.collection, records)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("archive: insert chunks of minute %d: %w", rec.SourceID, err)
	}
	return len(records), nil
}
