// Package voiceprint registers speaker identities and attributes transcript
// segments to them.
//
// A voiceprint is a 192-dimension speaker embedding produced by the ASR
// sidecar's speaker-verification model. Registered prints live in a vector
// collection keyed by employee id; the matcher cuts a representative clip per
// diarized speaker, encodes it, and looks up the nearest registered print.
// Matches below the similarity threshold leave the speaker unattributed.
package voiceprint

import (
	"context"
	"fmt"
	"time"

	"github.com/minutekit/minutekit/pkg/meeting"
	"github.com/minutekit/minutekit/pkg/provider/vector"
)

// DefaultCollection is the vector collection holding registered voiceprints.
const DefaultCollection = "voiceprints"

// Store persists registered voiceprints in a vector collection. One record
// exists per employee id; re-registering replaces the stored embedding.
type Store struct {
	vec        vector.Store
	collection string
}

// NewStore wraps vec with the voiceprint schema. An empty collection name
// falls back to [DefaultCollection].
func NewStore(vec vector.Store, collection string) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Store{vec: vec, collection: collection}
}

// Init creates the backing collection if it does not exist.
func (s *Store) Init(ctx context.Context) error {
	return s.vec.EnsureCollection(ctx, s.collection, meeting.VoiceprintDimensions)
}

// Register stores or replaces the voiceprint for rec.EmployeeID.
func (s *Store) Register(ctx context.Context, rec meeting.VoiceprintRecord) error {
	if err := rec.Validate(); err != nil {
		return meeting.Wrap(meeting.KindBadInput, err)
	}
	registeredAt := rec.RegisteredAt
	if registeredAt.IsZero() {
		registeredAt = time.Now().UTC()
	}
	record := vector.Record{
		ID:      rec.EmployeeID,
		Vector:  rec.Embedding,
		Content: rec.Name,
		Payload: map[string]string{
			"employee_id":   rec.EmployeeID,
			"name":          rec.Name,
			"registered_at": registeredAt.Format(time.RFC3339),
		},
	}
	if err := s.vec.Upsert(ctx, s.collection, []vector.Record{record}); err != nil {
		return fmt.Errorf("voiceprint: register %s: %w", rec.EmployeeID, err)
	}
	return nil
}

// Match is the outcome of one identification lookup.
type Match struct {
	EmployeeID string
	Name       string
	Similarity float64
}

// Identify returns the registered speaker nearest to embedding, or nil when
// the collection is empty. The caller applies the similarity threshold.
func (s *Store) Identify(ctx context.Context, embedding []float32) (*Match, error) {
	matches, err := s.vec.Query(ctx, s.collection, embedding, 1, vector.Filter{})
	if err != nil {
		return nil, fmt.Errorf("voiceprint: identify: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	m := matches[0]
	return &Match{
		EmployeeID: m.Record.Payload["employee_id"],
		Name:       m.Record.Payload["name"],
		Similarity: m.Similarity,
	}, nil
}

// Remove deletes the voiceprint registered for employeeID, if any.
func (s *Store) Remove(ctx context.Context, employeeID string) error {
	if employeeID == "" {
		return meeting.Faultf(meeting.KindBadInput, "voiceprint: empty employee id")
	}
	return s.vec.Delete(ctx, s.collection, vector.Filter{
		Payload: map[string]string{"employee_id": employeeID},
	})
}
