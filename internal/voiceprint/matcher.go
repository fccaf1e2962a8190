package voiceprint

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/minutekit/minutekit/internal/audio"
	"github.com/minutekit/minutekit/internal/diarize"
	"github.com/minutekit/minutekit/pkg/meeting"
	"github.com/minutekit/minutekit/pkg/provider/asr"
)

const (
	// DefaultThreshold is the minimum similarity for a voiceprint match to be
	// accepted as an identification.
	DefaultThreshold = 0.75

	// clipSeconds is the maximum clip length handed to the speaker encoder.
	// Longer segments are trimmed around their centre.
	clipSeconds = 10.0

	// minClipSeconds is the shortest segment worth encoding at all.
	minClipSeconds = 1.0
)

// Matcher attributes transcript segments to registered speakers.
type Matcher struct {
	store     *Store
	encoder   asr.SpeakerEncoder
	slicer    *audio.Preprocessor
	threshold float64
}

// MatcherOption customises a Matcher.
type MatcherOption func(*Matcher)

// WithThreshold overrides the default similarity threshold.
func WithThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) {
		if threshold > 0 && threshold <= 1 {
			m.threshold = threshold
		}
	}
}

// NewMatcher builds a Matcher. encoder may be nil when the active ASR
// provider has no speaker-encoding capability; Attribute is then a no-op.
func NewMatcher(store *Store, encoder asr.SpeakerEncoder, slicer *audio.Preprocessor, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		store:     store,
		encoder:   encoder,
		slicer:    slicer,
		threshold: DefaultThreshold,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Attribute identifies each diarized speaker in segments against the
// registered voiceprints and fills in SpeakerName, EmployeeID, and
// VoiceSimilarity on every segment of a matched speaker.
//
// audioPath is the preprocessed recording the segments were transcribed
// from; workDir receives the temporary per-speaker clips. Identification is
// best-effort: a failure for one speaker logs a warning and leaves that
// speaker unattributed rather than failing the request.
func (m *Matcher) Attribute(ctx context.Context, audioPath, workDir string, segments []meeting.Segment) []meeting.Segment {
	if m.encoder == nil || len(segments) == 0 {
		return segments
	}

	out := make([]meeting.Segment, len(segments))
	copy(out, segments)

	for speaker, idx := range diarize.LongestSegmentPerSpeaker(out) {
		match, err := m.identifySpeaker(ctx, audioPath, workDir, speaker, out[idx])
		if err != nil {
			slog.Warn("voiceprint identification failed; leaving speaker unattributed",
				"speaker", speaker, "error", err)
			continue
		}
		if match == nil {
			continue
		}
		if match.Similarity < m.threshold {
			slog.Debug("voiceprint match below threshold",
				"speaker", speaker, "similarity", match.Similarity, "threshold", m.threshold)
			continue
		}
		for i := range out {
			if out[i].SpeakerID == speaker {
				out[i].SpeakerName = match.Name
				out[i].EmployeeID = match.EmployeeID
				out[i].VoiceSimilarity = match.Similarity
			}
		}
	}
	return out
}

// identifySpeaker cuts the representative clip for one speaker, encodes it,
// and looks it up in the store.
func (m *Matcher) identifySpeaker(ctx context.Context, audioPath, workDir string, speaker int, seg meeting.Segment) (*Match, error) {
	if seg.Duration() < minClipSeconds {
		return nil, nil
	}

	start, end := seg.StartSec, seg.EndSec
	if end-start > clipSeconds {
		mid := (start + end) / 2
		start = mid - clipSeconds/2
		end = mid + clipSeconds/2
	}

	clipPath := filepath.Join(workDir, fmt.Sprintf("speaker_%d.wav", speaker))
	if err := m.slicer.Slice(ctx, audioPath, clipPath, start, end); err != nil {
		return nil, fmt.Errorf("cut clip: %w", err)
	}
	defer os.Remove(clipPath)

	embedding, err := m.encoder.EncodeSpeaker(ctx, clipPath)
	if err != nil {
		return nil, fmt.Errorf("encode speaker: %w", err)
	}
	return m.store.Identify(ctx, embedding)
}
