// Package meeting defines the shared data model for the minutekit ingestion
// pipeline: audio sources, transcripts with speaker attribution, hotword
// tables, minute records, and the vector records persisted to the archive.
//
// All types in this package are plain values. They carry no behaviour beyond
// validation and formatting helpers and are safe to copy and share between
// goroutines once constructed.
package meeting

import (
	"fmt"
	"strings"
	"time"
)

// AudioKind discriminates the variants of [AudioSource].
type AudioKind int

const (
	// AudioUpload carries raw audio bytes received in a multipart upload.
	AudioUpload AudioKind = iota

	// AudioLocalPath references an audio file on the server's filesystem.
	AudioLocalPath

	// AudioURL references a remotely hosted audio file reachable over HTTP(S).
	AudioURL

	// AudioStoredID references a previously uploaded recording by its id.
	AudioStoredID
)

// String returns the human-readable name of the audio kind.
func (k AudioKind) String() string {
	switch k {
	case AudioUpload:
		return "upload"
	case AudioLocalPath:
		return "local_path"
	case AudioURL:
		return "url"
	case AudioStoredID:
		return "stored_id"
	default:
		return "unknown"
	}
}

// AudioSource is a tagged union describing where one audio input comes from.
// Exactly one payload field is meaningful for a given Kind:
//
//   - AudioUpload:    Data (and Filename for format detection)
//   - AudioLocalPath: Path
//   - AudioURL:       URL
//   - AudioStoredID:  StoredID
//
// Multiple sources may be batched in a single request; they are processed in
// submission order and merged onto one monotonic timeline.
type AudioSource struct {
	Kind     AudioKind
	Data     []byte
	Filename string
	Path     string
	URL      string
	StoredID string
}

// Validate reports whether the source carries the payload its Kind requires.
func (s AudioSource) Validate() error {
	switch s.Kind {
	case AudioUpload:
		if len(s.Data) == 0 {
			return fmt.Errorf("audio source: empty upload %q", s.Filename)
		}
	case AudioLocalPath:
		if s.Path == "" {
			return fmt.Errorf("audio source: empty local path")
		}
	case AudioURL:
		if !strings.HasPrefix(s.URL, "http://") && !strings.HasPrefix(s.URL, "https://") {
			return fmt.Errorf("audio source: invalid url %q", s.URL)
		}
	case AudioStoredID:
		if s.StoredID == "" {
			return fmt.Errorf("audio source: empty stored id")
		}
	default:
		return fmt.Errorf("audio source: unknown kind %d", int(s.Kind))
	}
	return nil
}

// Segment is one speaker-attributed, time-stamped piece of a transcript.
//
// SpeakerID is a dense 0-based index assigned in order of first appearance.
// SpeakerName, EmployeeID, and VoiceSimilarity are populated only when the
// voiceprint matcher identified the speaker with similarity at or above the
// configured threshold; otherwise they are zero values.
type Segment struct {
	// Text is the recognised speech for this segment.
	Text string `json:"text"`

	// StartSec and EndSec are offsets in seconds from the start of the merged
	// timeline. EndSec >= StartSec >= 0 always holds.
	StartSec float64 `json:"start_time"`
	EndSec   float64 `json:"end_time"`

	// SpeakerID is the dense per-request speaker index, starting at 0.
	SpeakerID int `json:"speaker_id"`

	// SpeakerName is the matched display name, if any.
	SpeakerName string `json:"speaker_name,omitempty"`

	// EmployeeID is the matched employee identifier, if any.
	EmployeeID string `json:"employee_id,omitempty"`

	// VoiceSimilarity is the voiceprint match score in (0, 1], if any.
	VoiceSimilarity float64 `json:"voice_similarity,omitempty"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.EndSec - s.StartSec
}

// Transcript is an ordered sequence of segments plus the full concatenated
// text. FullText always equals JoinSegments over Segments; use [NewTranscript]
// to keep the two in sync.
type Transcript struct {
	Segments []Segment `json:"transcript"`
	FullText string    `json:"text"`
}

// NewTranscript builds a Transcript whose FullText is derived from segments.
func NewTranscript(segments []Segment) Transcript {
	return Transcript{
		Segments: segments,
		FullText: JoinSegments(segments),
	}
}

// JoinSegments concatenates segment texts in order. Texts ending in sentence
// punctuation (CJK or latin) are joined directly; everything else gets a
// single space so the result stays readable for both scripts.
func JoinSegments(segments []Segment) string {
	var b strings.Builder
	var prev string
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 && !endsWithPunct(prev) {
			b.WriteByte(' ')
		}
		b.WriteString(text)
		prev = text
	}
	return b.String()
}

// endsWithPunct reports whether s ends in sentence-final punctuation.
func endsWithPunct(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	return strings.ContainsAny(string(s[len(s)-1:]), ".!?,;") ||
		strings.HasSuffix(s, "。") || strings.HasSuffix(s, "！") ||
		strings.HasSuffix(s, "？") || strings.HasSuffix(s, "，") ||
		strings.HasSuffix(s, "；")
}

// Shift returns a copy of the transcript with every timestamp moved forward
// by offset seconds. Used when merging multi-file batches onto one timeline.
func (t Transcript) Shift(offset float64) Transcript {
	if offset == 0 {
		return t
	}
	shifted := make([]Segment, len(t.Segments))
	for i, seg := range t.Segments {
		seg.StartSec += offset
		seg.EndSec += offset
		shifted[i] = seg
	}
	return Transcript{Segments: shifted, FullText: t.FullText}
}

// EndSec returns the end time of the last segment, or 0 for an empty transcript.
func (t Transcript) EndSec() float64 {
	if len(t.Segments) == 0 {
		return 0
	}
	return t.Segments[len(t.Segments)-1].EndSec
}

// HistoryMode selects how prior meeting context is gathered.
type HistoryMode string

const (
	// HistoryAuto lets the pipeline decide whether retrieval is worthwhile.
	HistoryAuto HistoryMode = "auto"

	// HistoryRetrieval performs a semantic search against the archive.
	HistoryRetrieval HistoryMode = "retrieval"

	// HistorySummary summarises each referenced minute in full.
	HistorySummary HistoryMode = "summary"
)

// IsValid reports whether m is a recognised history mode.
func (m HistoryMode) IsValid() bool {
	switch m {
	case HistoryAuto, HistoryRetrieval, HistorySummary:
		return true
	}
	return false
}

// HistoryRequest names the prior minutes to consider and how to use them.
type HistoryRequest struct {
	// IDs are the minute source ids to draw context from, in request order.
	IDs []int

	// Mode selects the context strategy. Zero value means no history.
	Mode HistoryMode
}

// MinuteRecord is an approved meeting minute submitted for archival.
type MinuteRecord struct {
	// SourceID uniquely identifies the minute upstream. Re-archiving the same
	// SourceID replaces all previously stored chunks.
	SourceID int

	// Markdown is the approved minute body. Must be non-empty.
	Markdown string

	// UserID, MeetingDate, and Department are optional metadata copied onto
	// every archived chunk.
	UserID      string
	MeetingDate string
	Department  string
}

// Validate checks the record invariants before archival.
func (r MinuteRecord) Validate() error {
	if strings.TrimSpace(r.Markdown) == "" {
		return fmt.Errorf("minute record: empty markdown")
	}
	if r.SourceID <= 0 {
		return fmt.Errorf("minute record: source id %d must be positive", r.SourceID)
	}
	return nil
}

// VoiceprintDimensions is the fixed embedding dimension for speaker
// voiceprints (Cam++ style speaker verification models).
const VoiceprintDimensions = 192

// VoiceprintRecord is one registered speaker identity. One logical record
// exists per EmployeeID; re-registering replaces the stored embedding.
type VoiceprintRecord struct {
	EmployeeID   string
	Name         string
	Embedding    []float32
	RegisteredAt time.Time
}

// Validate checks the voiceprint invariants before registration.
func (r VoiceprintRecord) Validate() error {
	if r.EmployeeID == "" {
		return fmt.Errorf("voiceprint: empty employee id")
	}
	if r.Name == "" {
		return fmt.Errorf("voiceprint: empty name")
	}
	if len(r.Embedding) != VoiceprintDimensions {
		return fmt.Errorf("voiceprint: embedding has %d dimensions, want %d", len(r.Embedding), VoiceprintDimensions)
	}
	return nil
}

// Usage holds token accounting reported by the LLM for one minute generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the final outcome of one /process request.
type Result struct {
	// Minutes is the LLM-generated minute in markdown.
	Minutes string

	// HTML is the rendered HTML form of Minutes.
	HTML string

	// RawText is the merged transcript or extracted document text the minute
	// was generated from.
	RawText string

	// Transcript holds the speaker-attributed segments. Empty for document
	// and free-text inputs.
	Transcript []Segment

	// NeedRAG reports whether historical context was retrieved and at least
	// one chunk cleared the similarity floor.
	NeedRAG bool

	// Usage is the LLM token accounting for the generation call.
	Usage Usage

	// FileErrors lists per-file failures for partially successful multi-audio
	// batches. Empty when every input succeeded.
	FileErrors []FileError
}

// FileError describes one failed input within a multi-file batch.
type FileError struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}
