// Package asr defines the Provider interface for batch speech recognition
// backends.
//
// An ASR provider wraps a transcription service (a FunASR sidecar, a cloud
// recording-recognition API, …) and exposes a uniform request/response
// interface: one audio input in, one segmented transcript out. Unlike
// streaming STT, recognition here is a single blocking call sized for
// whole-meeting recordings.
//
// Providers differ in what inputs they accept. A local GPU sidecar takes raw
// bytes; a cloud recording API may only fetch from a URL. Callers must check
// [Provider.AcceptsBytes] and [Provider.AcceptsURL] before dispatch and fail
// with a typed error rather than silently converting one into the other.
//
// Implementations must be safe for concurrent use.
package asr

import "context"

// Options carries per-call recognition hints.
type Options struct {
	// Punctuation enables automatic punctuation restoration.
	Punctuation bool

	// Diarization enables speaker labelling on the returned segments.
	// Providers without diarization support leave RawSpeaker empty.
	Diarization bool

	// Hotwords is the rendered space-separated vocabulary bias list.
	// Empty means no biasing. Providers that cannot bias ignore it.
	Hotwords string

	// Language is an optional language hint (e.g. "zh", "en").
	// Empty lets the provider auto-detect.
	Language string
}

// Input is a tagged union of the two transport forms an ASR provider may
// accept. Exactly one of Path or URL is set.
type Input struct {
	// Path is a local audio file to be read and sent as bytes.
	Path string

	// URL is a remote audio file the provider fetches itself.
	URL string
}

// RawSegment is one recognised utterance as reported by the provider, before
// speaker-id densification. RawSpeaker is the provider's own speaker label -
// possibly sparse, non-numeric, or empty.
type RawSegment struct {
	Text     string
	StartSec float64
	EndSec   float64
	// RawSpeaker is the provider-assigned speaker label, verbatim.
	RawSpeaker string
}

// Result is the outcome of one recognition call.
type Result struct {
	// FullText is the complete recognised text.
	FullText string

	// Segments are the time-stamped utterances in chronological order.
	// May be empty when the provider returns only FullText.
	Segments []RawSegment
}

// Provider is the abstraction over any batch ASR backend.
//
// Implementations must be safe for concurrent use and must honour ctx
// cancellation: recognition of a two-hour recording can block for a long
// time and callers rely on cancellation to enforce deadlines.
type Provider interface {
	// Recognize transcribes the audio referenced by input. The call blocks
	// until the provider returns the complete transcript or fails.
	Recognize(ctx context.Context, input Input, opts Options) (*Result, error)

	// AcceptsBytes reports whether the provider can ingest a local file
	// uploaded as request bytes.
	AcceptsBytes() bool

	// AcceptsURL reports whether the provider can fetch audio from a URL.
	AcceptsURL() bool

	// Ready probes the provider's availability for the health endpoint.
	Ready(ctx context.Context) error
}

// SpeakerEncoder is an optional capability: extracting a fixed-dimension
// speaker embedding from a short audio clip. The FunASR sidecar exposes this
// alongside recognition; providers without the capability simply do not
// implement the interface.
type SpeakerEncoder interface {
	// EncodeSpeaker computes the speaker embedding for the audio file at
	// path. The returned vector has the provider's fixed voiceprint
	// dimension (192 for Cam++-style models).
	EncodeSpeaker(ctx context.Context, path string) ([]float32, error)
}
