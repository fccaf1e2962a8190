// Package asr runs batch transcription through a configured provider and
// post-processes the result into speaker-attributed transcript segments.
//
// The engine owns the policy around a raw provider call: the recording
// duration cap, the per-call timeout, input/capability dispatch, hotword
// vocabulary biasing, and the hotword correction pass over the recognised
// text. Providers stay thin transport wrappers; everything a provider should
// not have to know lives here.
package asr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/minutekit/minutekit/internal/audio"
	"github.com/minutekit/minutekit/internal/diarize"
	"github.com/minutekit/minutekit/internal/hotword"
	"github.com/minutekit/minutekit/pkg/meeting"
	provider "github.com/minutekit/minutekit/pkg/provider/asr"
)

const (
	// DefaultMaxDuration caps recordings at five hours.
	DefaultMaxDuration = 18000 * time.Second

	// DefaultTimeout bounds one recognition call at two hours.
	DefaultTimeout = 7200 * time.Second
)

// Result is a finished transcription: densified speaker segments, the
// corrected full text, and the hotword corrections that were applied.
type Result struct {
	Segments    []meeting.Segment
	FullText    string
	Corrections []hotword.Correction
}

// Engine wraps an ASR provider with transcription policy.
type Engine struct {
	provider    provider.Provider
	prober      *audio.Preprocessor
	hotwords    *hotword.Registry
	corrector   *hotword.Corrector
	maxDuration time.Duration
	timeout     time.Duration
}

// Option customises an Engine.
type Option func(*Engine)

// WithMaxDuration overrides the recording duration cap. Zero or negative
// disables the cap.
func WithMaxDuration(d time.Duration) Option {
	return func(e *Engine) { e.maxDuration = d }
}

// WithTimeout overrides the per-call recognition timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithHotwords attaches a hotword registry. Its rendered word list biases
// recognition and its words drive the correction pass.
func WithHotwords(reg *hotword.Registry) Option {
	return func(e *Engine) { e.hotwords = reg }
}

// New builds an Engine around p. prober measures local recordings for the
// duration cap.
func New(p provider.Provider, prober *audio.Preprocessor, opts ...Option) *Engine {
	e := &Engine{
		provider:    p,
		prober:      prober,
		hotwords:    hotword.Empty(),
		corrector:   hotword.NewCorrector(),
		maxDuration: DefaultMaxDuration,
		timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SpeakerEncoder returns the provider's speaker-encoding capability, or nil
// when the provider does not implement it.
func (e *Engine) SpeakerEncoder() provider.SpeakerEncoder {
	if enc, ok := e.provider.(provider.SpeakerEncoder); ok {
		return enc
	}
	return nil
}

// Ready probes the underlying provider.
func (e *Engine) Ready(ctx context.Context) error {
	return e.provider.Ready(ctx)
}

// Transcribe recognises the audio referenced by input and returns the
// post-processed transcript. Local recordings longer than the duration cap
// are rejected with DURATION_EXCEEDED before the provider is called.
func (e *Engine) Transcribe(ctx context.Context, input provider.Input) (*Result, error) {
	if err := e.checkInput(ctx, input); err != nil {
		return nil, err
	}

	opts := provider.Options{
		Punctuation: true,
		Diarization: true,
		Hotwords:    e.hotwords.Render(),
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	started := time.Now()
	raw, err := e.provider.Recognize(ctx, input, opts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return nil, meeting.Faultf(meeting.KindUpstreamTimeout,
				"asr: recognition exceeded %s", e.timeout)
		}
		return nil, fmt.Errorf("asr: recognize: %w", err)
	}
	slog.Info("recognition finished",
		"segments", len(raw.Segments),
		"elapsed", time.Since(started).Round(time.Millisecond))

	return e.postProcess(raw), nil
}

// checkInput validates capability fit and the duration cap.
func (e *Engine) checkInput(ctx context.Context, input provider.Input) error {
	switch {
	case input.Path != "":
		if !e.provider.AcceptsBytes() {
			return meeting.Faultf(meeting.KindUnsupportedFormat,
				"asr: provider only accepts URLs; upload the recording to a reachable location")
		}
		if e.maxDuration > 0 {
			dur, err := e.prober.Duration(ctx, input.Path)
			if err != nil {
				return fmt.Errorf("asr: measure duration: %w", err)
			}
			if dur > e.maxDuration.Seconds() {
				return meeting.Faultf(meeting.KindDurationExceeded,
					"asr: recording is %.0fs long, limit is %.0fs", dur, e.maxDuration.Seconds())
			}
		}
	case input.URL != "":
		if !e.provider.AcceptsURL() {
			return meeting.Faultf(meeting.KindUnsupportedFormat,
				"asr: provider does not fetch URLs; upload the file instead")
		}
	default:
		return meeting.Faultf(meeting.KindBadInput, "asr: empty input")
	}
	return nil
}

// postProcess applies the hotword correction pass and densifies speaker ids.
// Alias mappings run first (exact, any script), then the fuzzy near-miss pass
// over Latin tokens.
func (e *Engine) postProcess(raw *provider.Result) *Result {
	words := e.hotwords.Words()
	mappings := e.hotwords.Mappings()

	var corrections []hotword.Correction
	segments := make([]provider.RawSegment, len(raw.Segments))
	copy(segments, raw.Segments)
	for i := range segments {
		fixed, cs := hotword.ApplyMappings(segments[i].Text, mappings)
		corrections = append(corrections, cs...)
		fixed, cs = e.corrector.Correct(fixed, words)
		segments[i].Text = fixed
		corrections = append(corrections, cs...)
	}

	dense := diarize.Densify(segments)

	fullText := raw.FullText
	if len(dense) > 0 {
		// Keep the full text consistent with the corrected segments.
		fullText = meeting.JoinSegments(dense)
	} else if fullText != "" {
		fixed, cs := hotword.ApplyMappings(fullText, mappings)
		corrections = append(corrections, cs...)
		fixed, cs = e.corrector.Correct(fixed, words)
		fullText = fixed
		corrections = append(corrections, cs...)
	}

	return &Result{
		Segments:    dense,
		FullText:    fullText,
		Corrections: corrections,
	}
}
