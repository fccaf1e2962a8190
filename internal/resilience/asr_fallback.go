package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/minutekit/minutekit/pkg/meeting"
	"github.com/minutekit/minutekit/pkg/provider/asr"
)

// ASRFallback implements [asr.Provider] with automatic failover across
// multiple transcription backends. Each backend has its own circuit breaker.
// This backs the "auto" ASR selection (funasr first, then tencent).
//
// Backends differ in what inputs they accept: a local file cannot be handed
// to a URL-only backend. Recognize therefore skips entries that cannot take
// the given input instead of burning a failover attempt on them.
type ASRFallback struct {
	group *FallbackGroup[asr.Provider]
}

// Compile-time interface assertion.
var _ asr.Provider = (*ASRFallback)(nil)

// NewASRFallback creates an [ASRFallback] with primary as the preferred backend.
func NewASRFallback(primary asr.Provider, primaryName string, cfg FallbackConfig) *ASRFallback {
	return &ASRFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional ASR provider as a fallback.
func (f *ASRFallback) AddFallback(name string, provider asr.Provider) {
	f.group.AddFallback(name, provider)
}

// Recognize transcribes the input on the first healthy, input-compatible
// backend. Entries whose circuit breaker is open or that cannot accept the
// input kind are skipped.
func (f *ASRFallback) Recognize(ctx context.Context, input asr.Input, opts asr.Options) (*asr.Result, error) {
	var (
		lastErr error
		tried   int
	)
	for i := range f.group.entries {
		entry := &f.group.entries[i]
		if !accepts(entry.value, input) {
			slog.Debug("skipping asr backend, input kind not accepted",
				"backend", entry.name)
			continue
		}
		tried++
		var result *asr.Result
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = entry.value.Recognize(ctx, input, opts)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping asr backend, breaker open", "backend", entry.name)
		} else {
			slog.Warn("asr backend failed, trying next",
				"backend", entry.name, "error", err)
		}
	}
	if tried == 0 {
		return nil, meeting.Faultf(meeting.KindUnsupportedFormat,
			"resilience: no registered asr backend accepts this input kind")
	}
	return nil, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// accepts reports whether p can take the given input.
func accepts(p asr.Provider, input asr.Input) bool {
	if input.URL != "" {
		return p.AcceptsURL()
	}
	return p.AcceptsBytes()
}

// AcceptsBytes reports whether any backend can ingest a local file.
func (f *ASRFallback) AcceptsBytes() bool {
	for i := range f.group.entries {
		if f.group.entries[i].value.AcceptsBytes() {
			return true
		}
	}
	return false
}

// AcceptsURL reports whether any backend can fetch audio from a URL.
func (f *ASRFallback) AcceptsURL() bool {
	for i := range f.group.entries {
		if f.group.entries[i].value.AcceptsURL() {
			return true
		}
	}
	return false
}

// Ready reports healthy when at least one backend answers Ready.
func (f *ASRFallback) Ready(ctx context.Context) error {
	var lastErr error
	for i := range f.group.entries {
		if err := f.group.entries[i].value.Ready(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// SpeakerEncoder returns the first backend that can compute speaker
// embeddings, or nil when none can. The encoder is not wrapped in failover:
// voiceprint matching is best-effort and pinning one backend keeps embeddings
// comparable with the registered voiceprints.
func (f *ASRFallback) SpeakerEncoder() asr.SpeakerEncoder {
	for i := range f.group.entries {
		if enc, ok := f.group.entries[i].value.(asr.SpeakerEncoder); ok {
			return enc
		}
	}
	return nil
}
