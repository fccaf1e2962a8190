// Package mock provides a test double for the asr.Provider interface.
//
// Use Provider to feed canned recognition results without a live ASR backend
// and to verify the inputs and options the engine dispatches.
//
// Example:
//
//	p := &mock.Provider{
//	    RecognizeResult: &asr.Result{FullText: "hello"},
//	    AcceptsBytesValue: true,
//	}
//	result, _ := p.Recognize(ctx, asr.Input{Path: "a.wav"}, asr.Options{})
package mock

import (
	"context"
	"sync"

	"github.com/minutekit/minutekit/pkg/provider/asr"
)

// RecognizeCall records a single invocation of Recognize.
type RecognizeCall struct {
	// Ctx is the context passed to Recognize.
	Ctx context.Context
	// Input is the audio input passed to Recognize.
	Input asr.Input
	// Opts are the options passed to Recognize.
	Opts asr.Options
}

// Provider is a mock implementation of asr.Provider and asr.SpeakerEncoder.
// Zero values for response fields cause methods to return zero values and
// nil errors. Set Err fields to inject failures.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// RecognizeResult is returned by Recognize. May be nil.
	RecognizeResult *asr.Result

	// RecognizeErr, if non-nil, is returned as the error from Recognize.
	RecognizeErr error

	// RecognizeFunc, if set, overrides RecognizeResult/RecognizeErr entirely.
	// Useful for per-call behaviour such as fail-once-then-succeed.
	RecognizeFunc func(ctx context.Context, input asr.Input, opts asr.Options) (*asr.Result, error)

	// EncodeResult is returned by EncodeSpeaker.
	EncodeResult []float32

	// EncodeErr, if non-nil, is returned as the error from EncodeSpeaker.
	EncodeErr error

	// AcceptsBytesValue and AcceptsURLValue are returned by the capability
	// methods.
	AcceptsBytesValue bool
	AcceptsURLValue   bool

	// ReadyErr is returned by Ready.
	ReadyErr error

	// --- Call records (read after test) ---

	// RecognizeCalls records every invocation of Recognize in order.
	RecognizeCalls []RecognizeCall

	// EncodeCalls records the path of every EncodeSpeaker invocation.
	EncodeCalls []string
}

// Recognize records the call and returns the configured response.
func (p *Provider) Recognize(ctx context.Context, input asr.Input, opts asr.Options) (*asr.Result, error) {
	p.mu.Lock()
	p.RecognizeCalls = append(p.RecognizeCalls, RecognizeCall{Ctx: ctx, Input: input, Opts: opts})
	fn := p.RecognizeFunc
	result, err := p.RecognizeResult, p.RecognizeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, input, opts)
	}
	return result, err
}

// EncodeSpeaker records the call and returns EncodeResult, EncodeErr.
func (p *Provider) EncodeSpeaker(ctx context.Context, path string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EncodeCalls = append(p.EncodeCalls, path)
	return p.EncodeResult, p.EncodeErr
}

// AcceptsBytes returns AcceptsBytesValue.
func (p *Provider) AcceptsBytes() bool { return p.AcceptsBytesValue }

// AcceptsURL returns AcceptsURLValue.
func (p *Provider) AcceptsURL() bool { return p.AcceptsURLValue }

// Ready returns ReadyErr.
func (p *Provider) Ready(ctx context.Context) error { return p.ReadyErr }

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RecognizeCalls = nil
	p.EncodeCalls = nil
}

// Ensure Provider implements the interfaces at compile time.
var (
	_ asr.Provider       = (*Provider)(nil)
	_ asr.SpeakerEncoder = (*Provider)(nil)
)
