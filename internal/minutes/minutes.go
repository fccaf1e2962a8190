// Package minutes drives the LLM to turn a prompt pair into finished meeting
// minutes.
//
// The orchestrator owns the retry policy around the completion call: bounded
// attempts with jittered exponential backoff on transient provider faults,
// a single max-token halving on context-length failures, and a per-call
// timeout. The model's markdown is cleaned of code fences and rendered to
// HTML for the response.
package minutes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/minutekit/minutekit/pkg/meeting"
	"github.com/minutekit/minutekit/pkg/provider/llm"
)

const (
	// DefaultTimeout bounds one completion call.
	DefaultTimeout = 180 * time.Second

	// DefaultMaxAttempts is the completion attempt budget for transient
	// faults.
	DefaultMaxAttempts = 3

	// baseBackoff is the delay before the second attempt; it doubles per
	// attempt and carries ±20% jitter.
	baseBackoff = time.Second
)

// Request is one minute-generation job.
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Output is the finished minute.
type Output struct {
	// Markdown is the cleaned model output.
	Markdown string

	// HTML is Markdown rendered for display.
	HTML string

	// Usage is the provider's token accounting for the successful attempt.
	Usage meeting.Usage

	// Attempts is the number of completion calls made.
	Attempts int
}

// Orchestrator generates minutes through an LLM provider.
type Orchestrator struct {
	provider    llm.Provider
	timeout     time.Duration
	maxAttempts int

	// sleep and jitter are swappable in tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout overrides the per-call completion timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxAttempts overrides the attempt budget.
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// New builds an Orchestrator around p.
func New(p llm.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:    p,
		timeout:     DefaultTimeout,
		maxAttempts: DefaultMaxAttempts,
		sleep:       sleepCtx,
		jitter:      rand.Float64,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Generate runs the completion with the retry policy and returns the cleaned
// minute. Transient faults are retried up to the attempt budget; a
// context-length fault halves MaxTokens once before surfacing.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Output, error) {
	completion := llm.CompletionRequest{
		SystemPrompt: req.System,
		Messages:     []llm.Message{{Role: "user", Content: req.User}},
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
	}

	var (
		attempts int
		halved   bool
	)
	for {
		attempts++
		resp, err := o.complete(ctx, completion)
		if err == nil {
			markdown := stripFences(resp.Content)
			html, rerr := RenderHTML(markdown)
			if rerr != nil {
				return nil, fmt.Errorf("minutes: render html: %w", rerr)
			}
			return &Output{
				Markdown: markdown,
				HTML:     html,
				Usage: meeting.Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
				Attempts: attempts,
			}, nil
		}

		kind := meeting.KindOf(err)
		switch {
		case kind == meeting.KindContextLength && !halved && completion.MaxTokens > 1:
			halved = true
			completion.MaxTokens /= 2
			slog.Warn("completion hit the context limit; retrying with halved max tokens",
				"max_tokens", completion.MaxTokens)
			continue

		case meeting.IsRetryable(err) && attempts < o.maxAttempts:
			delay := o.backoff(attempts)
			slog.Warn("completion failed; backing off",
				"attempt", attempts, "delay", delay, "kind", kind, "error", err)
			if serr := o.sleep(ctx, delay); serr != nil {
				return nil, serr
			}
			continue

		default:
			return nil, fmt.Errorf("minutes: generate after %d attempt(s): %w", attempts, err)
		}
	}
}

// complete runs one completion call under the per-call timeout.
func (o *Orchestrator) complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.provider.Complete(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return nil, meeting.Faultf(meeting.KindUpstreamTimeout,
				"completion exceeded %s", o.timeout)
		}
		return nil, err
	}
	return resp, nil
}

// backoff returns the jittered delay after the given attempt number:
// 1s, 2s, 4s, … each varied by ±20%.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	d := baseBackoff << (attempt - 1)
	factor := 0.8 + 0.4*o.jitter()
	return time.Duration(float64(d) * factor)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return meeting.Wrap(meeting.KindCancelled, ctx.Err())
	case <-timer.C:
		return nil
	}
}
