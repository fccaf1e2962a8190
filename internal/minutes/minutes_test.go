package minutes

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/minutekit/minutekit/pkg/meeting"
	"github.com/minutekit/minutekit/pkg/provider/llm"
	llmmock "github.com/minutekit/minutekit/pkg/provider/llm/mock"
)

// newTestOrchestrator removes real sleeping and jitter from the retry loop.
func newTestOrchestrator(p llm.Provider, opts ...Option) *Orchestrator {
	o := New(p, opts...)
	o.sleep = func(context.Context, time.Duration) error { return nil }
	o.jitter = func() float64 { return 0.5 }
	return o
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: "# Meeting Minutes\n\n- decided to ship",
			Usage:   llm.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
		},
	}
	o := newTestOrchestrator(p)

	got, err := o.Generate(context.Background(), Request{
		System:      "write minutes",
		User:        "we met and decided to ship",
		Temperature: 0.7,
		MaxTokens:   2000,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got.Markdown != "# Meeting Minutes\n\n- decided to ship" {
		t.Errorf("Markdown = %q", got.Markdown)
	}
	if !strings.Contains(got.HTML, "<h1") {
		t.Errorf("HTML = %q, want rendered heading", got.HTML)
	}
	if got.Usage.TotalTokens != 120 {
		t.Errorf("Usage = %+v", got.Usage)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}

	req := p.CompleteCalls[0].Req
	if req.SystemPrompt != "write minutes" || req.Temperature != 0.7 || req.MaxTokens != 2000 {
		t.Errorf("request = %+v", req)
	}
}

func TestGenerateRetriesTransientFault(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		CompleteFunc: func(call int, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if call == 0 {
				return nil, meeting.Faultf(meeting.KindUpstreamTimeout, "slow upstream")
			}
			return &llm.CompletionResponse{Content: "# Minutes"}, nil
		},
	}
	o := newTestOrchestrator(p)

	got, err := o.Generate(context.Background(), Request{User: "hi"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", got.Attempts)
	}
}

func TestGenerateAttemptBudget(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		CompleteErr: meeting.Faultf(meeting.KindUpstreamUnavailable, "down"),
	}
	o := newTestOrchestrator(p)

	_, err := o.Generate(context.Background(), Request{User: "hi"})
	if meeting.KindOf(err) != meeting.KindUpstreamUnavailable {
		t.Errorf("kind = %q", meeting.KindOf(err))
	}
	if len(p.CompleteCalls) != DefaultMaxAttempts {
		t.Errorf("calls = %d, want %d", len(p.CompleteCalls), DefaultMaxAttempts)
	}
}

func TestGenerateDeterministicFaultNoRetry(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		CompleteErr: meeting.Faultf(meeting.KindUpstreamAuth, "bad key"),
	}
	o := newTestOrchestrator(p)

	_, err := o.Generate(context.Background(), Request{User: "hi"})
	if meeting.KindOf(err) != meeting.KindUpstreamAuth {
		t.Errorf("kind = %q", meeting.KindOf(err))
	}
	if len(p.CompleteCalls) != 1 {
		t.Errorf("calls = %d, want 1", len(p.CompleteCalls))
	}
}

func TestGenerateContextLengthHalvesOnce(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		CompleteFunc: func(call int, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if call == 0 {
				return nil, meeting.Faultf(meeting.KindContextLength, "too long")
			}
			if req.MaxTokens != 1000 {
				return nil, meeting.Faultf(meeting.KindBadInput, "max tokens = %d, want halved 1000", req.MaxTokens)
			}
			return &llm.CompletionResponse{Content: "# Minutes"}, nil
		},
	}
	o := newTestOrchestrator(p)

	got, err := o.Generate(context.Background(), Request{User: "hi", MaxTokens: 2000})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", got.Attempts)
	}
}

func TestGenerateContextLengthSurfacesAfterOneHalving(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		CompleteErr: meeting.Faultf(meeting.KindContextLength, "still too long"),
	}
	o := newTestOrchestrator(p)

	_, err := o.Generate(context.Background(), Request{User: "hi", MaxTokens: 2000})
	if meeting.KindOf(err) != meeting.KindContextLength {
		t.Errorf("kind = %q", meeting.KindOf(err))
	}
	if len(p.CompleteCalls) != 2 {
		t.Errorf("calls = %d, want 2 (original + one halving)", len(p.CompleteCalls))
	}
}

func TestBackoffDoublesWithJitter(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(&llmmock.Provider{})
	// jitter pinned at 0.5 → factor 1.0
	if d := o.backoff(1); d != time.Second {
		t.Errorf("backoff(1) = %v, want 1s", d)
	}
	if d := o.backoff(2); d != 2*time.Second {
		t.Errorf("backoff(2) = %v, want 2s", d)
	}
	if d := o.backoff(3); d != 4*time.Second {
		t.Errorf("backoff(3) = %v, want 4s", d)
	}
}

func TestStripFences(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"# plain", "# plain"},
		{"```markdown\n# fenced\n```", "# fenced"},
		{"```md\n# fenced\n```", "# fenced"},
		{"```\n# fenced\n```", "# fenced"},
		{"```python\nprint()\n```", "```python\nprint()\n```"},
		{"  ```markdown\n# padded\n```  ", "# padded"},
	}
	for _, tc := range cases {
		if got := stripFences(tc.in); got != tc.want {
			t.Errorf("stripFences(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRenderHTMLTables(t *testing.T) {
	t.Parallel()

	html, err := RenderHTML("| a | b |\n|---|---|\n| 1 | 2 |")
	if err != nil {
		t.Fatalf("RenderHTML: %v", err)
	}
	if !strings.Contains(html, "<table>") {
		t.Errorf("HTML = %q, want a table", html)
	}
}
