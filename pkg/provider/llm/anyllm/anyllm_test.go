package anyllm

import (
	"errors"
	"strings"
	"testing"

	"github.com/minutekit/minutekit/pkg/meeting"
	"github.com/minutekit/minutekit/pkg/provider/llm"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "deepseek-chat"); err == nil {
		t.Error("empty provider name should fail")
	}
	if _, err := New("deepseek", ""); err == nil {
		t.Error("empty model should fail")
	}
	if _, err := New("nonsense", "m"); err == nil {
		t.Error("unknown provider name should fail")
	} else if !strings.Contains(err.Error(), "unsupported provider") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "deepseek-chat"}
	req := llm.CompletionRequest{
		SystemPrompt: "You are a meeting assistant.",
		Messages:     []llm.Message{{Role: "user", Content: "Summarise this."}},
		Temperature:  0.7,
		MaxTokens:    2000,
	}

	params := p.buildParams(req)

	if params.Model != "deepseek-chat" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2 (system + user)", len(params.Messages))
	}
	if params.Messages[0].Role != "system" {
		t.Errorf("first message role = %q, want system", params.Messages[0].Role)
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("Temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 2000 {
		t.Errorf("MaxTokens = %v", params.MaxTokens)
	}
}

func TestCountTokensApproximation(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "deepseek-chat"}
	count, err := p.CountTokens([]llm.Message{
		{Role: "user", Content: strings.Repeat("a", 400)},
	})
	if err != nil {
		t.Fatalf("CountTokens() error: %v", err)
	}
	// 400 chars / 4 + 4 overhead.
	if count != 104 {
		t.Errorf("CountTokens() = %d, want 104", count)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want meeting.Kind
	}{
		{"timeout", errors.New("request timeout exceeded"), meeting.KindUpstreamTimeout},
		{"context length", errors.New("this model's maximum context length is 131072 tokens"), meeting.KindContextLength},
		{"auth", errors.New("401 invalid api key"), meeting.KindUpstreamAuth},
		{"rate limited", errors.New("429 rate limit reached"), meeting.KindRateLimited},
		{"server error", errors.New("status 503 service unavailable"), meeting.KindUpstreamUnavailable},
		{"unknown", errors.New("boom"), meeting.KindUpstreamUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := meeting.KindOf(classify(tt.err)); got != tt.want {
				t.Errorf("classify(%q) kind = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestModelCapabilities(t *testing.T) {
	t.Parallel()

	if caps := modelCapabilities("deepseek-chat"); caps.MaxOutputTokens != 8_192 {
		t.Errorf("deepseek-chat MaxOutputTokens = %d", caps.MaxOutputTokens)
	}
	if caps := modelCapabilities("qwen3-max"); caps.ContextWindow != 262_144 {
		t.Errorf("qwen3-max ContextWindow = %d", caps.ContextWindow)
	}
	if caps := modelCapabilities("something-new"); caps.ContextWindow != 128_000 {
		t.Errorf("unknown model should get defaults, got %d", caps.ContextWindow)
	}
}
