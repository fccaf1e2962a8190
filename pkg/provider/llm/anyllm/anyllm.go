// Package anyllm provides a universal LLM provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, DeepSeek, Ollama, Mistral, Groq, and more.
//
// The minute generator mostly talks to DeepSeek and to Qwen models hosted
// behind DashScope's OpenAI-compatible endpoint; both have dedicated
// constructors here. Error classification maps provider failures onto the
// pipeline's fault kinds so the retry layer can tell transient from
// deterministic failures.
//
// Usage:
//
//	p, err := anyllm.NewDeepSeek("deepseek-chat", anyllmlib.WithAPIKey("sk-..."))
//	p, err := anyllm.NewQwen("qwen3-max", anyllmlib.WithAPIKey("sk-..."))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/minutekit/minutekit/pkg/meeting"
	"github.com/minutekit/minutekit/pkg/provider/llm"
)

// QwenBaseURL is DashScope's OpenAI-compatible endpoint for Qwen models.
const QwenBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// Ensure Provider implements the llm.Provider interface.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a new Provider backed by the given LLM provider name.
//
// providerName is one of: "deepseek", "qwen3", "openai", "ollama", "mistral",
// "groq".
//
// model is the specific model to use (e.g., "deepseek-chat", "qwen3-max").
//
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). If no API key option is provided, the provider
// falls back to the relevant environment variable.
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Provider{backend: backend, model: model}, nil
}

// NewDeepSeek creates a Provider backed by DeepSeek.
// Without options, it reads the DEEPSEEK_API_KEY environment variable.
func NewDeepSeek(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("deepseek", model, opts...)
}

// NewQwen creates a Provider backed by Qwen via DashScope's OpenAI-compatible
// endpoint. Pass anyllmlib.WithBaseURL to target a different compatible host.
func NewQwen(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("qwen3", model, opts...)
}

// NewOpenAI creates a Provider backed by OpenAI.
// Without options, it reads the OPENAI_API_KEY environment variable.
func NewOpenAI(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("openai", model, opts...)
}

// NewOllama creates a Provider backed by Ollama (local inference).
// Without options, it connects to http://localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

// createBackend creates the underlying any-llm-go provider for the given
// provider name. "qwen3" is the OpenAI-compatible backend pointed at
// DashScope unless the caller overrides the base URL.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "deepseek":
		return deepseek.New(opts...)
	case "qwen3":
		return anyllmoai.New(append([]anyllmlib.Option{anyllmlib.WithBaseURL(QwenBaseURL)}, opts...)...)
	case "openai":
		return anyllmoai.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: deepseek, qwen3, openai, ollama, mistral, groq", providerName)
	}
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params := p.buildParams(req)

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return nil, classify(fmt.Errorf("anyllm: completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, meeting.Faultf(meeting.KindUpstreamUnavailable, "anyllm: empty choices in response")
	}

	result := &llm.CompletionResponse{
		Content: resp.Choices[0].Message.ContentString(),
	}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// CountTokens implements llm.Provider. The count is an estimate of roughly
// four characters per token plus a fixed per-message overhead; callers budget
// prompts with headroom rather than relying on an exact figure.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		// Role and formatting overhead.
		total += 4
	}
	return total, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return modelCapabilities(p.model)
}

// buildParams converts our CompletionRequest into anyllm CompletionParams.
func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message

	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}

	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}

	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}

	return params
}

// classify maps completion errors onto fault kinds by inspecting the error
// text. The unified backend flattens HTTP details into the message, so
// substring matching is the only signal available.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context deadline exceeded") || strings.Contains(msg, "timeout"):
		return meeting.Wrap(meeting.KindUpstreamTimeout, err)
	case strings.Contains(msg, "context canceled"):
		return meeting.Wrap(meeting.KindCancelled, err)
	case strings.Contains(msg, "context length") || strings.Contains(msg, "context_length") ||
		strings.Contains(msg, "maximum context") || strings.Contains(msg, "too many tokens"):
		return meeting.Wrap(meeting.KindContextLength, err)
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "invalid api key") || strings.Contains(msg, "unauthorized"):
		return meeting.Wrap(meeting.KindUpstreamAuth, err)
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return meeting.Wrap(meeting.KindRateLimited, err)
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504"):
		return meeting.Wrap(meeting.KindUpstreamUnavailable, err)
	default:
		return meeting.Wrap(meeting.KindUpstreamUnavailable, err)
	}
}

// modelCapabilities returns ModelCapabilities based on known model names.
// Unknown models receive sensible defaults.
func modelCapabilities(model string) llm.ModelCapabilities {
	caps := llm.ModelCapabilities{
		ContextWindow:   128_000,
		MaxOutputTokens: 8_192,
	}

	lower := strings.ToLower(model)

	switch {
	case strings.HasPrefix(lower, "deepseek-reasoner"):
		caps.ContextWindow = 128_000
		caps.MaxOutputTokens = 64_000

	case strings.HasPrefix(lower, "deepseek"):
		caps.ContextWindow = 128_000
		caps.MaxOutputTokens = 8_192

	case strings.HasPrefix(lower, "qwen3-max"), strings.HasPrefix(lower, "qwen-max"):
		caps.ContextWindow = 262_144
		caps.MaxOutputTokens = 32_768

	case strings.HasPrefix(lower, "qwen"):
		caps.ContextWindow = 131_072
		caps.MaxOutputTokens = 16_384

	case strings.HasPrefix(lower, "gpt-4o"):
		caps.ContextWindow = 128_000
		caps.MaxOutputTokens = 16_384

	case strings.HasPrefix(lower, "gpt-4"):
		caps.ContextWindow = 128_000
		caps.MaxOutputTokens = 4_096
	}

	return caps
}
