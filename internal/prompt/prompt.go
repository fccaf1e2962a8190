// Package prompt turns the request's template field into the prompt pair
// handed to the LLM.
//
// The template field is deliberately overloaded: it can name a preset, point
// at a template file, carry an inline JSON prompt spec, or simply be the raw
// system prompt. Resolve tries those interpretations in that order, so a
// request can never fail on the template field alone. The user prompt is
// always assembled here from the transcript, the historical context, and the
// optional user requirement, in that order.
package prompt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minutekit/minutekit/pkg/meeting"
	"github.com/minutekit/minutekit/pkg/provider/llm"
)

// DefaultTokenBudget caps the resolved prompt size.
const DefaultTokenBudget = 8000

// Template is a resolved system prompt plus its provenance.
type Template struct {
	// System is the system prompt submitted to the LLM.
	System string

	// Source records how the template was resolved: "preset:<id>", "file",
	// "json", or "raw".
	Source string
}

// fileSpec is the JSON shape accepted in template files and inline specs.
type fileSpec struct {
	Prompt string `json:"prompt"`
	System string `json:"system"`
}

// Resolve interprets the raw template field. Resolution order: known preset
// id, existing file path, inline JSON object with a "prompt" key, raw system
// prompt. An empty field resolves to the default preset.
func Resolve(raw string) (Template, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = PresetDefault
	}

	if system, ok := presets[raw]; ok {
		return Template{System: system, Source: "preset:" + raw}, nil
	}

	if looksLikePath(raw) {
		if t, ok, err := resolveFile(raw); err != nil {
			return Template{}, err
		} else if ok {
			return t, nil
		}
	}

	if t, ok := resolveInlineJSON(raw); ok {
		return t, nil
	}

	return Template{System: raw, Source: "raw"}, nil
}

// looksLikePath filters out obvious non-paths before touching the
// filesystem, so a multi-line raw prompt is never stat'd.
func looksLikePath(s string) bool {
	return !strings.ContainsAny(s, "\n{") && filepath.Ext(s) != ""
}

// resolveFile loads a template file. .json files carry a fileSpec; .txt and
// .md files are the system prompt verbatim. A missing file is not an error:
// the caller falls through to the next interpretation.
func resolveFile(path string) (Template, bool, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return Template{}, false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, false, fmt.Errorf("prompt: read template %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var spec fileSpec
		if err := json.Unmarshal(data, &spec); err != nil {
			return Template{}, false, meeting.Wrap(meeting.KindBadInput,
				fmt.Errorf("prompt: parse template %s: %w", path, err))
		}
		system := combineSpec(spec)
		if system == "" {
			return Template{}, false, meeting.Faultf(meeting.KindBadInput,
				"prompt: template %s has neither prompt nor system", path)
		}
		return Template{System: system, Source: "file"}, true, nil
	case ".txt", ".md":
		system := strings.TrimSpace(string(data))
		if system == "" {
			return Template{}, false, meeting.Faultf(meeting.KindBadInput,
				"prompt: template %s is empty", path)
		}
		return Template{System: system, Source: "file"}, true, nil
	default:
		return Template{}, false, nil
	}
}

// resolveInlineJSON accepts a JSON object with a "prompt" key (optionally a
// "system" key). Anything else falls through to the raw interpretation.
func resolveInlineJSON(raw string) (Template, bool) {
	if !strings.HasPrefix(raw, "{") {
		return Template{}, false
	}
	var spec fileSpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return Template{}, false
	}
	system := combineSpec(spec)
	if system == "" {
		return Template{}, false
	}
	return Template{System: system, Source: "json"}, true
}

// combineSpec merges the optional system preamble with the prompt body.
func combineSpec(spec fileSpec) string {
	system := strings.TrimSpace(spec.System)
	prompt := strings.TrimSpace(spec.Prompt)
	switch {
	case system != "" && prompt != "":
		return system + "\n\n" + prompt
	case prompt != "":
		return prompt
	default:
		return system
	}
}

// UserPrompt assembles the user message: transcript first, then historical
// context, then the user requirement. Empty parts are omitted.
func UserPrompt(transcript, history, requirement string) string {
	var sections []string
	if t := strings.TrimSpace(transcript); t != "" {
		sections = append(sections, "Transcript:\n"+t)
	}
	if h := strings.TrimSpace(history); h != "" {
		sections = append(sections, "Historical context from previous meetings:\n"+h)
	}
	if r := strings.TrimSpace(requirement); r != "" {
		sections = append(sections, "Additional requirements from the requester:\n"+r)
	}
	return strings.Join(sections, "\n\n")
}

// EnsureBudget verifies the assembled prompt fits within budget tokens using
// the provider's own token counting. Zero or negative budget falls back to
// [DefaultTokenBudget].
func EnsureBudget(counter llm.Provider, t Template, user string, budget int) error {
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	tokens, err := counter.CountTokens([]llm.Message{
		{Role: "system", Content: t.System},
		{Role: "user", Content: user},
	})
	if err != nil {
		return fmt.Errorf("prompt: count tokens: %w", err)
	}
	if tokens > budget {
		return meeting.Faultf(meeting.KindContextLength,
			"prompt: %d tokens exceeds the %d token budget; trim the transcript or history", tokens, budget)
	}
	return nil
}
