package minutes

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// renderer converts minute markdown to HTML. Tables are common in generated
// minutes (attendance, action items) and models emit single newlines inside
// sections, so hard wraps are enabled.
var renderer = goldmark.New(
	goldmark.WithExtensions(extension.Table, extension.Strikethrough),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// RenderHTML converts minute markdown to HTML.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := renderer.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// stripFences removes a single code fence wrapping the whole document.
// Models regularly answer with ```markdown … ``` around the minute body.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	rest := s[3:]
	// Drop an optional language tag on the opening fence line.
	if idx := strings.IndexByte(rest, '\n'); idx >= 0 {
		tag := strings.TrimSpace(rest[:idx])
		if tag == "" || tag == "markdown" || tag == "md" {
			rest = rest[idx+1:]
		} else {
			return s
		}
	} else {
		return s
	}

	rest = strings.TrimSpace(rest)
	rest = strings.TrimSuffix(rest, "```")
	return strings.TrimSpace(rest)
}
