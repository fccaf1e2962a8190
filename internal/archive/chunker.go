package archive

import (
	"strings"
)

// Default chunking geometry. Chunks aim for DefaultMinChars–DefaultMaxChars
// characters with DefaultOverlapChars of trailing context repeated between
// adjacent chunks of the same section.
const (
	DefaultMinChars     = 400
	DefaultMaxChars     = 800
	DefaultOverlapChars = 80
)

// Chunk is one embeddable slice of a minute.
type Chunk struct {
	Index   int
	Section string
	Text    string
}

// chunker carries the geometry so the splitting helpers stay free of
// parameter noise.
type chunker struct {
	minChars     int
	maxChars     int
	overlapChars int
}

// Split slices markdown along its semantic boundaries: headings first, then
// paragraphs, then sentences, greedily combined into chunks within the
// configured size band. Adjacent chunks of the same section share an overlap
// so retrieval never loses a sentence straddling a boundary.
func Split(markdown string, minChars, maxChars, overlapChars int) []Chunk {
	c := chunker{minChars: minChars, maxChars: maxChars, overlapChars: overlapChars}
	if c.minChars <= 0 {
		c.minChars = DefaultMinChars
	}
	if c.maxChars <= c.minChars {
		c.maxChars = c.minChars * 2
	}
	if c.overlapChars < 0 || c.overlapChars >= c.minChars {
		c.overlapChars = DefaultOverlapChars
	}

	var chunks []Chunk
	for _, sec := range splitSections(markdown) {
		texts := c.splitSection(sec.body)
		for _, text := range texts {
			chunks = append(chunks, Chunk{
				Index:   len(chunks),
				Section: sec.title,
				Text:    text,
			})
		}
	}
	return chunks
}

type section struct {
	title string
	body  string
}

// splitSections cuts markdown at top-level headings. Text before the first
// heading forms an untitled section.
func splitSections(markdown string) []section {
	var (
		sections []section
		current  section
		body     strings.Builder
	)
	flush := func() {
		text := strings.TrimSpace(body.String())
		if text != "" {
			current.body = text
			sections = append(sections, current)
		}
		body.Reset()
	}

	for _, line := range strings.Split(markdown, "\n") {
		if title, ok := headingTitle(line); ok {
			flush()
			current = section{title: title}
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	flush()
	return sections
}

// headingTitle recognises "# Title" and "## Title" lines.
func headingTitle(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range []string{"# ", "## "} {
		if strings.HasPrefix(trimmed, prefix) {
			return strings.TrimSpace(trimmed[len(prefix):]), true
		}
	}
	return "", false
}

// splitSection greedily packs a section's paragraphs into chunks, falling
// back to sentence splits for oversized paragraphs. Every chunk after the
// first starts with the tail of its predecessor.
func (c chunker) splitSection(body string) []string {
	var units []string
	for _, para := range strings.Split(body, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= c.maxChars {
			units = append(units, para)
			continue
		}
		units = append(units, c.splitSentences(para)...)
	}

	var (
		out     []string
		current strings.Builder
	)
	emit := func() {
		if current.Len() == 0 {
			return
		}
		text := current.String()
		out = append(out, text)
		current.Reset()
		// Seed the next chunk with the tail of this one.
		if c.overlapChars > 0 && len(text) > c.overlapChars {
			current.WriteString(tailRunes(text, c.overlapChars))
			current.WriteByte(' ')
		}
	}

	for _, unit := range units {
		if current.Len() > 0 && current.Len()+1+len(unit) > c.maxChars {
			emit()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(unit)
		if current.Len() >= c.minChars {
			emit()
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		out = append(out, current.String())
	}
	return out
}

// splitSentences cuts an oversized paragraph at sentence punctuation (CJK
// and Latin), hard-splitting any single sentence that still exceeds the
// maximum.
func (c chunker) splitSentences(para string) []string {
	var (
		sentences []string
		start     int
	)
	runes := []rune(para)
	for i, r := range runes {
		if !isSentenceEnd(r) {
			continue
		}
		s := strings.TrimSpace(string(runes[start : i+1]))
		if s != "" {
			sentences = append(sentences, s)
		}
		start = i + 1
	}
	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		sentences = append(sentences, rest)
	}

	var out []string
	for _, s := range sentences {
		for len(s) > c.maxChars {
			cut := tailSafeCut(s, c.maxChars)
			out = append(out, s[:cut])
			s = s[cut:]
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', ';', '；':
		return true
	}
	return false
}

// tailRunes returns the last n bytes of s, aligned to a rune boundary.
func tailRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && !isRuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}

// tailSafeCut returns a cut position ≤ n aligned to a rune boundary.
func tailSafeCut(s string, n int) int {
	if len(s) <= n {
		return len(s)
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		return n
	}
	return cut
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
