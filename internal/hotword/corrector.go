package hotword

import (
	"sort"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Correction records one replacement applied by [Corrector.Correct].
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// Corrector aligns near-miss transcript tokens with known hotwords using
// Double Metaphone phonetic candidate filtering ranked by Jaro-Winkler
// similarity. Only Latin-script tokens are considered: product names and
// acronyms are where ASR mangles domain terms, while CJK hotwords are passed
// to the ASR provider as recognition hints instead.
//
// Corrector is read-only after construction and safe for concurrent use.
type Corrector struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// CorrectorOption is a functional option for [NewCorrector].
type CorrectorOption func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched hotword to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) CorrectorOption {
	return func(c *Corrector) {
		c.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic candidate is found and the corrector falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) CorrectorOption {
	return func(c *Corrector) {
		c.fuzzyThreshold = threshold
	}
}

// NewCorrector returns a Corrector configured with the supplied options.
func NewCorrector(opts ...CorrectorOption) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct replaces near-miss tokens in text with the closest hotword and
// returns the corrected text plus the list of replacements. Tokens are
// whitespace-separated; multi-word hotwords are matched with n-gram windows,
// longest window first, so "minute kit pro" can collapse onto "MinuteKit Pro".
//
// Text without Latin tokens, or an empty hotword list, returns text
// unchanged.
func (c *Corrector) Correct(text string, hotwords []string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || len(hotwords) == 0 {
		return text, nil
	}

	latinWords := filterLatin(hotwords)
	if len(latinWords) == 0 {
		return text, nil
	}

	maxWindow := maxWordCount(latinWords)

	var (
		output      []string
		corrections []Correction
	)

	i := 0
	for i < len(tokens) {
		maxN := maxWindow
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			if !isLatin(window) {
				continue
			}
			word, conf, ok := c.match(window, latinWords)
			if !ok {
				continue
			}
			if strings.EqualFold(window, word) {
				// Same spelling, only casing differs at most. Keep the
				// canonical hotword form but do not report a correction.
				output = append(output, word)
			} else {
				output = append(output, word)
				corrections = append(corrections, Correction{
					Original:   window,
					Corrected:  word,
					Confidence: conf,
				})
			}
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " "), corrections
}

// ApplyMappings rewrites alias phrases to their canonical hotword form.
// Matching is case-insensitive and works for any script, so CJK aliases are
// rewritten here even though the fuzzy pass skips them. Longer aliases are
// applied first so "minute kid pro" wins over "minute kid".
func ApplyMappings(text string, mappings map[string]string) (string, []Correction) {
	if text == "" || len(mappings) == 0 {
		return text, nil
	}

	aliases := make([]string, 0, len(mappings))
	for alias := range mappings {
		aliases = append(aliases, alias)
	}
	sort.Slice(aliases, func(i, j int) bool {
		if len(aliases[i]) != len(aliases[j]) {
			return len(aliases[i]) > len(aliases[j])
		}
		return aliases[i] < aliases[j]
	})

	var corrections []Correction
	for _, alias := range aliases {
		canonical := mappings[alias]
		next, n := replaceFold(text, alias, canonical)
		if n > 0 {
			corrections = append(corrections, Correction{
				Original:   alias,
				Corrected:  canonical,
				Confidence: 1,
			})
			text = next
		}
	}
	return text, corrections
}

// replaceFold replaces every case-insensitive occurrence of alias in text and
// returns the result with the replacement count.
func replaceFold(text, alias, canonical string) (string, int) {
	lower := strings.ToLower(text)
	aliasLower := strings.ToLower(alias)

	var (
		b     strings.Builder
		n     int
		start int
	)
	for {
		idx := strings.Index(lower[start:], aliasLower)
		if idx < 0 {
			break
		}
		idx += start
		b.WriteString(text[start:idx])
		b.WriteString(canonical)
		start = idx + len(aliasLower)
		n++
	}
	if n == 0 {
		return text, 0
	}
	b.WriteString(text[start:])
	return b.String(), n
}

// match finds the hotword most similar to window, or reports no match.
// Phonetic candidates (shared Double Metaphone code) are accepted at the
// lower phonetic threshold; everything else must clear the fuzzy threshold.
func (c *Corrector) match(window string, hotwords []string) (string, float64, bool) {
	windowLower := strings.ToLower(window)
	windowCodes := metaphoneCodes(strings.Fields(windowLower))

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)

	for _, hw := range hotwords {
		hwLower := strings.ToLower(hw)
		hwTokens := strings.Fields(hwLower)

		phonetic := codesOverlap(windowCodes, metaphoneCodes(hwTokens))
		score := bestSimilarity(windowLower, hwLower)

		switch {
		case phonetic && score >= c.phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				best, bestScore, bestPhonetic = hw, score, true
			}
		case !phonetic && !bestPhonetic && score >= c.fuzzyThreshold && score > bestScore:
			best, bestScore = hw, score
		}
	}

	if best == "" {
		return window, 0, false
	}
	return best, bestScore, true
}

// metaphoneCodes returns the union of Double Metaphone codes for the tokens.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity is the higher of the full-string and space-stripped
// Jaro-Winkler scores, so "minute kit" still aligns with "minutekit".
func bestSimilarity(a, b string) float64 {
	score := matchr.JaroWinkler(a, b, false)
	if strings.ContainsRune(a, ' ') || strings.ContainsRune(b, ' ') {
		if s := matchr.JaroWinkler(strings.ReplaceAll(a, " ", ""), strings.ReplaceAll(b, " ", ""), false); s > score {
			score = s
		}
	}
	return score
}

// filterLatin returns the hotwords consisting entirely of Latin letters,
// digits, and basic punctuation.
func filterLatin(words []string) []string {
	var out []string
	for _, w := range words {
		if isLatin(w) {
			out = append(out, w)
		}
	}
	return out
}

func isLatin(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII && !unicode.Is(unicode.Latin, r) {
			return false
		}
	}
	return true
}

func maxWordCount(words []string) int {
	max := 1
	for _, w := range words {
		if n := len(strings.Fields(w)); n > max {
			max = n
		}
	}
	return max
}
