// Package history gathers context from previously archived minutes for a new
// generation request.
//
// Three modes exist. Summary fetches every referenced minute's chunks and has
// the LLM digest each one. Retrieval distils the current transcript into a
// key-phrase query, embeds it, and pulls the most similar archived chunks.
// Auto asks the LLM a single yes/no question about whether history would help
// and runs retrieval on yes; if the gate itself fails, a cheap heuristic
// decides instead.
//
// The whole package is best-effort: any failure degrades to an empty context
// string and the request proceeds without history.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/minutekit/minutekit/pkg/meeting"
	"github.com/minutekit/minutekit/pkg/provider/embeddings"
	"github.com/minutekit/minutekit/pkg/provider/llm"
	"github.com/minutekit/minutekit/pkg/provider/vector"
)

const (
	// DefaultTopK is the number of chunks retrieval returns.
	DefaultTopK = 5

	// DefaultMinSimilarity is the floor a chunk must clear to be included.
	DefaultMinSimilarity = 0.3

	// transcriptPrefixChars bounds the transcript slice shown to the LLM for
	// the auto gate and the key-phrase distillation.
	transcriptPrefixChars = 2000

	// summaryConcurrency bounds parallel per-meeting summaries.
	summaryConcurrency = 3

	embedTimeout  = 30 * time.Second
	vectorTimeout = 10 * time.Second
)

// Context is the gathered history for one request.
type Context struct {
	// Text is the assembled context, empty when no history applies.
	Text string

	// Retrieved reports that retrieval ran and at least one chunk cleared
	// the similarity floor. This drives the need_rag response field.
	Retrieved bool
}

// Loader gathers history context from the archive.
type Loader struct {
	llm        llm.Provider
	embedder   embeddings.Provider
	store      vector.Store
	collection string

	topK          int
	minSimilarity float64
}

// Option customises a Loader.
type Option func(*Loader)

// WithTopK overrides the retrieval chunk count.
func WithTopK(k int) Option {
	return func(l *Loader) {
		if k > 0 {
			l.topK = k
		}
	}
}

// WithMinSimilarity overrides the similarity floor.
func WithMinSimilarity(s float64) Option {
	return func(l *Loader) {
		if s > 0 && s <= 1 {
			l.minSimilarity = s
		}
	}
}

// New builds a Loader over the archive collection.
func New(llmProvider llm.Provider, embedder embeddings.Provider, store vector.Store, collection string, opts ...Option) *Loader {
	l := &Loader{
		llm:           llmProvider,
		embedder:      embedder,
		store:         store,
		collection:    collection,
		topK:          DefaultTopK,
		minSimilarity: DefaultMinSimilarity,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load gathers history per the request mode. It never returns an error:
// failures are logged and collapse to an empty Context.
func (l *Loader) Load(ctx context.Context, req meeting.HistoryRequest, transcript, requirement string) Context {
	if req.Mode == "" || len(req.IDs) == 0 {
		return Context{}
	}

	switch req.Mode {
	case meeting.HistorySummary:
		return Context{Text: l.summarize(ctx, req.IDs)}
	case meeting.HistoryRetrieval:
		return l.retrieve(ctx, req.IDs, transcript)
	case meeting.HistoryAuto:
		if l.shouldRetrieve(ctx, req, transcript, requirement) {
			return l.retrieve(ctx, req.IDs, transcript)
		}
		return Context{}
	default:
		slog.Warn("unknown history mode; skipping history", "mode", req.Mode)
		return Context{}
	}
}

// summarize digests each referenced minute with the LLM, concurrently, and
// joins the digests with id headers in request order.
func (l *Loader) summarize(ctx context.Context, ids []int) string {
	summaries := make([]string, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(summaryConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			text, err := l.summarizeOne(gctx, id)
			if err != nil {
				slog.Warn("history summary failed for meeting; skipping it", "meeting_id", id, "error", err)
				return nil
			}
			summaries[i] = text
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	var parts []string
	for i, s := range summaries {
		if s == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("### Meeting %d\n%s", ids[i], s))
	}
	return strings.Join(parts, "\n\n")
}

// summarizeOne fetches one minute's chunks and asks the LLM for a digest.
func (l *Loader) summarizeOne(ctx context.Context, id int) (string, error) {
	body, err := l.fetchMinute(ctx, id)
	if err != nil {
		return "", err
	}
	if body == "" {
		return "", nil
	}

	resp, err := l.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "You summarise archived meeting minutes. Reply with a short digest covering the title, the decisions made, and the action items. Keep the language of the source text.",
		Messages:     []llm.Message{{Role: "user", Content: body}},
		Temperature:  0.2,
	})
	if err != nil {
		return "", fmt.Errorf("summarize meeting %d: %w", id, err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// fetchMinute reassembles the archived chunks of one minute in chunk order.
func (l *Loader) fetchMinute(ctx context.Context, id int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, vectorTimeout)
	defer cancel()

	records, err := l.store.List(ctx, l.collection, vector.Filter{
		Payload: map[string]string{"source_id": strconv.Itoa(id)},
	}, 0)
	if err != nil {
		return "", fmt.Errorf("fetch chunks for meeting %d: %w", id, err)
	}

	sort.Slice(records, func(i, j int) bool {
		return chunkIndex(records[i]) < chunkIndex(records[j])
	})
	var parts []string
	for _, rec := range records {
		if rec.Content != "" {
			parts = append(parts, rec.Content)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// chunkIndex reads the numeric chunk position from a record's payload.
func chunkIndex(rec vector.Record) int {
	n, _ := strconv.Atoi(rec.Payload["chunk_index"])
	return n
}

// retrieve runs the semantic search path: distil a query, embed it, pull the
// nearest chunks scoped to the requested meetings, and keep those above the
// similarity floor.
func (l *Loader) retrieve(ctx context.Context, ids []int, transcript string) Context {
	query := l.distillQuery(ctx, transcript)
	if query == "" {
		return Context{}
	}

	embedCtx, cancel := context.WithTimeout(ctx, embedTimeout)
	vec, err := l.embedder.Embed(embedCtx, query)
	cancel()
	if err != nil {
		slog.Warn("history retrieval: embedding failed; skipping history", "error", err)
		return Context{}
	}

	matches := l.queryScoped(ctx, vec, ids)

	var parts []string
	for _, m := range matches {
		if m.Similarity < l.minSimilarity {
			continue
		}
		parts = append(parts, fmt.Sprintf("[meeting %s] %s", m.Record.Payload["source_id"], m.Record.Content))
	}
	if len(parts) == 0 {
		return Context{}
	}
	return Context{Text: strings.Join(parts, "\n\n"), Retrieved: true}
}

// queryScoped queries per requested meeting id and merges the results by
// ascending distance, truncated to topK. The payload filter is an exact
// match, so scoping to several ids takes one query each.
func (l *Loader) queryScoped(ctx context.Context, vec []float32, ids []int) []vector.Match {
	var merged []vector.Match
	for _, id := range ids {
		qctx, cancel := context.WithTimeout(ctx, vectorTimeout)
		matches, err := l.store.Query(qctx, l.collection, vec, l.topK, vector.Filter{
			Payload: map[string]string{"source_id": strconv.Itoa(id)},
		})
		cancel()
		if err != nil {
			slog.Warn("history retrieval: query failed for meeting; skipping it", "meeting_id", id, "error", err)
			continue
		}
		merged = append(merged, matches...)
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Distance < merged[j].Distance })
	if len(merged) > l.topK {
		merged = merged[:l.topK]
	}
	return merged
}

// distillQuery asks the LLM for the key phrases of the transcript prefix.
// On failure the raw prefix doubles as the query.
func (l *Loader) distillQuery(ctx context.Context, transcript string) string {
	prefix := strings.TrimSpace(prefixOf(transcript, transcriptPrefixChars))
	if prefix == "" {
		return ""
	}

	resp, err := l.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "Extract the key topics of the following meeting excerpt as a short comma-separated phrase list suitable for a semantic search query. Reply with the phrases only.",
		Messages:     []llm.Message{{Role: "user", Content: prefix}},
		Temperature:  0,
	})
	if err != nil {
		slog.Warn("history retrieval: key-phrase distillation failed; querying with raw prefix", "error", err)
		return prefix
	}
	if q := strings.TrimSpace(resp.Content); q != "" {
		return q
	}
	return prefix
}

// shouldRetrieve is the auto-mode gate: one yes/no LLM call, with a
// heuristic fallback when the gate fails.
func (l *Loader) shouldRetrieve(ctx context.Context, req meeting.HistoryRequest, transcript, requirement string) bool {
	prefix := strings.TrimSpace(prefixOf(transcript, transcriptPrefixChars))
	if prefix == "" {
		return false
	}

	resp, err := l.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "You decide whether summarising this meeting would benefit from looking up earlier meetings' minutes. Reply with exactly yes or no.",
		Messages:     []llm.Message{{Role: "user", Content: prefix}},
		Temperature:  0,
	})
	if err != nil {
		// Gate failure: the original heuristic decides.
		decision := len(req.IDs) <= 5 && len(strings.TrimSpace(requirement)) >= 10
		slog.Warn("history auto gate failed; using heuristic", "error", err, "retrieve", decision)
		return decision
	}

	answer := strings.ToLower(strings.TrimSpace(resp.Content))
	return strings.HasPrefix(answer, "yes") || strings.HasPrefix(answer, "是")
}

// prefixOf returns the first n bytes of s without splitting a UTF-8 rune.
func prefixOf(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
