// Package pipeline orchestrates one /process request end to end: input
// validation, per-audio transcription fan-out, transcript merging, template
// and history resolution, and minute generation.
//
// The controller owns the request lifecycle. Audio inputs are preprocessed
// and transcribed concurrently, merged onto a single monotonic timeline in
// submission order, then handed to the LLM orchestrator as one transcript.
// Preprocessing, voiceprint matching, and history loading are best-effort;
// ASR and LLM failures surface to the caller.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/minutekit/minutekit/internal/asr"
	"github.com/minutekit/minutekit/internal/audio"
	"github.com/minutekit/minutekit/internal/document"
	"github.com/minutekit/minutekit/internal/history"
	"github.com/minutekit/minutekit/internal/minutes"
	"github.com/minutekit/minutekit/internal/prompt"
	"github.com/minutekit/minutekit/internal/voiceprint"
	"github.com/minutekit/minutekit/pkg/meeting"
	"github.com/minutekit/minutekit/pkg/provider/llm"
	asrprov "github.com/minutekit/minutekit/pkg/provider/asr"
)

// DefaultMaxWorkers caps concurrent per-audio pipelines within one request.
const DefaultMaxWorkers = 4

// Document is an uploaded document input.
type Document struct {
	// Filename carries the extension used for format dispatch.
	Filename string
	Data     []byte
}

// Request is one fully parsed ingestion request. Exactly one of Audio,
// Document, or Text must be set.
type Request struct {
	Audio    []meeting.AudioSource
	Document *Document
	Text     string

	// Template selects the minute template (preset id, file path, inline
	// JSON, or raw system prompt).
	Template string

	// Requirement is the requester's free-form instruction, if any.
	Requirement string

	// History names prior minutes to draw context from.
	History meeting.HistoryRequest

	// Temperature and MaxTokens are passed to the LLM.
	Temperature float64
	MaxTokens   int
}

// inputKinds counts how many input kinds the request supplies.
func (r Request) inputKinds() int {
	n := 0
	if len(r.Audio) > 0 {
		n++
	}
	if r.Document != nil {
		n++
	}
	if strings.TrimSpace(r.Text) != "" {
		n++
	}
	return n
}

// Controller runs ingestion requests against a fixed set of providers.
type Controller struct {
	engine  *asr.Engine
	pre     *audio.Preprocessor
	matcher *voiceprint.Matcher
	hist    *history.Loader
	gen     *minutes.Orchestrator
	llm     llm.Provider

	tempRoot     string
	keepTemp     bool
	maxWorkers   int
	softDeadline time.Duration
	tokenBudget  int

	// resolveStored maps an audio_id to a local file path.
	resolveStored func(id string) (string, error)
}

// Option customises a Controller.
type Option func(*Controller)

// WithTempRoot sets the directory request temp subdirectories live under.
func WithTempRoot(dir string) Option {
	return func(c *Controller) { c.tempRoot = dir }
}

// WithKeepTemp retains per-request temp directories for debugging.
func WithKeepTemp(keep bool) Option {
	return func(c *Controller) { c.keepTemp = keep }
}

// WithMaxWorkers caps concurrent audio transcriptions per request.
func WithMaxWorkers(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxWorkers = n
		}
	}
}

// WithSoftDeadline bounds a whole request. Zero disables the deadline.
func WithSoftDeadline(d time.Duration) Option {
	return func(c *Controller) { c.softDeadline = d }
}

// WithTokenBudget overrides the prompt token budget.
func WithTokenBudget(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.tokenBudget = n
		}
	}
}

// WithStoredResolver maps stored-recording ids onto local file paths.
func WithStoredResolver(fn func(id string) (string, error)) Option {
	return func(c *Controller) { c.resolveStored = fn }
}

// New builds a Controller. matcher and hist may be nil, which disables
// voiceprint attribution and history context respectively.
func New(engine *asr.Engine, pre *audio.Preprocessor, matcher *voiceprint.Matcher,
	hist *history.Loader, gen *minutes.Orchestrator, llmProvider llm.Provider, opts ...Option) *Controller {
	c := &Controller{
		engine:      engine,
		pre:         pre,
		matcher:     matcher,
		hist:        hist,
		gen:         gen,
		llm:         llmProvider,
		tempRoot:    os.TempDir(),
		maxWorkers:  DefaultMaxWorkers,
		tokenBudget: prompt.DefaultTokenBudget,
		resolveStored: func(id string) (string, error) {
			return "", meeting.Faultf(meeting.KindBadInput, "pipeline: unknown audio id %q", id)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Process runs one request through the full pipeline.
func (c *Controller) Process(ctx context.Context, req Request) (*meeting.Result, error) {
	switch n := req.inputKinds(); {
	case n == 0:
		return nil, meeting.Faultf(meeting.KindBadInput, "pipeline: no input supplied")
	case n > 1:
		return nil, meeting.Faultf(meeting.KindBadInput, "pipeline: %d input kinds supplied, want exactly one", n)
	}

	if c.softDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.softDeadline)
		defer cancel()
	}

	result, err := c.process(ctx, req)
	if err != nil {
		return nil, mapCtxErr(ctx, err)
	}
	return result, nil
}

func (c *Controller) process(ctx context.Context, req Request) (*meeting.Result, error) {
	dir, cleanup, err := c.tempDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var (
		rawText    string
		segments   []meeting.Segment
		fileErrors []meeting.FileError
	)
	switch {
	case len(req.Audio) > 0:
		rawText, segments, fileErrors, err = c.transcribeAll(ctx, req.Audio, dir)
	case req.Document != nil:
		rawText, err = c.extractDocument(req.Document, dir)
	default:
		rawText = strings.TrimSpace(req.Text)
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(rawText) == "" {
		return nil, meeting.Faultf(meeting.KindBadInput, "pipeline: input produced no text")
	}

	tpl, err := prompt.Resolve(req.Template)
	if err != nil {
		return nil, err
	}

	var hist history.Context
	if c.hist != nil {
		hist = c.hist.Load(ctx, req.History, rawText, req.Requirement)
	}

	user := prompt.UserPrompt(rawText, hist.Text, req.Requirement)
	if err := prompt.EnsureBudget(c.llm, tpl, user, c.tokenBudget); err != nil {
		return nil, err
	}

	out, err := c.gen.Generate(ctx, minutes.Request{
		System:      tpl.System,
		User:        user,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	return &meeting.Result{
		Minutes:    out.Markdown,
		HTML:       out.HTML,
		RawText:    rawText,
		Transcript: segments,
		NeedRAG:    hist.Retrieved,
		Usage:      out.Usage,
		FileErrors: fileErrors,
	}, nil
}

// fileOutcome is the per-audio fan-out result, indexed by submission order.
type fileOutcome struct {
	name       string
	transcript meeting.Transcript
	fullText   string
	duration   float64
	err        error
}

// transcribeAll runs the per-audio pipelines concurrently and merges the
// transcripts in submission order onto one monotonic timeline. Individual
// file failures become FileErrors as long as at least one file succeeds.
func (c *Controller) transcribeAll(ctx context.Context, sources []meeting.AudioSource, dir string) (string, []meeting.Segment, []meeting.FileError, error) {
	outcomes := make([]fileOutcome, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workerLimit(len(sources), c.maxWorkers))
	for i, src := range sources {
		g.Go(func() error {
			outcomes[i] = c.transcribeOne(gctx, i, src, dir)
			return nil
		})
	}
	g.Wait()

	var (
		merged     []meeting.Segment
		texts      []string
		fileErrors []meeting.FileError
		offset     float64
		firstErr   error
	)
	for _, oc := range outcomes {
		if oc.err != nil {
			fileErrors = append(fileErrors, meeting.FileError{Name: oc.name, Error: oc.err.Error()})
			if firstErr == nil {
				firstErr = oc.err
			}
			continue
		}
		shifted := oc.transcript.Shift(offset)
		merged = append(merged, shifted.Segments...)
		texts = append(texts, oc.fullText)
		offset += oc.duration
	}
	if len(texts) == 0 {
		if firstErr == nil {
			firstErr = meeting.Faultf(meeting.KindInternal, "pipeline: no audio outcomes")
		}
		return "", nil, nil, fmt.Errorf("pipeline: all %d audio inputs failed: %w", len(sources), firstErr)
	}

	rawText := meeting.JoinSegments(merged)
	if rawText == "" {
		// Providers without segment timing return FullText only.
		rawText = strings.Join(texts, "\n")
	}
	return rawText, merged, fileErrors, nil
}

// transcribeOne runs preprocess → ASR → voiceprint for a single source.
// Preprocessing and voiceprint matching never fail the file.
func (c *Controller) transcribeOne(ctx context.Context, index int, src meeting.AudioSource, dir string) fileOutcome {
	oc := fileOutcome{name: sourceName(src, index)}
	if err := src.Validate(); err != nil {
		oc.err = meeting.Wrap(meeting.KindBadInput, err)
		return oc
	}

	if src.Kind == meeting.AudioURL {
		// Remote audio is fetched by the provider; there is no local file to
		// preprocess or cut voiceprint clips from.
		res, err := c.engine.Transcribe(ctx, asrprov.Input{URL: src.URL})
		if err != nil {
			oc.err = err
			return oc
		}
		oc.transcript = meeting.Transcript{Segments: res.Segments, FullText: res.FullText}
		oc.fullText = res.FullText
		oc.duration = oc.transcript.EndSec()
		return oc
	}

	path, err := c.materialize(src, index, dir)
	if err != nil {
		oc.err = err
		return oc
	}

	prepared := filepath.Join(dir, fmt.Sprintf("prepared_%d_%s.wav", index, stem(path)))
	if err := c.pre.Preprocess(ctx, path, prepared); err != nil {
		slog.Warn("audio preprocessing failed; using original input",
			"input", oc.name, "error", err)
		prepared = path
	}

	res, err := c.engine.Transcribe(ctx, asrprov.Input{Path: prepared})
	if err != nil {
		oc.err = err
		return oc
	}

	segs := res.Segments
	if c.matcher != nil {
		segs = c.matcher.Attribute(ctx, prepared, dir, segs)
	}
	oc.transcript = meeting.Transcript{Segments: segs, FullText: res.FullText}
	oc.fullText = res.FullText
	oc.duration = c.fileDuration(ctx, prepared, oc.transcript)
	return oc
}

// materialize turns a non-URL source into a local file path, writing uploads
// into the request temp dir.
func (c *Controller) materialize(src meeting.AudioSource, index int, dir string) (string, error) {
	switch src.Kind {
	case meeting.AudioUpload:
		name := filepath.Base(src.Filename)
		if name == "" || name == "." {
			name = "upload"
		}
		path := filepath.Join(dir, fmt.Sprintf("input_%d_%s", index, name))
		if err := os.WriteFile(path, src.Data, 0o600); err != nil {
			return "", fmt.Errorf("pipeline: stage upload %q: %w", src.Filename, err)
		}
		return path, nil
	case meeting.AudioLocalPath:
		if _, err := os.Stat(src.Path); err != nil {
			return "", meeting.Wrap(meeting.KindBadInput, fmt.Errorf("pipeline: audio path: %w", err))
		}
		return src.Path, nil
	case meeting.AudioStoredID:
		return c.resolveStored(src.StoredID)
	default:
		return "", meeting.Faultf(meeting.KindBadInput, "pipeline: unexpected audio kind %s", src.Kind)
	}
}

// fileDuration probes the real file length for timeline shifting, falling
// back to the last segment's end time.
func (c *Controller) fileDuration(ctx context.Context, path string, t meeting.Transcript) float64 {
	dur, err := c.pre.Duration(ctx, path)
	if err == nil && dur > 0 {
		return dur
	}
	return t.EndSec()
}

// extractDocument stages the upload under the temp dir and extracts its text.
func (c *Controller) extractDocument(doc *Document, dir string) (string, error) {
	if !document.Supported(doc.Filename) {
		return "", meeting.Faultf(meeting.KindUnsupportedFormat,
			"pipeline: unsupported document %q (supported: %s)",
			doc.Filename, strings.Join(document.SupportedExtensions(), " "))
	}
	path := filepath.Join(dir, "document"+strings.ToLower(filepath.Ext(doc.Filename)))
	if err := os.WriteFile(path, doc.Data, 0o600); err != nil {
		return "", fmt.Errorf("pipeline: stage document %q: %w", doc.Filename, err)
	}
	return document.Extract(path)
}

// tempDir creates the unique per-request scratch directory.
func (c *Controller) tempDir() (string, func(), error) {
	dir := filepath.Join(c.tempRoot, "minutekit-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", nil, fmt.Errorf("pipeline: create temp dir: %w", err)
	}
	cleanup := func() {
		if c.keepTemp {
			slog.Debug("keeping request temp dir", "dir", dir)
			return
		}
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("removing request temp dir", "dir", dir, "error", err)
		}
	}
	return dir, cleanup, nil
}

// stem is the base name without its extension, used to keep temp artefacts
// traceable to their input when KeepTemp is on.
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// workerLimit is min(inputs, GOMAXPROCS, configured max).
func workerLimit(inputs, maxWorkers int) int {
	limit := inputs
	if p := runtime.GOMAXPROCS(0); p < limit {
		limit = p
	}
	if maxWorkers < limit {
		limit = maxWorkers
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// sourceName labels a source for per-file error reporting.
func sourceName(src meeting.AudioSource, index int) string {
	switch src.Kind {
	case meeting.AudioUpload:
		if src.Filename != "" {
			return src.Filename
		}
	case meeting.AudioLocalPath:
		return filepath.Base(src.Path)
	case meeting.AudioURL:
		return src.URL
	case meeting.AudioStoredID:
		return src.StoredID
	}
	return fmt.Sprintf("input_%d", index)
}

// mapCtxErr rewrites context expiry into the pipeline's own fault kinds so
// callers see DEADLINE_EXCEEDED/CANCELLED rather than raw context errors.
func mapCtxErr(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return meeting.Wrap(meeting.KindDeadlineExceeded, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return meeting.Wrap(meeting.KindCancelled, err)
	}
	return err
}
