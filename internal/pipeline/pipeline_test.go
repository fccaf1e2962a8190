package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/minutekit/minutekit/internal/asr"
	"github.com/minutekit/minutekit/internal/audio"
	"github.com/minutekit/minutekit/internal/history"
	"github.com/minutekit/minutekit/internal/minutes"
	"github.com/minutekit/minutekit/pkg/meeting"
	asrprov "github.com/minutekit/minutekit/pkg/provider/asr"
	asrmock "github.com/minutekit/minutekit/pkg/provider/asr/mock"
	embmock "github.com/minutekit/minutekit/pkg/provider/embeddings/mock"
	"github.com/minutekit/minutekit/pkg/provider/llm"
	llmmock "github.com/minutekit/minutekit/pkg/provider/llm/mock"
	"github.com/minutekit/minutekit/pkg/provider/vector"
	"github.com/minutekit/minutekit/pkg/provider/vector/memory"
)

// silenceWav writes a mono 16-bit PCM wav of the given length into dir.
func silenceWav(t *testing.T, dir string, seconds float64) string {
	t.Helper()

	const sampleRate = 16000
	pcm := make([]byte, int(sampleRate*seconds)*2)
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	path := filepath.Join(dir, "meeting.wav")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// newTestController wires a controller around the given mocks with voiceprint
// and history disabled.
func newTestController(t *testing.T, asrP *asrmock.Provider, llmP *llmmock.Provider, opts ...Option) *Controller {
	t.Helper()

	pre := audio.NewPreprocessor("", 16000)
	engine := asr.New(asrP, pre)
	gen := minutes.New(llmP)
	opts = append([]Option{WithTempRoot(t.TempDir())}, opts...)
	return New(engine, pre, nil, nil, gen, llmP, opts...)
}

func minuteLLM() *llmmock.Provider {
	return &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: "# Minutes\n\nWe met.",
			Usage:   llm.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		},
	}
}

func TestProcessRejectsZeroOrMultipleInputs(t *testing.T) {
	t.Parallel()

	c := newTestController(t, &asrmock.Provider{}, minuteLLM())
	cases := []Request{
		{},
		{Text: "notes", Document: &Document{Filename: "a.txt", Data: []byte("x")}},
		{Text: "notes", Audio: []meeting.AudioSource{{Kind: meeting.AudioLocalPath, Path: "a.wav"}}},
	}
	for _, req := range cases {
		if _, err := c.Process(context.Background(), req); meeting.KindOf(err) != meeting.KindBadInput {
			t.Errorf("Process(%+v) kind = %q, want BAD_INPUT", req, meeting.KindOf(err))
		}
	}
}

func TestProcessText(t *testing.T) {
	t.Parallel()

	llmP := minuteLLM()
	c := newTestController(t, &asrmock.Provider{}, llmP)

	got, err := c.Process(context.Background(), Request{
		Text:        "We agreed to ship in June.",
		Temperature: 0.7,
		MaxTokens:   2000,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got.RawText != "We agreed to ship in June." {
		t.Errorf("RawText = %q", got.RawText)
	}
	if len(got.Transcript) != 0 {
		t.Errorf("Transcript = %v, want empty for text input", got.Transcript)
	}
	if !strings.HasPrefix(got.Minutes, "# Minutes") || !strings.Contains(got.HTML, "<h1") {
		t.Errorf("Minutes = %q, HTML = %q", got.Minutes, got.HTML)
	}
	if got.Usage.TotalTokens != 30 {
		t.Errorf("Usage = %+v", got.Usage)
	}
	// The generation call carried the transcript in the user prompt.
	req := llmP.CompleteCalls[len(llmP.CompleteCalls)-1].Req
	if !strings.Contains(req.Messages[1].Content, "ship in June") {
		t.Errorf("user prompt = %q", req.Messages[1].Content)
	}
}

func TestProcessDocument(t *testing.T) {
	t.Parallel()

	c := newTestController(t, &asrmock.Provider{}, minuteLLM())

	got, err := c.Process(context.Background(), Request{
		Document: &Document{Filename: "notes.txt", Data: []byte("Decisions were made.\n")},
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got.RawText != "Decisions were made." {
		t.Errorf("RawText = %q", got.RawText)
	}
}

func TestProcessDocumentUnsupportedExtension(t *testing.T) {
	t.Parallel()

	c := newTestController(t, &asrmock.Provider{}, minuteLLM())
	_, err := c.Process(context.Background(), Request{
		Document: &Document{Filename: "slides.pptx", Data: []byte("x")},
	})
	if meeting.KindOf(err) != meeting.KindUnsupportedFormat {
		t.Fatalf("kind = %q, want UNSUPPORTED_FORMAT", meeting.KindOf(err))
	}
}

func TestProcessSingleAudio(t *testing.T) {
	t.Parallel()

	asrP := &asrmock.Provider{
		AcceptsBytesValue: true,
		RecognizeResult: &asrprov.Result{
			Segments: []asrprov.RawSegment{
				{Text: "hello everyone.", StartSec: 0, EndSec: 1.5, RawSpeaker: "spk_1"},
				{Text: "let us begin.", StartSec: 1.5, EndSec: 2, RawSpeaker: "spk_2"},
			},
		},
	}
	tempRoot := t.TempDir()
	c := newTestController(t, asrP, minuteLLM(), WithTempRoot(tempRoot))

	got, err := c.Process(context.Background(), Request{
		Audio: []meeting.AudioSource{{Kind: meeting.AudioLocalPath, Path: silenceWav(t, t.TempDir(), 2)}},
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(got.Transcript) != 2 {
		t.Fatalf("Transcript = %v", got.Transcript)
	}
	if got.Transcript[0].SpeakerID != 0 || got.Transcript[1].SpeakerID != 1 {
		t.Errorf("speaker ids = %d, %d; want dense 0, 1", got.Transcript[0].SpeakerID, got.Transcript[1].SpeakerID)
	}
	if got.RawText != "hello everyone. let us begin." {
		t.Errorf("RawText = %q", got.RawText)
	}
	if len(got.FileErrors) != 0 {
		t.Errorf("FileErrors = %v", got.FileErrors)
	}

	// The per-request temp subdirectory is gone.
	entries, err := os.ReadDir(tempRoot)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp root still holds %v", entries)
	}
}

func TestProcessMultiAudioMonotonicTimeline(t *testing.T) {
	t.Parallel()

	asrP := &asrmock.Provider{
		AcceptsBytesValue: true,
		RecognizeFunc: func(_ context.Context, input asrprov.Input, _ asrprov.Options) (*asrprov.Result, error) {
			return &asrprov.Result{Segments: []asrprov.RawSegment{
				{Text: "part of " + filepath.Base(input.Path) + ".", StartSec: 0, EndSec: 2, RawSpeaker: "spk"},
			}}, nil
		},
	}
	c := newTestController(t, asrP, minuteLLM())

	got, err := c.Process(context.Background(), Request{
		Audio: []meeting.AudioSource{
			{Kind: meeting.AudioLocalPath, Path: silenceWav(t, t.TempDir(), 2)},
			{Kind: meeting.AudioLocalPath, Path: silenceWav(t, t.TempDir(), 2)},
		},
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(got.Transcript) != 2 {
		t.Fatalf("Transcript = %v", got.Transcript)
	}
	first, second := got.Transcript[0], got.Transcript[1]
	if second.StartSec < first.EndSec {
		t.Errorf("timeline not monotonic: file 2 starts at %.2f before file 1 ends at %.2f",
			second.StartSec, first.EndSec)
	}
	// The shift equals the first file's real duration (2 s), not its last
	// segment end.
	if second.StartSec < 1.9 || second.StartSec > 2.1 {
		t.Errorf("second file shifted by %.2f, want ~2.0", second.StartSec)
	}
}

func TestProcessPartialAudioFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := silenceWav(t, dir, 1)
	bad := filepath.Join(dir, "bad.wav")
	data, _ := os.ReadFile(good)
	if err := os.WriteFile(bad, data, 0o644); err != nil {
		t.Fatal(err)
	}

	asrP := &asrmock.Provider{
		AcceptsBytesValue: true,
		RecognizeFunc: func(_ context.Context, input asrprov.Input, _ asrprov.Options) (*asrprov.Result, error) {
			if strings.Contains(input.Path, "bad") {
				return nil, meeting.Faultf(meeting.KindUpstreamUnavailable, "backend gone")
			}
			return &asrprov.Result{Segments: []asrprov.RawSegment{
				{Text: "still here.", StartSec: 0, EndSec: 1, RawSpeaker: "spk"},
			}}, nil
		},
	}
	c := newTestController(t, asrP, minuteLLM())

	got, err := c.Process(context.Background(), Request{
		Audio: []meeting.AudioSource{
			{Kind: meeting.AudioLocalPath, Path: good},
			{Kind: meeting.AudioLocalPath, Path: bad},
		},
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(got.FileErrors) != 1 || got.FileErrors[0].Name != "bad.wav" {
		t.Fatalf("FileErrors = %v, want one for bad.wav", got.FileErrors)
	}
	if got.RawText != "still here." {
		t.Errorf("RawText = %q", got.RawText)
	}
}

func TestProcessAllAudioFailed(t *testing.T) {
	t.Parallel()

	asrP := &asrmock.Provider{
		AcceptsBytesValue: true,
		RecognizeErr:      meeting.Faultf(meeting.KindUpstreamUnavailable, "backend gone"),
	}
	c := newTestController(t, asrP, minuteLLM())

	_, err := c.Process(context.Background(), Request{
		Audio: []meeting.AudioSource{{Kind: meeting.AudioLocalPath, Path: silenceWav(t, t.TempDir(), 1)}},
	})
	if meeting.KindOf(err) != meeting.KindUpstreamUnavailable {
		t.Fatalf("kind = %q, want UPSTREAM_UNAVAILABLE", meeting.KindOf(err))
	}
}

func TestProcessStoredAudioID(t *testing.T) {
	t.Parallel()

	stored := silenceWav(t, t.TempDir(), 1)
	asrP := &asrmock.Provider{
		AcceptsBytesValue: true,
		RecognizeResult: &asrprov.Result{Segments: []asrprov.RawSegment{
			{Text: "from storage.", StartSec: 0, EndSec: 1, RawSpeaker: "spk"},
		}},
	}
	c := newTestController(t, asrP, minuteLLM(), WithStoredResolver(func(id string) (string, error) {
		if id != "rec-42" {
			return "", errors.New("unknown id")
		}
		return stored, nil
	}))

	got, err := c.Process(context.Background(), Request{
		Audio: []meeting.AudioSource{{Kind: meeting.AudioStoredID, StoredID: "rec-42"}},
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got.RawText != "from storage." {
		t.Errorf("RawText = %q", got.RawText)
	}
}

func TestProcessAudioURL(t *testing.T) {
	t.Parallel()

	asrP := &asrmock.Provider{
		AcceptsURLValue: true,
		RecognizeResult: &asrprov.Result{FullText: "remote recording text."},
	}
	c := newTestController(t, asrP, minuteLLM())

	got, err := c.Process(context.Background(), Request{
		Audio: []meeting.AudioSource{{Kind: meeting.AudioURL, URL: "https://files.example.com/a.mp3"}},
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got.RawText != "remote recording text." {
		t.Errorf("RawText = %q", got.RawText)
	}
	if in := asrP.RecognizeCalls[0].Input; in.URL == "" || in.Path != "" {
		t.Errorf("provider input = %+v, want URL only", in)
	}
}

func TestProcessHistoryRetrievalSetsNeedRAG(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()
	if err := store.EnsureCollection(ctx, "minutes_chunks", 4); err != nil {
		t.Fatal(err)
	}
	if err := store.Upsert(ctx, "minutes_chunks", []vector.Record{
		{ID: "12_0", Vector: []float32{0, 0, 0, 0}, Content: "decided to ship in June",
			Payload: map[string]string{"source_id": "12", "chunk_index": "0"}},
	}); err != nil {
		t.Fatal(err)
	}

	llmP := minuteLLM()
	hist := history.New(llmP, &embmock.Provider{EmbedResult: []float32{0, 0, 0, 0}}, store, "minutes_chunks")

	pre := audio.NewPreprocessor("", 16000)
	engine := asr.New(&asrmock.Provider{}, pre)
	c := New(engine, pre, nil, hist, minutes.New(llmP), llmP, WithTempRoot(t.TempDir()))

	got, err := c.Process(context.Background(), Request{
		Text:    "follow-up on the rollout",
		History: meeting.HistoryRequest{IDs: []int{12}, Mode: meeting.HistoryRetrieval},
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !got.NeedRAG {
		t.Error("NeedRAG = false, want true after retrieval")
	}
	req := llmP.CompleteCalls[len(llmP.CompleteCalls)-1].Req
	if !strings.Contains(req.Messages[1].Content, "decided to ship in June") {
		t.Errorf("user prompt missing retrieved context: %q", req.Messages[1].Content)
	}
}

func TestProcessSoftDeadline(t *testing.T) {
	t.Parallel()

	asrP := &asrmock.Provider{
		AcceptsBytesValue: true,
		RecognizeFunc: func(ctx context.Context, _ asrprov.Input, _ asrprov.Options) (*asrprov.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	c := newTestController(t, asrP, minuteLLM(), WithSoftDeadline(50*time.Millisecond))

	_, err := c.Process(context.Background(), Request{
		Audio: []meeting.AudioSource{{Kind: meeting.AudioLocalPath, Path: silenceWav(t, t.TempDir(), 1)}},
	})
	if meeting.KindOf(err) != meeting.KindDeadlineExceeded {
		t.Fatalf("kind = %q, want DEADLINE_EXCEEDED", meeting.KindOf(err))
	}
}

func TestProcessPromptOverBudget(t *testing.T) {
	t.Parallel()

	llmP := minuteLLM()
	llmP.TokenCount = 9000
	c := newTestController(t, &asrmock.Provider{}, llmP, WithTokenBudget(8000))

	_, err := c.Process(context.Background(), Request{Text: "short but expensive"})
	if meeting.KindOf(err) != meeting.KindContextLength {
		t.Fatalf("kind = %q, want CONTEXT_LENGTH", meeting.KindOf(err))
	}
}
