// Package funasr provides an ASR provider backed by a FunASR sidecar service.
//
// The sidecar (a separate GPU-hosted process) exposes a small HTTP API:
//
//	POST /transcribe         : multipart file or audio_url form field
//	POST /speaker_embedding  : multipart file, returns a 192-dim voiceprint
//	GET  /health             : liveness probe
//
// Recognition responses follow the envelope
// {"code":0,"msg":"success","data":{"text":..., "transcript":[...]}} where
// each transcript item carries text, start_time, end_time, and speaker_id.
//
// Only standard library packages are used for the HTTP plumbing: the sidecar
// API is bespoke and no SDK exists for it.
package funasr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/minutekit/minutekit/pkg/meeting"
	"github.com/minutekit/minutekit/pkg/provider/asr"
)

// DefaultBaseURL is the default address of a locally running sidecar.
const DefaultBaseURL = "http://localhost:10095"

// Compile-time interface checks.
var (
	_ asr.Provider       = (*Provider)(nil)
	_ asr.SpeakerEncoder = (*Provider)(nil)
)

// Provider implements asr.Provider against a FunASR sidecar.
// It accepts both local files (uploaded as multipart bytes) and URLs
// (forwarded for the sidecar to fetch). Safe for concurrent use.
type Provider struct {
	baseURL    string
	httpClient *http.Client
}

// config holds optional configuration collected from functional options.
type config struct {
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout. Recognition of long
// recordings is slow; the default is no client-side timeout so that the
// caller's context deadline governs instead.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a Provider talking to the sidecar at baseURL.
// If baseURL is empty, DefaultBaseURL is used.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := &http.Client{}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	return &Provider{baseURL: baseURL, httpClient: httpClient}, nil
}

// AcceptsBytes implements asr.Provider.
func (p *Provider) AcceptsBytes() bool { return true }

// AcceptsURL implements asr.Provider.
func (p *Provider) AcceptsURL() bool { return true }

// transcribeEnvelope is the sidecar's response envelope.
type transcribeEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data transcribeData  `json:"data"`
}

type transcribeData struct {
	Text       string           `json:"text"`
	Transcript []transcriptItem `json:"transcript"`
}

type transcriptItem struct {
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	SpeakerID string  `json:"speaker_id"`
}

// Recognize implements asr.Provider. Local files are streamed as a multipart
// upload; URLs are forwarded in the audio_url form field for the sidecar to
// fetch itself.
func (p *Provider) Recognize(ctx context.Context, input asr.Input, opts asr.Options) (*asr.Result, error) {
	var (
		req *http.Request
		err error
	)
	switch {
	case input.URL != "":
		req, err = p.buildURLRequest(ctx, input.URL, opts)
	case input.Path != "":
		req, err = p.buildFileRequest(ctx, input.Path, opts)
	default:
		return nil, meeting.Faultf(meeting.KindBadInput, "funasr: empty input")
	}
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(fmt.Errorf("funasr: transcribe: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus(resp.StatusCode, fmt.Errorf("funasr: transcribe: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var envelope transcribeEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, meeting.Wrap(meeting.KindUpstreamUnavailable, fmt.Errorf("funasr: decode response: %w", err))
	}
	if envelope.Code != 0 {
		return nil, meeting.Faultf(meeting.KindUpstreamUnavailable, "funasr: sidecar error %d: %s", envelope.Code, envelope.Msg)
	}

	result := &asr.Result{FullText: envelope.Data.Text}
	for _, item := range envelope.Data.Transcript {
		result.Segments = append(result.Segments, asr.RawSegment{
			Text:       item.Text,
			StartSec:   item.StartTime,
			EndSec:     item.EndTime,
			RawSpeaker: item.SpeakerID,
		})
	}
	return result, nil
}

// buildURLRequest assembles a form-encoded request for remote audio.
func (p *Provider) buildURLRequest(ctx context.Context, audioURL string, opts asr.Options) (*http.Request, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	_ = mw.WriteField("audio_url", audioURL)
	writeOptionFields(mw, opts)
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("funasr: build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/transcribe", body)
	if err != nil {
		return nil, fmt.Errorf("funasr: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

// buildFileRequest assembles a multipart upload for a local audio file.
func (p *Provider) buildFileRequest(ctx context.Context, path string, opts asr.Options) (*http.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, meeting.Wrap(meeting.KindBadInput, fmt.Errorf("funasr: open audio: %w", err))
	}
	defer f.Close()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("funasr: build request: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("funasr: read audio: %w", err)
	}
	writeOptionFields(mw, opts)
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("funasr: build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/transcribe", body)
	if err != nil {
		return nil, fmt.Errorf("funasr: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

// writeOptionFields adds the shared recognition option fields to mw.
func writeOptionFields(mw *multipart.Writer, opts asr.Options) {
	_ = mw.WriteField("enable_punc", strconv.FormatBool(opts.Punctuation))
	_ = mw.WriteField("enable_vad", "true")
	_ = mw.WriteField("enable_speaker_diarization", strconv.FormatBool(opts.Diarization))
	if opts.Hotwords != "" {
		_ = mw.WriteField("hotwords", opts.Hotwords)
	}
	if opts.Language != "" {
		_ = mw.WriteField("language", opts.Language)
	}
}

// embeddingEnvelope is the /speaker_embedding response envelope.
type embeddingEnvelope struct {
	Code int `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Embedding []float32 `json:"embedding"`
		Dim       int       `json:"dim"`
	} `json:"data"`
}

// EncodeSpeaker implements asr.SpeakerEncoder by uploading the clip to the
// sidecar's speaker verification model.
func (p *Provider) EncodeSpeaker(ctx context.Context, path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, meeting.Wrap(meeting.KindBadInput, fmt.Errorf("funasr: open clip: %w", err))
	}
	defer f.Close()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("funasr: build request: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("funasr: read clip: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("funasr: build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/speaker_embedding", body)
	if err != nil {
		return nil, fmt.Errorf("funasr: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(fmt.Errorf("funasr: speaker embedding: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, fmt.Errorf("funasr: speaker embedding: status %d", resp.StatusCode))
	}

	var envelope embeddingEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, meeting.Wrap(meeting.KindUpstreamUnavailable, fmt.Errorf("funasr: decode embedding: %w", err))
	}
	if envelope.Code != 0 {
		return nil, meeting.Faultf(meeting.KindUpstreamUnavailable, "funasr: sidecar error %d: %s", envelope.Code, envelope.Msg)
	}
	if len(envelope.Data.Embedding) == 0 {
		return nil, meeting.Faultf(meeting.KindUpstreamUnavailable, "funasr: empty embedding in response")
	}
	return envelope.Data.Embedding, nil
}

// Ready implements asr.Provider by probing the sidecar's /health endpoint.
func (p *Provider) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("funasr: build health request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("funasr: health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("funasr: health: status %d", resp.StatusCode)
	}
	return nil
}

// classifyTransport maps client-side transport failures to fault kinds.
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return meeting.Wrap(meeting.KindUpstreamTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return meeting.Wrap(meeting.KindCancelled, err)
	}
	return meeting.Wrap(meeting.KindUpstreamUnavailable, err)
}

// isTimeout reports whether err is a net timeout.
func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// classifyStatus maps HTTP status codes to fault kinds.
func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return meeting.Wrap(meeting.KindUpstreamAuth, err)
	case status == http.StatusTooManyRequests:
		return meeting.Wrap(meeting.KindRateLimited, err)
	case status == http.StatusGatewayTimeout:
		return meeting.Wrap(meeting.KindUpstreamTimeout, err)
	case status >= 500:
		return meeting.Wrap(meeting.KindUpstreamUnavailable, err)
	default:
		return meeting.Wrap(meeting.KindBadInput, err)
	}
}
