// Package server exposes the ingestion pipeline over HTTP.
//
// Endpoints:
//
//	POST /process        : run one ingestion request (multipart form)
//	POST /archive        : archive an approved minute (JSON)
//	POST /voice/register : register a speaker voiceprint (multipart form)
//	GET  /hotwords       : inspect the hotword table
//	POST /hotwords/reload: re-read the hotword file
//	GET  /health         : provider health
//
// Routing uses the stdlib mux with method patterns; [Server.Handler] wraps
// the mux in the observability middleware.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/minutekit/minutekit/internal/archive"
	"github.com/minutekit/minutekit/internal/audio"
	"github.com/minutekit/minutekit/internal/health"
	"github.com/minutekit/minutekit/internal/hotword"
	"github.com/minutekit/minutekit/internal/observe"
	"github.com/minutekit/minutekit/internal/pipeline"
	"github.com/minutekit/minutekit/pkg/meeting"
	asrprov "github.com/minutekit/minutekit/pkg/provider/asr"
)

// Default LLM knobs applied when the form omits them.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
)

// PipelineResolver returns the controller for the requested model selection.
// Both names default to "auto" when the form omits them; an unknown name is
// reported as BAD_INPUT.
type PipelineResolver func(asrModel, llmModel string) (*pipeline.Controller, error)

// Config wires the server's collaborators. Archive, Voices, Encoder, and
// Hotwords may be nil, which disables their endpoints with a 503.
type Config struct {
	Pipelines PipelineResolver
	Archive   *archive.Service
	Voices    *VoiceRegistrar
	Hotwords  *hotword.Registry
	Health    *health.Handler
	Metrics   *observe.Metrics

	// MaxUploadBytes caps multipart form memory+disk usage. Default 512 MiB.
	MaxUploadBytes int64
}

// Server handles the minutekit HTTP API.
type Server struct {
	pipelines PipelineResolver
	archive   *archive.Service
	voices    *VoiceRegistrar
	hotwords  *hotword.Registry
	health    *health.Handler
	metrics   *observe.Metrics

	maxUploadBytes int64
}

// New builds a Server from cfg.
func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 512 << 20
	}
	return &Server{
		pipelines:      cfg.Pipelines,
		archive:        cfg.Archive,
		voices:         cfg.Voices,
		hotwords:       cfg.Hotwords,
		health:         cfg.Health,
		metrics:        cfg.Metrics,
		maxUploadBytes: cfg.MaxUploadBytes,
	}
}

// NewVoiceRegistrar builds the /voice/register backend. See [VoiceRegistrar].
func NewVoiceRegistrar(store VoiceStore, encoder asrprov.SpeakerEncoder, pre *audio.Preprocessor) *VoiceRegistrar {
	return &VoiceRegistrar{store: store, encoder: encoder, pre: pre}
}

// Register adds all API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /process", s.handleProcess)
	mux.HandleFunc("POST /archive", s.handleArchive)
	mux.HandleFunc("POST /voice/register", s.handleVoiceRegister)
	mux.HandleFunc("GET /hotwords", s.handleHotwords)
	mux.HandleFunc("POST /hotwords/reload", s.handleHotwordsReload)
	if s.health != nil {
		s.health.Register(mux)
	}
}

// Handler returns the full handler: routes wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return observe.Middleware(s.metrics)(mux)
}

// kindStatus maps fault kinds onto HTTP status codes.
func kindStatus(err error) int {
	switch meeting.KindOf(err) {
	case meeting.KindBadInput, meeting.KindUnsupportedFormat, meeting.KindDurationExceeded:
		return http.StatusBadRequest
	case meeting.KindContextLength:
		return http.StatusRequestEntityTooLarge
	case meeting.KindRateLimited:
		return http.StatusTooManyRequests
	case meeting.KindUpstreamAuth:
		return http.StatusBadGateway
	case meeting.KindUpstreamTimeout, meeting.KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	case meeting.KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

// writeError emits the uniform {status, message} error body.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, kindStatus(err), map[string]any{
		"status":  "error",
		"message": err.Error(),
	})
}
