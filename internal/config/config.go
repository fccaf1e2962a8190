// Package config provides the configuration schema, loader, and provider
// registry for the minutekit server.
package config

// LogLevel controls log verbosity for the minutekit server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for minutekit.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	ASR        ASRConfig        `yaml:"asr"`
	Minutes    MinutesConfig    `yaml:"minutes"`
	Voiceprint VoiceprintConfig `yaml:"voiceprint"`
	Archive    ArchiveConfig    `yaml:"archive"`
	History    HistoryConfig    `yaml:"history"`
	Hotwords   HotwordsConfig   `yaml:"hotwords"`
	Audio      AudioConfig      `yaml:"audio"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
}

// ServerConfig holds network and logging settings for the minutekit server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry]. ASR and LLM accept the name "auto", which builds a fallback
// group over every registered provider of that kind.
type ProvidersConfig struct {
	ASR        ProviderEntry `yaml:"asr"`
	LLM        ProviderEntry `yaml:"llm"`
	Embeddings ProviderEntry `yaml:"embeddings"`
	Vector     ProviderEntry `yaml:"vector"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "funasr", "tencent", "deepseek", "qwen3", "pgvector").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint. For the
	// "pgvector" store this is the PostgreSQL DSN.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "deepseek-chat", "bge-m3").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above (e.g., Tencent secret_id/secret_key/region).
	// Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// StringOption returns the named entry from Options as a string, or "" when
// absent or not a string.
func (e ProviderEntry) StringOption(key string) string {
	v, _ := e.Options[key].(string)
	return v
}

// ASRConfig holds settings for the transcription stage.
type ASRConfig struct {
	// MaxDurationSeconds caps how long a single audio input may be. Inputs
	// exceeding the cap are rejected before transcription starts.
	// Defaults to 18000 (5 hours).
	MaxDurationSeconds int `yaml:"max_duration_seconds"`

	// TimeoutSeconds bounds a single transcription call. Defaults to 7200.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// MinutesConfig holds settings for the LLM minute-generation stage.
type MinutesConfig struct {
	// TimeoutSeconds bounds a single completion call. Defaults to 180.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// MaxAttempts is the number of completion attempts before giving up on a
	// retryable failure. Defaults to 3.
	MaxAttempts int `yaml:"max_attempts"`

	// Temperature is passed through to the LLM. Defaults to 0.3.
	Temperature float64 `yaml:"temperature"`
}

// VoiceprintConfig holds settings for speaker identification.
type VoiceprintConfig struct {
	// Collection is the vector collection holding registered voiceprints.
	// Defaults to "voiceprints".
	Collection string `yaml:"collection"`

	// SimilarityThreshold is the minimum similarity (0..1] for a speaker
	// match to be accepted. Defaults to 0.75.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// ArchiveConfig holds settings for the semantic minute archive.
type ArchiveConfig struct {
	// Collection is the vector collection holding minute chunks.
	// Defaults to "minutes_chunks".
	Collection string `yaml:"collection"`

	// EmbeddingDimensions is the vector dimension used for the chunks
	// collection. Must match the model configured in Providers.Embeddings.
	// Defaults to 1024 (bge-m3).
	EmbeddingDimensions int `yaml:"embedding_dimensions"`

	// ChunkMinChars / ChunkMaxChars bound chunk sizes. Defaults: 400 / 800.
	ChunkMinChars int `yaml:"chunk_min_chars"`
	ChunkMaxChars int `yaml:"chunk_max_chars"`

	// ChunkOverlapChars is the tail carried between adjacent oversize-split
	// chunks. Defaults to 80.
	ChunkOverlapChars int `yaml:"chunk_overlap_chars"`

	// EmbedTimeoutSeconds bounds a single embedding batch call. Defaults to 30.
	EmbedTimeoutSeconds int `yaml:"embed_timeout_seconds"`

	// VectorTimeoutSeconds bounds a single vector store operation. Defaults to 10.
	VectorTimeoutSeconds int `yaml:"vector_timeout_seconds"`
}

// HistoryConfig holds settings for historical-minute retrieval.
type HistoryConfig struct {
	// TopK is the number of chunks retrieved per query. Defaults to 5.
	TopK int `yaml:"top_k"`

	// MinSimilarity is the similarity floor below which retrieved chunks are
	// discarded. Defaults to 0.3.
	MinSimilarity float64 `yaml:"min_similarity"`
}

// HotwordsConfig holds settings for the hotword registry.
type HotwordsConfig struct {
	// Path is the JSON file holding category → word-list entries. Empty
	// disables hotwords entirely.
	Path string `yaml:"path"`

	// AutoReload re-reads the file when its mtime changes. Defaults to true
	// when Path is set.
	AutoReload bool `yaml:"auto_reload"`

	// MaxRenderChars caps the rendered hotword string handed to ASR
	// providers. Defaults to 4096.
	MaxRenderChars int `yaml:"max_render_chars"`
}

// AudioConfig holds settings for audio preprocessing.
type AudioConfig struct {
	// FFmpegPath is the ffmpeg binary used for decoding and filtering.
	// Defaults to "ffmpeg" (resolved via PATH).
	FFmpegPath string `yaml:"ffmpeg_path"`

	// SampleRate is the target sample rate in Hz. Defaults to 16000.
	SampleRate int `yaml:"sample_rate"`

	// KeepTemp retains per-request temp directories for debugging.
	KeepTemp bool `yaml:"keep_temp"`
}

// PipelineConfig holds settings for request orchestration.
type PipelineConfig struct {
	// MaxWorkers caps concurrent audio transcriptions within one request.
	// The effective limit is min(inputs, GOMAXPROCS, MaxWorkers).
	// Defaults to 4.
	MaxWorkers int `yaml:"max_workers"`

	// SoftDeadlineSeconds bounds a whole /process request. Zero disables the
	// deadline.
	SoftDeadlineSeconds int `yaml:"soft_deadline_seconds"`
}
