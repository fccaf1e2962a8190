package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"asr":        {"funasr", "tencent", "auto"},
	"llm":        {"deepseek", "qwen3", "openai", "ollama", "mistral", "groq", "auto"},
	"embeddings": {"openai", "ollama"},
	"vector":     {"pgvector", "memory"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. Environment references ($VAR or ${VAR})
// are expanded before parsing so secrets can stay out of the file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	cfg, err := LoadFromReader(strings.NewReader(os.ExpandEnv(string(raw))))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills in zero-valued fields with production defaults.
// It never overwrites an explicitly configured value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.ASR.MaxDurationSeconds == 0 {
		cfg.ASR.MaxDurationSeconds = 18000
	}
	if cfg.ASR.TimeoutSeconds == 0 {
		cfg.ASR.TimeoutSeconds = 7200
	}
	if cfg.Minutes.TimeoutSeconds == 0 {
		cfg.Minutes.TimeoutSeconds = 180
	}
	if cfg.Minutes.MaxAttempts == 0 {
		cfg.Minutes.MaxAttempts = 3
	}
	if cfg.Minutes.Temperature == 0 {
		cfg.Minutes.Temperature = 0.3
	}
	if cfg.Voiceprint.Collection == "" {
		cfg.Voiceprint.Collection = "voiceprints"
	}
	if cfg.Voiceprint.SimilarityThreshold == 0 {
		cfg.Voiceprint.SimilarityThreshold = 0.75
	}
	if cfg.Archive.Collection == "" {
		cfg.Archive.Collection = "minutes_chunks"
	}
	if cfg.Archive.EmbeddingDimensions == 0 {
		cfg.Archive.EmbeddingDimensions = 1024
	}
	if cfg.Archive.ChunkMinChars == 0 {
		cfg.Archive.ChunkMinChars = 400
	}
	if cfg.Archive.ChunkMaxChars == 0 {
		cfg.Archive.ChunkMaxChars = 800
	}
	if cfg.Archive.ChunkOverlapChars == 0 {
		cfg.Archive.ChunkOverlapChars = 80
	}
	if cfg.Archive.EmbedTimeoutSeconds == 0 {
		cfg.Archive.EmbedTimeoutSeconds = 30
	}
	if cfg.Archive.VectorTimeoutSeconds == 0 {
		cfg.Archive.VectorTimeoutSeconds = 10
	}
	if cfg.History.TopK == 0 {
		cfg.History.TopK = 5
	}
	if cfg.History.MinSimilarity == 0 {
		cfg.History.MinSimilarity = 0.3
	}
	if cfg.Hotwords.Path != "" && cfg.Hotwords.MaxRenderChars == 0 {
		cfg.Hotwords.MaxRenderChars = 4096
	}
	if cfg.Audio.FFmpegPath == "" {
		cfg.Audio.FFmpegPath = "ffmpeg"
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Pipeline.MaxWorkers == 0 {
		cfg.Pipeline.MaxWorkers = 4
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("asr", cfg.Providers.ASR.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("vector", cfg.Providers.Vector.Name)

	// Provider availability warnings
	if cfg.Providers.ASR.Name == "" {
		slog.Warn("providers.asr is not configured; audio inputs will be rejected")
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.Vector.Name == "" {
		slog.Warn("providers.vector is not configured; the archive and voiceprint matching are disabled")
	}
	if cfg.Providers.Vector.Name != "" && cfg.Providers.Embeddings.Name == "" {
		slog.Warn("providers.vector is configured but providers.embeddings is not; archive writes will fail")
	}

	// Ranges
	if cfg.ASR.MaxDurationSeconds < 0 {
		errs = append(errs, fmt.Errorf("asr.max_duration_seconds %d must not be negative", cfg.ASR.MaxDurationSeconds))
	}
	if cfg.Minutes.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("minutes.max_attempts %d must be at least 1", cfg.Minutes.MaxAttempts))
	}
	if cfg.Minutes.Temperature < 0 || cfg.Minutes.Temperature > 2 {
		errs = append(errs, fmt.Errorf("minutes.temperature %.2f is out of range [0, 2]", cfg.Minutes.Temperature))
	}
	if t := cfg.Voiceprint.SimilarityThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("voiceprint.similarity_threshold %.2f is out of range (0, 1]", t))
	}
	if t := cfg.History.MinSimilarity; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("history.min_similarity %.2f is out of range [0, 1]", t))
	}
	if cfg.Archive.ChunkMinChars > cfg.Archive.ChunkMaxChars {
		errs = append(errs, fmt.Errorf("archive.chunk_min_chars %d exceeds chunk_max_chars %d",
			cfg.Archive.ChunkMinChars, cfg.Archive.ChunkMaxChars))
	}
	if cfg.Archive.ChunkOverlapChars >= cfg.Archive.ChunkMinChars {
		errs = append(errs, fmt.Errorf("archive.chunk_overlap_chars %d must be smaller than chunk_min_chars %d",
			cfg.Archive.ChunkOverlapChars, cfg.Archive.ChunkMinChars))
	}
	if cfg.Archive.EmbeddingDimensions <= 0 {
		errs = append(errs, fmt.Errorf("archive.embedding_dimensions %d must be positive", cfg.Archive.EmbeddingDimensions))
	}
	if cfg.Pipeline.MaxWorkers < 1 {
		errs = append(errs, fmt.Errorf("pipeline.max_workers %d must be at least 1", cfg.Pipeline.MaxWorkers))
	}

	// Hotwords
	if cfg.Hotwords.Path == "" && cfg.Hotwords.AutoReload {
		slog.Warn("hotwords.auto_reload is set but hotwords.path is empty; nothing to reload")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
