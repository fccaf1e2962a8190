package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalYAML = `
server:
  listen_addr: ":8080"
providers:
  llm:
    name: deepseek
    api_key: sk-test
    model: deepseek-chat
`

func TestLoadFromReaderMinimal(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Providers.LLM.Name != "deepseek" {
		t.Errorf("llm name = %q", cfg.Providers.LLM.Name)
	}
	if cfg.Providers.LLM.Model != "deepseek-chat" {
		t.Errorf("llm model = %q", cfg.Providers.LLM.Model)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("MINUTEKIT_TEST_KEY", "sk-from-env")

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := strings.Replace(minimalYAML, "sk-test", "${MINUTEKIT_TEST_KEY}", 1)
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "sk-from-env" {
		t.Errorf("api key = %q, want the expanded env value", cfg.Providers.LLM.APIKey)
	}
}

func TestDefaultsApplied(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("default log level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.ASR.MaxDurationSeconds != 18000 {
		t.Errorf("default max duration = %d, want 18000", cfg.ASR.MaxDurationSeconds)
	}
	if cfg.Minutes.MaxAttempts != 3 {
		t.Errorf("default max attempts = %d, want 3", cfg.Minutes.MaxAttempts)
	}
	if cfg.Voiceprint.SimilarityThreshold != 0.75 {
		t.Errorf("default similarity threshold = %v, want 0.75", cfg.Voiceprint.SimilarityThreshold)
	}
	if cfg.Archive.ChunkMinChars != 400 || cfg.Archive.ChunkMaxChars != 800 || cfg.Archive.ChunkOverlapChars != 80 {
		t.Errorf("default chunk sizes = %d/%d/%d, want 400/800/80",
			cfg.Archive.ChunkMinChars, cfg.Archive.ChunkMaxChars, cfg.Archive.ChunkOverlapChars)
	}
	if cfg.History.TopK != 5 {
		t.Errorf("default history top_k = %d, want 5", cfg.History.TopK)
	}
	if cfg.Pipeline.MaxWorkers != 4 {
		t.Errorf("default max workers = %d, want 4", cfg.Pipeline.MaxWorkers)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader(minimalYAML + "\nnonsense_key: true\n"))
	if err == nil {
		t.Fatal("unknown top-level key should be rejected")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Server.LogLevel = "loud"
	cfg.Voiceprint.SimilarityThreshold = 1.5
	cfg.Archive.ChunkMinChars = 900 // exceeds max of 800

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate: expected errors")
	}
	for _, want := range []string{"server.log_level", "voiceprint.similarity_threshold", "archive.chunk_min_chars", "providers.llm.name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestValidateTLSRequiresBothFiles(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(minimalYAML + `
  # providers block continues above
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	cfg.Server.TLS = &TLSConfig{CertFile: "cert.pem"}
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "server.tls") {
		t.Errorf("Validate TLS: %v", err)
	}
}

func TestValidateOverlapMustBeSmallerThanMin(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Providers.LLM.Name = "deepseek"
	cfg.Archive.ChunkOverlapChars = 400

	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "chunk_overlap_chars") {
		t.Errorf("Validate overlap: %v", err)
	}
}

func TestLogLevelIsValid(t *testing.T) {
	t.Parallel()

	for _, l := range []LogLevel{LogDebug, LogInfo, LogWarn, LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if LogLevel("verbose").IsValid() {
		t.Error("verbose should not be valid")
	}
}

func TestStringOption(t *testing.T) {
	t.Parallel()

	e := ProviderEntry{Options: map[string]any{"secret_id": "abc", "speakers": 3}}
	if got := e.StringOption("secret_id"); got != "abc" {
		t.Errorf("StringOption(secret_id) = %q", got)
	}
	if got := e.StringOption("speakers"); got != "" {
		t.Errorf("StringOption(non-string) = %q, want empty", got)
	}
	if got := e.StringOption("missing"); got != "" {
		t.Errorf("StringOption(missing) = %q, want empty", got)
	}
}
