// Command minuted is the minutekit meeting-minutes server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/minutekit/minutekit/internal/archive"
	"github.com/minutekit/minutekit/internal/asr"
	"github.com/minutekit/minutekit/internal/audio"
	"github.com/minutekit/minutekit/internal/config"
	"github.com/minutekit/minutekit/internal/health"
	"github.com/minutekit/minutekit/internal/history"
	"github.com/minutekit/minutekit/internal/hotword"
	"github.com/minutekit/minutekit/internal/minutes"
	"github.com/minutekit/minutekit/internal/observe"
	"github.com/minutekit/minutekit/internal/pipeline"
	"github.com/minutekit/minutekit/internal/resilience"
	"github.com/minutekit/minutekit/internal/server"
	"github.com/minutekit/minutekit/internal/voiceprint"
	"github.com/minutekit/minutekit/pkg/meeting"
	asrprov "github.com/minutekit/minutekit/pkg/provider/asr"
	"github.com/minutekit/minutekit/pkg/provider/asr/funasr"
	"github.com/minutekit/minutekit/pkg/provider/asr/tencent"
	"github.com/minutekit/minutekit/pkg/provider/embeddings"
	ollamaembed "github.com/minutekit/minutekit/pkg/provider/embeddings/ollama"
	oaembed "github.com/minutekit/minutekit/pkg/provider/embeddings/openai"
	"github.com/minutekit/minutekit/pkg/provider/llm"
	"github.com/minutekit/minutekit/pkg/provider/llm/anyllm"
	"github.com/minutekit/minutekit/pkg/provider/vector"
	"github.com/minutekit/minutekit/pkg/provider/vector/memory"
	"github.com/minutekit/minutekit/pkg/provider/vector/postgres"
)

// Exit codes. 130 follows the shell convention for termination by signal.
const (
	exitOK       = 0
	exitRunError = 1
	exitConfig   = 2
	exitProvider = 3
	exitSignal   = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	// .env is optional; real deployments set environment variables directly.
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "minuted: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "minuted: %v\n", err)
		}
		return exitConfig
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("minuted starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "minutekit"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return exitRunError
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return exitProvider
	}
	if providers.Vector != nil {
		defer providers.Vector.Close()
	}

	// Hotword registry. An empty path disables hotwords but keeps the
	// endpoints serving an empty table.
	hotwords, err := buildHotwords(cfg)
	if err != nil {
		slog.Error("failed to load hotwords", "err", err)
		return exitConfig
	}
	defer hotwords.Stop()

	app, err := newApplication(ctx, cfg, providers, hotwords)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return exitProvider
	}

	printStartupSummary(cfg)

	// Outer mux: API routes behind the observability middleware, plus the
	// Prometheus scrape endpoint.
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/", app.Handler())

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
	}

	serveErr := make(chan error, 1)
	go func() {
		if cfg.Server.TLS != nil {
			serveErr <- httpServer.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			serveErr <- httpServer.ListenAndServe()
		}
	}()

	slog.Info("server ready", "listen_addr", cfg.Server.ListenAddr, "tls", cfg.Server.TLS != nil)

	code := exitOK
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping")
		code = exitSignal
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("serve error", "err", err)
			code = exitRunError
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		if code == exitOK {
			code = exitRunError
		}
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// Auto-mode preference order. The first entry that can be constructed from
// the configured credentials becomes the primary of the fallback group.
var (
	asrAutoOrder = []string{"funasr", "tencent"}
	llmAutoOrder = []string{"deepseek", "qwen3", "openai", "ollama", "mistral", "groq"}
)

// llmDefaultModels supplies a per-backend model when the config leaves
// providers.llm.model empty, which happens in "auto" mode where a single
// model name cannot fit every backend.
var llmDefaultModels = map[string]string{
	"deepseek": "deepseek-chat",
	"qwen3":    "qwen3-max",
	"openai":   "gpt-4o-mini",
	"ollama":   "qwen3",
	"mistral":  "mistral-small-latest",
	"groq":     "llama-3.3-70b-versatile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── ASR ───────────────────────────────────────────────────────────────────

	reg.RegisterASR("funasr", func(entry config.ProviderEntry) (asrprov.Provider, error) {
		return funasr.New(entry.BaseURL)
	})

	reg.RegisterASR("tencent", func(entry config.ProviderEntry) (asrprov.Provider, error) {
		var opts []tencent.Option
		if region := entry.StringOption("region"); region != "" {
			opts = append(opts, tencent.WithRegion(region))
		}
		return tencent.New(entry.StringOption("secret_id"), entry.StringOption("secret_key"), opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// deepseek, qwen3, openai, mistral, and groq share the same pattern:
	// optional APIKey + optional BaseURL.
	for _, providerName := range []string{"deepseek", "qwen3", "openai", "mistral", "groq"} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, modelOrDefault(providerName, entry.Model), opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", modelOrDefault("ollama", entry.Model), opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})

	// ── Vector ────────────────────────────────────────────────────────────────

	reg.RegisterVector("pgvector", func(ctx context.Context, entry config.ProviderEntry) (vector.Store, error) {
		return postgres.New(ctx, entry.BaseURL)
	})

	reg.RegisterVector("memory", func(_ context.Context, _ config.ProviderEntry) (vector.Store, error) {
		return memory.New(), nil
	})
}

func modelOrDefault(providerName, model string) string {
	if model != "" {
		return model
	}
	return llmDefaultModels[providerName]
}

// providerSet holds every provider instance the application runs on. The ASR
// and LLM maps are keyed by the model names accepted in /process requests;
// "auto" maps to the fallback group (or the single configured backend).
type providerSet struct {
	ASR        map[string]asrprov.Provider
	LLM        map[string]llm.Provider
	Embeddings embeddings.Provider
	Vector     vector.Store
}

// buildProviders instantiates every provider named in cfg using the registry.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*providerSet, error) {
	ps := &providerSet{
		ASR: make(map[string]asrprov.Provider),
		LLM: make(map[string]llm.Provider),
	}

	if name := cfg.Providers.ASR.Name; name != "" {
		if err := buildASR(cfg.Providers.ASR, reg, ps); err != nil {
			return nil, fmt.Errorf("build asr providers: %w", err)
		}
		slog.Info("provider created", "kind", "asr", "name", name)
	}

	if err := buildLLM(cfg.Providers.LLM, reg, ps); err != nil {
		return nil, fmt.Errorf("build llm providers: %w", err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	if name := cfg.Providers.Vector.Name; name != "" {
		s, err := reg.CreateVector(ctx, cfg.Providers.Vector)
		if err != nil {
			return nil, fmt.Errorf("create vector store %q: %w", name, err)
		}
		ps.Vector = s
		slog.Info("provider created", "kind", "vector", "name", name)
	}

	return ps, nil
}

// buildASR populates ps.ASR. With a named provider, that single backend
// serves both its own name and "auto". With "auto", every constructible
// backend is registered under its name and the fallback group under "auto".
func buildASR(entry config.ProviderEntry, reg *config.Registry, ps *providerSet) error {
	if entry.Name != "auto" {
		p, err := reg.CreateASR(entry)
		if err != nil {
			return err
		}
		ps.ASR[entry.Name] = p
		ps.ASR["auto"] = p
		return nil
	}

	var group *resilience.ASRFallback
	for _, name := range asrAutoOrder {
		e := entry
		e.Name = name
		p, err := reg.CreateASR(e)
		if err != nil {
			slog.Warn("asr backend unavailable in auto mode", "name", name, "err", err)
			continue
		}
		ps.ASR[name] = p
		if group == nil {
			group = resilience.NewASRFallback(p, name, resilience.FallbackConfig{})
		} else {
			group.AddFallback(name, p)
		}
	}
	if group == nil {
		return errors.New("asr auto mode: no backend could be constructed")
	}
	ps.ASR["auto"] = group
	return nil
}

// buildLLM populates ps.LLM, mirroring buildASR.
func buildLLM(entry config.ProviderEntry, reg *config.Registry, ps *providerSet) error {
	if entry.Name != "auto" {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return err
		}
		ps.LLM[entry.Name] = p
		ps.LLM["auto"] = p
		return nil
	}

	var group *resilience.LLMFallback
	for _, name := range llmAutoOrder {
		e := entry
		e.Name = name
		p, err := reg.CreateLLM(e)
		if err != nil {
			slog.Warn("llm backend unavailable in auto mode", "name", name, "err", err)
			continue
		}
		ps.LLM[name] = p
		if group == nil {
			group = resilience.NewLLMFallback(p, name, resilience.FallbackConfig{})
		} else {
			group.AddFallback(name, p)
		}
	}
	if group == nil {
		return errors.New("llm auto mode: no backend could be constructed")
	}
	ps.LLM["auto"] = group
	return nil
}

func buildHotwords(cfg *config.Config) (*hotword.Registry, error) {
	if cfg.Hotwords.Path == "" {
		return hotword.Empty(), nil
	}
	var opts []hotword.Option
	if cfg.Hotwords.MaxRenderChars > 0 {
		opts = append(opts, hotword.WithMaxRenderChars(cfg.Hotwords.MaxRenderChars))
	}
	reg, err := hotword.New(cfg.Hotwords.Path, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.Hotwords.AutoReload {
		reg.StartAutoReload(30 * time.Second)
	}
	slog.Info("hotwords loaded", "path", cfg.Hotwords.Path, "total", len(reg.Words()))
	return reg, nil
}

// ── Application assembly ──────────────────────────────────────────────────────

// newApplication wires the HTTP server over the provider set: one pipeline
// controller per (asr, llm) selection, plus the archive, voiceprint, hotword,
// and health collaborators.
func newApplication(ctx context.Context, cfg *config.Config, ps *providerSet, hotwords *hotword.Registry) (*server.Server, error) {
	pre := audio.NewPreprocessor(cfg.Audio.FFmpegPath, cfg.Audio.SampleRate)
	if !pre.FFmpegAvailable() {
		slog.Warn("ffmpeg not found; only PCM WAV inputs will be accepted", "ffmpeg", cfg.Audio.FFmpegPath)
	}

	// Archive and voiceprint storage need a vector backend.
	var (
		archiveSvc *archive.Service
		vpStore    *voiceprint.Store
	)
	if ps.Vector != nil {
		if ps.Embeddings != nil {
			archiveSvc = archive.New(ps.Embeddings, ps.Vector, cfg.Archive.Collection, cfg.Archive.EmbeddingDimensions,
				archive.WithChunking(cfg.Archive.ChunkMinChars, cfg.Archive.ChunkMaxChars, cfg.Archive.ChunkOverlapChars))
			if err := archiveSvc.Init(ctx); err != nil {
				return nil, fmt.Errorf("init archive collection: %w", err)
			}
		}
		vpStore = voiceprint.NewStore(ps.Vector, cfg.Voiceprint.Collection)
		if err := vpStore.Init(ctx); err != nil {
			return nil, fmt.Errorf("init voiceprint collection: %w", err)
		}
	}

	resolver := func(asrModel, llmModel string) (*pipeline.Controller, error) {
		asrP, ok := ps.ASR[asrModel]
		if !ok {
			return nil, meeting.Faultf(meeting.KindBadInput, "unknown asr model %q", asrModel)
		}
		llmP, ok := ps.LLM[llmModel]
		if !ok {
			return nil, meeting.Faultf(meeting.KindBadInput, "unknown llm model %q", llmModel)
		}

		engine := asr.New(asrP, pre,
			asr.WithMaxDuration(time.Duration(cfg.ASR.MaxDurationSeconds)*time.Second),
			asr.WithTimeout(time.Duration(cfg.ASR.TimeoutSeconds)*time.Second),
			asr.WithHotwords(hotwords),
		)

		var matcher *voiceprint.Matcher
		if vpStore != nil {
			if enc := encoderOf(asrP); enc != nil {
				matcher = voiceprint.NewMatcher(vpStore, enc, pre,
					voiceprint.WithThreshold(cfg.Voiceprint.SimilarityThreshold))
			}
		}

		var hist *history.Loader
		if ps.Vector != nil && ps.Embeddings != nil {
			hist = history.New(llmP, ps.Embeddings, ps.Vector, cfg.Archive.Collection,
				history.WithTopK(cfg.History.TopK),
				history.WithMinSimilarity(cfg.History.MinSimilarity))
		}

		gen := minutes.New(llmP,
			minutes.WithTimeout(time.Duration(cfg.Minutes.TimeoutSeconds)*time.Second),
			minutes.WithMaxAttempts(cfg.Minutes.MaxAttempts))

		return pipeline.New(engine, pre, matcher, hist, gen, llmP,
			pipeline.WithMaxWorkers(cfg.Pipeline.MaxWorkers),
			pipeline.WithKeepTemp(cfg.Audio.KeepTemp),
			pipeline.WithSoftDeadline(time.Duration(cfg.Pipeline.SoftDeadlineSeconds)*time.Second),
		), nil
	}

	var voices *server.VoiceRegistrar
	if vpStore != nil {
		if enc := encoderOf(ps.ASR["auto"]); enc != nil {
			voices = server.NewVoiceRegistrar(vpStore, enc, pre)
		}
	}

	mode := cfg.Providers.ASR.Name + "+" + cfg.Providers.LLM.Name
	return server.New(server.Config{
		Pipelines: resolver,
		Archive:   archiveSvc,
		Voices:    voices,
		Hotwords:  hotwords,
		Health:    health.New(mode, healthCheckers(ps)...),
	}), nil
}

// encoderOf extracts the speaker-embedding capability of an ASR provider.
// Fallback groups pin one backend so stored voiceprints stay comparable.
func encoderOf(p asrprov.Provider) asrprov.SpeakerEncoder {
	switch v := p.(type) {
	case nil:
		return nil
	case *resilience.ASRFallback:
		return v.SpeakerEncoder()
	default:
		if enc, ok := p.(asrprov.SpeakerEncoder); ok {
			return enc
		}
		return nil
	}
}

// healthCheckers builds one probe per configured provider slot. LLM and
// embedding backends expose no liveness API, so their checks only confirm
// the slot is wired.
func healthCheckers(ps *providerSet) []health.Checker {
	var checkers []health.Checker
	if p, ok := ps.ASR["auto"]; ok {
		checkers = append(checkers, health.Checker{Name: "asr", Check: p.Ready})
	}
	if _, ok := ps.LLM["auto"]; ok {
		checkers = append(checkers, health.Checker{Name: "llm", Check: func(context.Context) error {
			return nil
		}})
	}
	if ps.Embeddings != nil {
		checkers = append(checkers, health.Checker{Name: "embedding", Check: func(context.Context) error {
			return nil
		}})
	}
	if ps.Vector != nil {
		checkers = append(checkers, health.Checker{Name: "vector", Check: ps.Vector.Ready})
	}
	return checkers
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         minuted startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("ASR", cfg.Providers.ASR.Name, cfg.Providers.ASR.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printProvider("Vector", cfg.Providers.Vector.Name, "")
	if cfg.Hotwords.Path != "" {
		fmt.Printf("║  Hotwords        : %-19s ║\n", "enabled")
	} else {
		fmt.Printf("║  Hotwords        : %-19s ║\n", "(disabled)")
	}
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
