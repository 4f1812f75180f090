// Command transcriptd is the HTTP audio transcription server.
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

	"github.com/audiolith/transcriptd/internal/config"
	"github.com/audiolith/transcriptd/internal/health"
	"github.com/audiolith/transcriptd/internal/normalize"
	"github.com/audiolith/transcriptd/internal/observe"
	"github.com/audiolith/transcriptd/internal/orchestrator"
	"github.com/audiolith/transcriptd/internal/registry"
	"github.com/audiolith/transcriptd/internal/server"
	"github.com/audiolith/transcriptd/pkg/engine"
	"github.com/audiolith/transcriptd/pkg/engine/remote"
	"github.com/audiolith/transcriptd/pkg/engine/whispercpp"
)

const defaultShutdownGrace = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	// A .env file is a development convenience; absence is normal.
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded environment from .env")
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "transcriptd: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("transcriptd starting",
		"config", *configPath,
		"addr", cfg.Server.Addr(),
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: server.Version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	conv := normalize.NewFFmpeg()
	if err := conv.Available(); err != nil {
		slog.Warn("media tool not found; transcription requests will fail", "err", err)
	}

	// config.Load fills in the default cap; the guard only covers a
	// hand-constructed Config.
	maxMB := cfg.Limits.MaxFileSizeMB
	if maxMB <= 0 {
		maxMB = config.DefaultMaxFileSizeMB
	}
	maxBytes := int64(maxMB) << 20

	var normOpts []normalize.Option
	if cfg.Limits.TempDir != "" {
		normOpts = append(normOpts, normalize.WithTempDir(cfg.Limits.TempDir))
	}
	norm := normalize.New(conv, maxBytes, normOpts...)

	reg, defaultEngine := buildRegistry(cfg)
	printStartupSummary(cfg, reg)

	var orchOpts []orchestrator.Option
	if cfg.Limits.RequestTimeoutSeconds > 0 {
		orchOpts = append(orchOpts, orchestrator.WithTimeout(time.Duration(cfg.Limits.RequestTimeoutSeconds)*time.Second))
	}
	orch := orchestrator.New(norm, reg, orchOpts...)

	healthHandler := health.New(
		health.Checker{Name: "ffmpeg", Check: func(context.Context) error {
			return conv.Available()
		}},
		health.Checker{Name: "engines", Check: func(ctx context.Context) error {
			if len(reg.Models()) == 0 {
				return errors.New("no transcription engine configured")
			}
			for id, eng := range reg.Live() {
				if !eng.Healthy(ctx) {
					return fmt.Errorf("engine %s reports unhealthy", id)
				}
			}
			return nil
		}},
	)

	srv := server.New(server.Config{
		Orchestrator:   orch,
		Registry:       reg,
		Health:         healthHandler,
		MaxUploadBytes: maxBytes,
		DefaultEngine:  defaultEngine,
		CORSOrigins:    cfg.Server.CORSOrigins,
		MetricsEnabled: cfg.Metrics.Enabled,
		Shutdown:       stop,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.ListenAndServe()
	}()

	slog.Info("server ready", "addr", cfg.Server.Addr())

	select {
	case err := <-serveErr:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	grace := defaultShutdownGrace
	if cfg.Server.ShutdownGraceSeconds > 0 {
		grace = time.Duration(cfg.Server.ShutdownGraceSeconds) * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	slog.Info("shutting down", "grace", grace)

	code := 0
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "err", err)
		code = 1
	}
	if err := reg.UnloadAll(shutdownCtx); err != nil {
		slog.Warn("engine unload incomplete", "err", err)
		code = 1
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown incomplete", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// buildRegistry assembles the engine table from configuration. Only engines
// with the credentials or model files they need are registered; the default
// engine is the first one registered.
func buildRegistry(cfg *config.Config) (*registry.Registry, string) {
	var entries []registry.Entry

	if c := cfg.Engines.LocalFull; c.ModelPath != "" {
		entries = append(entries, registry.Entry{
			ID:          "local-full",
			Description: "in-process whisper.cpp, full decode",
			Format:      engine.FormatWAV,
			Load: func(context.Context) (engine.Engine, error) {
				return whispercpp.NewFull(whispercpp.FullConfig{
					ModelPath: c.ModelPath,
					Variant:   variantName(c.Variant),
					Language:  c.Language,
					Threads:   c.Threads,
				})
			},
		})
	}

	if c := cfg.Engines.LocalOptimized; c.ModelPath != "" {
		entries = append(entries, registry.Entry{
			ID:          "local-optimized",
			Description: "in-process whisper.cpp with silence skipping",
			Format:      engine.FormatWAV,
			Load: func(context.Context) (engine.Engine, error) {
				return whispercpp.NewOptimized(whispercpp.OptimizedConfig{
					ModelPath: c.ModelPath,
					Variant:   variantName(c.Variant),
					Language:  c.Language,
					Threads:   c.Threads,
				})
			},
		})
	}

	if c := cfg.Engines.Remote; c.APIKey != "" {
		entries = append(entries, registry.Entry{
			ID:          "remote-api",
			Description: "hosted transcription API",
			Format:      engine.FormatFLAC,
			Load: func(context.Context) (engine.Engine, error) {
				var opts []remote.Option
				if c.BaseURL != "" {
					opts = append(opts, remote.WithBaseURL(c.BaseURL))
				}
				if c.Language != "" {
					opts = append(opts, remote.WithLanguage(c.Language))
				}
				if c.TimeoutSeconds > 0 {
					opts = append(opts, remote.WithTimeout(time.Duration(c.TimeoutSeconds)*time.Second))
				}
				eng, err := remote.New(c.APIKey, c.Model, opts...)
				if err != nil {
					return nil, err
				}
				return eng, nil
			},
		})
	}

	reg := registry.New(entries...)
	defaultEngine := ""
	if len(entries) > 0 {
		defaultEngine = entries[0].ID
	}
	return reg, defaultEngine
}

// variantName maps the configured precision onto the variant label reported
// in results. An unset variant reports as float16.
func variantName(v config.Variant) string {
	if v == "" {
		return string(config.VariantFloat16)
	}
	return string(v)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, reg *registry.Registry) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       transcriptd — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	for _, m := range reg.Models() {
		fmt.Printf("║  engine          : %-19s║\n", m.ID)
	}
	if len(reg.Models()) == 0 {
		fmt.Printf("║  engine          : %-19s║\n", "(none)")
	}
	fmt.Printf("║  listen addr     : %-19s║\n", cfg.Server.Addr())
	if cfg.Metrics.Enabled {
		fmt.Printf("║  metrics         : %-19s║\n", "/metrics")
	} else {
		fmt.Printf("║  metrics         : %-19s║\n", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

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
