package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, applies environment
// variable overrides, and returns a validated [Config]. A missing file is not
// an error: the configuration then comes entirely from defaults and the
// environment, matching container deployments that configure via env only.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		cfg, err = decode(f)
		if err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	case os.IsNotExist(err):
		slog.Info("config file not found, using defaults and environment", "path", path)
	default:
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Environment overrides are not applied; useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays well-known environment variables onto cfg. Environment
// values take precedence over the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		} else {
			slog.Warn("ignoring non-numeric PORT environment variable", "value", v)
		}
	}
	if v := os.Getenv("MAX_FILE_SIZE_MB"); v != "" {
		if mb, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxFileSizeMB = mb
		} else {
			slog.Warn("ignoring non-numeric MAX_FILE_SIZE_MB environment variable", "value", v)
		}
	}
	if v := os.Getenv("MODEL_PATH"); v != "" {
		cfg.Engines.LocalFull.ModelPath = v
		if cfg.Engines.LocalOptimized.ModelPath == "" {
			cfg.Engines.LocalOptimized.ModelPath = v
		}
	}
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		cfg.Engines.Remote.APIKey = v
	}
}

// applyDefaults fills in values the file and environment left unset.
func applyDefaults(cfg *Config) {
	if cfg.Limits.MaxFileSizeMB == 0 {
		cfg.Limits.MaxFileSizeMB = DefaultMaxFileSizeMB
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [0, 65535]", cfg.Server.Port))
	}
	if cfg.Server.ShutdownGraceSeconds < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_grace_seconds %d must not be negative", cfg.Server.ShutdownGraceSeconds))
	}

	if cfg.Limits.MaxFileSizeMB < 0 {
		errs = append(errs, fmt.Errorf("limits.max_file_size_mb %d must not be negative", cfg.Limits.MaxFileSizeMB))
	}
	if cfg.Limits.RequestTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("limits.request_timeout_seconds %d must not be negative", cfg.Limits.RequestTimeoutSeconds))
	}

	for _, e := range []struct {
		name string
		cfg  LocalEngineConfig
	}{
		{"engines.local_full", cfg.Engines.LocalFull},
		{"engines.local_optimized", cfg.Engines.LocalOptimized},
	} {
		if e.cfg.Variant != "" && !e.cfg.Variant.IsValid() {
			errs = append(errs, fmt.Errorf("%s.variant %q is invalid; valid values: float16, int8", e.name, e.cfg.Variant))
		}
		if e.cfg.Threads < 0 {
			errs = append(errs, fmt.Errorf("%s.threads %d must not be negative", e.name, e.cfg.Threads))
		}
	}

	if cfg.Engines.Remote.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("engines.remote.timeout_seconds %d must not be negative", cfg.Engines.Remote.TimeoutSeconds))
	}
	if cfg.Engines.Remote.APIKey != "" && cfg.Engines.Remote.Model == "" {
		errs = append(errs, errors.New("engines.remote.model is required when engines.remote.api_key is set"))
	}

	// Availability warnings — a server with no engines still starts, so the
	// models endpoint stays serviceable, but no transcription will succeed.
	if cfg.Engines.LocalFull.ModelPath == "" &&
		cfg.Engines.LocalOptimized.ModelPath == "" &&
		cfg.Engines.Remote.APIKey == "" {
		slog.Warn("no engine configured; all transcription requests will fail")
	}

	return errors.Join(errs...)
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
