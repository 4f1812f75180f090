// Package config provides the configuration schema and loader for the
// transcriptd server.
package config

// LogLevel controls log verbosity for the transcriptd server.
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

// Variant selects a model precision mode for a local engine.
type Variant string

const (
	VariantFloat16 Variant = "float16"
	VariantInt8    Variant = "int8"
)

// IsValid reports whether v is a recognised variant.
func (v Variant) IsValid() bool {
	return v == VariantFloat16 || v == VariantInt8
}

// Config is the root configuration structure for transcriptd.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Limits  LimitsConfig  `yaml:"limits"`
	Engines EnginesConfig `yaml:"engines"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds network and logging settings for the transcriptd server.
type ServerConfig struct {
	// Host is the interface the server binds to (e.g., "0.0.0.0").
	Host string `yaml:"host"`

	// Port is the TCP port the server listens on.
	Port int `yaml:"port"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownGraceSeconds is how long in-flight requests are given to
	// finish during graceful shutdown before being cancelled.
	ShutdownGraceSeconds int `yaml:"shutdown_grace_seconds"`

	// CORSOrigins lists origins allowed in CORS preflight responses.
	// An entry of "*" allows any origin.
	CORSOrigins []string `yaml:"cors_origins"`
}

// Addr returns the host:port listen address for the server.
func (s ServerConfig) Addr() string {
	host := s.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := s.Port
	if port == 0 {
		port = 8000
	}
	return hostPort(host, port)
}

// DefaultMaxFileSizeMB is the upload size cap applied when the configuration
// does not set one.
const DefaultMaxFileSizeMB = 25

// LimitsConfig bounds request size and processing time.
type LimitsConfig struct {
	// MaxFileSizeMB caps the size of an uploaded audio file in megabytes.
	// Zero falls back to [DefaultMaxFileSizeMB].
	MaxFileSizeMB int `yaml:"max_file_size_mb"`

	// RequestTimeoutSeconds bounds a full transcription request from upload
	// to response. Zero means no deadline.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`

	// TempDir overrides the directory used for intermediate audio files.
	// Empty means the system default temp directory.
	TempDir string `yaml:"temp_dir"`
}

// EnginesConfig declares the available transcription engines. An engine with
// an empty config block is not registered.
type EnginesConfig struct {
	LocalFull      LocalEngineConfig  `yaml:"local_full"`
	LocalOptimized LocalEngineConfig  `yaml:"local_optimized"`
	Remote         RemoteEngineConfig `yaml:"remote"`
}

// LocalEngineConfig configures an on-host whisper.cpp engine.
type LocalEngineConfig struct {
	// ModelPath is the path to the ggml model weights file.
	// An empty path disables this engine.
	ModelPath string `yaml:"model_path"`

	// Variant selects the model precision. Empty means float16.
	Variant Variant `yaml:"variant"`

	// Language is the default transcription language hint (ISO 639-1).
	// Empty means auto-detect.
	Language string `yaml:"language"`

	// Threads is the number of inference threads. Zero means one per CPU.
	Threads int `yaml:"threads"`
}

// RemoteEngineConfig configures the hosted transcription API engine.
type RemoteEngineConfig struct {
	// APIKey authenticates against the remote API. An empty key disables
	// this engine unless provided via environment.
	APIKey string `yaml:"api_key"`

	// Model is the remote model identifier (e.g., "whisper-large-v3").
	Model string `yaml:"model"`

	// BaseURL overrides the remote API endpoint. Empty means the
	// provider's default.
	BaseURL string `yaml:"base_url"`

	// Language is the default transcription language hint (ISO 639-1).
	Language string `yaml:"language"`

	// TimeoutSeconds bounds a single remote API call. Zero means 60.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled exposes GET /metrics when true.
	Enabled bool `yaml:"enabled"`
}
