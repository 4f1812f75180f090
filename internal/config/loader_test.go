package config

import (
	"strings"
	"testing"
)

const validYAML = `
server:
  host: 127.0.0.1
  port: 9000
  log_level: debug
  shutdown_grace_seconds: 10
limits:
  max_file_size_mb: 50
  request_timeout_seconds: 300
engines:
  local_full:
    model_path: /models/ggml-base.bin
    variant: float16
    language: en
    threads: 4
  local_optimized:
    model_path: /models/ggml-base-q8.bin
    variant: int8
  remote:
    api_key: sk-test
    model: whisper-large-v3
metrics:
  enabled: true
`

func TestLoadFromReaderValid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("server.host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("server.port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("server.log_level = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Engines.LocalOptimized.Variant != VariantInt8 {
		t.Errorf("local_optimized.variant = %q, want int8", cfg.Engines.LocalOptimized.Variant)
	}
	if !cfg.Metrics.Enabled {
		t.Error("metrics.enabled = false, want true")
	}
}

func TestLoadFromReaderUnknownField(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server:\n  hsot: bad\n"))
	if err == nil {
		t.Fatal("LoadFromReader accepted unknown field, want error")
	}
}

func TestLoadFromReaderEmpty(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader on empty input: %v", err)
	}
	if got := cfg.Server.Addr(); got != "0.0.0.0:8000" {
		t.Errorf("default Addr() = %q, want %q", got, "0.0.0.0:8000")
	}
	if cfg.Limits.MaxFileSizeMB != DefaultMaxFileSizeMB {
		t.Errorf("default max_file_size_mb = %d, want %d", cfg.Limits.MaxFileSizeMB, DefaultMaxFileSizeMB)
	}
}

func TestLoadFromReaderKeepsConfiguredSizeCap(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("limits:\n  max_file_size_mb: 50\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Limits.MaxFileSizeMB != 50 {
		t.Errorf("max_file_size_mb = %d, want 50", cfg.Limits.MaxFileSizeMB)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad log level",
			yaml: "server:\n  log_level: loud\n",
			want: "log_level",
		},
		{
			name: "port out of range",
			yaml: "server:\n  port: 70000\n",
			want: "port",
		},
		{
			name: "negative file size",
			yaml: "limits:\n  max_file_size_mb: -1\n",
			want: "max_file_size_mb",
		},
		{
			name: "bad variant",
			yaml: "engines:\n  local_full:\n    model_path: /m.bin\n    variant: float64\n",
			want: "variant",
		},
		{
			name: "remote key without model",
			yaml: "engines:\n  remote:\n    api_key: sk-test\n",
			want: "engines.remote.model",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("LoadFromReader succeeded, want validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateJoinsMultipleErrors(t *testing.T) {
	yaml := "server:\n  log_level: loud\n  port: -1\n"
	_, err := LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("LoadFromReader succeeded, want validation errors")
	}
	for _, want := range []string{"log_level", "port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error %q missing %q", err, want)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("HOST", "10.0.0.5")
	t.Setenv("PORT", "8123")
	t.Setenv("MAX_FILE_SIZE_MB", "40")
	t.Setenv("MODEL_PATH", "/env/model.bin")
	t.Setenv("GROQ_API_KEY", "sk-env")

	cfg := &Config{}
	cfg.Engines.LocalOptimized.ModelPath = "/file/quantized.bin"
	applyEnv(cfg)

	if cfg.Server.Host != "10.0.0.5" {
		t.Errorf("host = %q, want %q", cfg.Server.Host, "10.0.0.5")
	}
	if cfg.Server.Port != 8123 {
		t.Errorf("port = %d, want 8123", cfg.Server.Port)
	}
	if cfg.Limits.MaxFileSizeMB != 40 {
		t.Errorf("max_file_size_mb = %d, want 40", cfg.Limits.MaxFileSizeMB)
	}
	if cfg.Engines.LocalFull.ModelPath != "/env/model.bin" {
		t.Errorf("local_full.model_path = %q, want env value", cfg.Engines.LocalFull.ModelPath)
	}
	// File-provided optimized path is not overwritten by MODEL_PATH.
	if cfg.Engines.LocalOptimized.ModelPath != "/file/quantized.bin" {
		t.Errorf("local_optimized.model_path = %q, want file value kept", cfg.Engines.LocalOptimized.ModelPath)
	}
	if cfg.Engines.Remote.APIKey != "sk-env" {
		t.Errorf("remote.api_key = %q, want env value", cfg.Engines.Remote.APIKey)
	}
}

func TestApplyEnvIgnoresBadPort(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	cfg := &Config{}
	cfg.Server.Port = 9000
	applyEnv(cfg)
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000 unchanged", cfg.Server.Port)
	}
}
