package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.STT.ModelSize != "small" {
		t.Errorf("STT.ModelSize = %q, want small", cfg.STT.ModelSize)
	}
	if cfg.STT.BeamSize != 5 {
		t.Errorf("STT.BeamSize = %d, want 5", cfg.STT.BeamSize)
	}
	if cfg.LLM.BaseURL != DefaultOllamaURL {
		t.Errorf("LLM.BaseURL = %q, want %q", cfg.LLM.BaseURL, DefaultOllamaURL)
	}
	if cfg.TTS.SpeakerID != "p225" || cfg.TTS.SampleRate != 22050 {
		t.Errorf("TTS = %+v, want p225 @ 22050", cfg.TTS)
	}
	if cfg.TTS.FrameSize != 1024 {
		t.Errorf("TTS.FrameSize = %d, want 1024", cfg.TTS.FrameSize)
	}
	if cfg.Server.Port != "5005" {
		t.Errorf("Server.Port = %q, want 5005", cfg.Server.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "localvoice.yaml")
	data := []byte(`
log_level: debug
llm:
  model: qwen2.5
tts:
  backend: mock
  pacing: 5ms
server:
  port: "9000"
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.LLM.Model != "qwen2.5" {
		t.Errorf("LLM.Model = %q, want qwen2.5", cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != 0.7 {
		t.Errorf("LLM.Temperature = %v, default should survive partial YAML", cfg.LLM.Temperature)
	}
	if cfg.TTS.Pacing != 5*time.Millisecond {
		t.Errorf("TTS.Pacing = %v, want 5ms", cfg.TTS.Pacing)
	}
	if cfg.Server.Port != "9000" {
		t.Errorf("Server.Port = %q, want 9000", cfg.Server.Port)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "http://gpu-box:11434")
	t.Setenv("LOCALVOICE_TTS_BACKEND", "mock")
	t.Setenv("LOCALVOICE_TTS_SAMPLE_RATE", "16000")
	t.Setenv("LOCALVOICE_LLM_MOCK", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.BaseURL != "http://gpu-box:11434" {
		t.Errorf("LLM.BaseURL = %q", cfg.LLM.BaseURL)
	}
	if cfg.TTS.Backend != "mock" {
		t.Errorf("TTS.Backend = %q, want mock", cfg.TTS.Backend)
	}
	if cfg.TTS.SampleRate != 16000 {
		t.Errorf("TTS.SampleRate = %d, want 16000", cfg.TTS.SampleRate)
	}
	if !cfg.LLM.Mock {
		t.Error("LLM.Mock should be true")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"bad device", func(c *Config) { c.STT.Device = "tpu" }, true},
		{"bad backend", func(c *Config) { c.TTS.Backend = "espeak" }, true},
		{"piper without model", func(c *Config) { c.TTS.Backend = "piper" }, true},
		{"piper with model", func(c *Config) {
			c.TTS.Backend = "piper"
			c.TTS.PiperModel = "en_US-lessac-medium.onnx"
		}, false},
		{"zero frame size", func(c *Config) { c.TTS.FrameSize = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
