// Package config provides configuration loading for go-localvoice commands.
//
// Values are resolved in order: built-in defaults, an optional YAML file,
// a .env file in the working directory, then environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "llama3.2"
	DefaultCoquiURL    = "http://localhost:5002"
	DefaultTTSModel    = "tts_models/en/vctk/vits"
	DefaultSpeakerID   = "p225"
	DefaultTTSRate     = 22050
	DefaultServerPort  = "5005"
	DefaultRoomName    = "voice-agent-test"
)

// Config is the root application configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`

	STT    STT    `yaml:"stt"`
	LLM    LLM    `yaml:"llm"`
	TTS    TTS    `yaml:"tts"`
	Audio  Audio  `yaml:"audio"`
	Server Server `yaml:"server"`
	RTC    RTC    `yaml:"rtc"`
	Store  Store  `yaml:"store"`
}

// STT configures the speech recognizer.
type STT struct {
	ModelSize   string `yaml:"model_size"`
	ModelDir    string `yaml:"model_dir"`
	Device      string `yaml:"device"`
	ComputeType string `yaml:"compute_type"`
	ServerBin   string `yaml:"server_bin"`
	ServerURL   string `yaml:"server_url"` // use a running whisper-server
	Language    string `yaml:"language"`
	BeamSize    int    `yaml:"beam_size"`
}

// LLM configures the Ollama chat backend.
type LLM struct {
	BaseURL      string  `yaml:"base_url"`
	Model        string  `yaml:"model"`
	Temperature  float64 `yaml:"temperature"`
	TopP         float64 `yaml:"top_p"`
	MaxTokens    int     `yaml:"max_tokens"`
	SystemPrompt string  `yaml:"system_prompt"` // empty uses the assistant persona
	Mock         bool    `yaml:"mock"`
}

// TTS configures the speech synthesizer.
type TTS struct {
	Backend    string        `yaml:"backend"` // coqui, piper, mock
	BaseURL    string        `yaml:"base_url"`
	ModelName  string        `yaml:"model_name"`
	SpeakerID  string        `yaml:"speaker_id"`
	SampleRate int           `yaml:"sample_rate"`
	PiperBin   string        `yaml:"piper_bin"`
	PiperModel string        `yaml:"piper_model"`
	FrameSize  int           `yaml:"frame_size"`
	Pacing     time.Duration `yaml:"pacing"`
}

// Audio configures capture and playback.
type Audio struct {
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	Player     string `yaml:"player"`
}

// Server configures the HTTP dashboard.
type Server struct {
	Port      string `yaml:"port"`
	StaticDir string `yaml:"static_dir"`
}

// RTC configures the WebRTC agent.
type RTC struct {
	Enabled    bool     `yaml:"enabled"`
	Room       string   `yaml:"room"`
	ICEServers []string `yaml:"ice_servers"`
}

// Store configures timeline persistence.
type Store struct {
	Path string `yaml:"path"` // empty disables persistence
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		STT: STT{
			ModelSize:   "small",
			ModelDir:    "models",
			Device:      "auto",
			ComputeType: "float16",
			ServerBin:   "whisper-server",
			Language:    "en",
			BeamSize:    5,
		},
		LLM: LLM{
			BaseURL:     DefaultOllamaURL,
			Model:       DefaultOllamaModel,
			Temperature: 0.7,
			TopP:        0.9,
			MaxTokens:   1000,
		},
		TTS: TTS{
			Backend:    "coqui",
			BaseURL:    DefaultCoquiURL,
			ModelName:  DefaultTTSModel,
			SpeakerID:  DefaultSpeakerID,
			SampleRate: DefaultTTSRate,
			PiperBin:   "piper",
			FrameSize:  1024,
			Pacing:     10 * time.Millisecond,
		},
		Audio: Audio{
			SampleRate: 16000,
			Channels:   1,
			Player:     "ffplay",
		},
		Server: Server{
			Port: DefaultServerPort,
		},
		RTC: RTC{
			Enabled:    true,
			Room:       DefaultRoomName,
			ICEServers: []string{"stun:stun.l.google.com:19302"},
		},
	}
}

// Load resolves configuration from path (optional), .env and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("config: load .env: %w", err)
	}

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)

	c.STT.ModelSize = envOr("LOCALVOICE_STT_MODEL", c.STT.ModelSize)
	c.STT.ModelDir = envOr("LOCALVOICE_STT_MODEL_DIR", c.STT.ModelDir)
	c.STT.Device = envOr("LOCALVOICE_STT_DEVICE", c.STT.Device)
	c.STT.ServerBin = envOr("LOCALVOICE_WHISPER_BIN", c.STT.ServerBin)
	c.STT.ServerURL = envOr("LOCALVOICE_WHISPER_URL", c.STT.ServerURL)

	c.LLM.BaseURL = envOr("OLLAMA_HOST", c.LLM.BaseURL)
	c.LLM.Model = envOr("LOCALVOICE_LLM_MODEL", c.LLM.Model)
	c.LLM.Mock = envBool("LOCALVOICE_LLM_MOCK", c.LLM.Mock)

	c.TTS.Backend = envOr("LOCALVOICE_TTS_BACKEND", c.TTS.Backend)
	c.TTS.BaseURL = envOr("LOCALVOICE_TTS_URL", c.TTS.BaseURL)
	c.TTS.SpeakerID = envOr("LOCALVOICE_TTS_SPEAKER", c.TTS.SpeakerID)
	c.TTS.PiperModel = envOr("LOCALVOICE_PIPER_MODEL", c.TTS.PiperModel)
	c.TTS.SampleRate = envInt("LOCALVOICE_TTS_SAMPLE_RATE", c.TTS.SampleRate)

	c.Server.Port = envOr("PORT", c.Server.Port)
	c.Store.Path = envOr("LOCALVOICE_STORE", c.Store.Path)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.STT.Device {
	case "auto", "cpu", "gpu", "cuda":
	default:
		return fmt.Errorf("config: unknown stt device %q", c.STT.Device)
	}
	switch c.TTS.Backend {
	case "coqui", "piper", "mock":
	default:
		return fmt.Errorf("config: unknown tts backend %q", c.TTS.Backend)
	}
	if c.TTS.Backend == "piper" && c.TTS.PiperModel == "" {
		return errors.New("config: piper backend requires tts.piper_model")
	}
	if c.TTS.FrameSize <= 0 {
		return errors.New("config: tts.frame_size must be positive")
	}
	if c.Audio.SampleRate <= 0 || c.Audio.Channels <= 0 {
		return errors.New("config: audio sample rate and channels must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
