package tts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teslashibe/go-localvoice/internal/httpc"
	"github.com/teslashibe/go-localvoice/pkg/audioio"
)

const providerCoqui = "coqui"

// Coqui defaults.
const (
	CoquiDefaultURL        = "http://localhost:5002"
	CoquiDefaultModel      = "tts_models/en/vctk/vits"
	CoquiDefaultSpeaker    = "p225"
	CoquiDefaultSampleRate = 22050
)

// CoquiConfig configures a Coqui tts-server voice.
type CoquiConfig struct {
	BaseURL    string
	Model      string // informational; the server decides which model it runs
	SpeakerID  string
	LanguageID string
	SampleRate int // expected rate, used when the reply omits it
	Timeout    time.Duration
	Logger     *slog.Logger
}

// CoquiOption configures a Coqui voice.
type CoquiOption func(*CoquiConfig)

// WithCoquiURL sets the tts-server base URL.
func WithCoquiURL(u string) CoquiOption {
	return func(c *CoquiConfig) { c.BaseURL = u }
}

// WithCoquiSpeaker sets the multi-speaker voice ID.
func WithCoquiSpeaker(id string) CoquiOption {
	return func(c *CoquiConfig) { c.SpeakerID = id }
}

// WithCoquiModel records the model name the server was started with.
func WithCoquiModel(name string) CoquiOption {
	return func(c *CoquiConfig) { c.Model = name }
}

// WithCoquiLanguage sets the language ID for multilingual models.
func WithCoquiLanguage(id string) CoquiOption {
	return func(c *CoquiConfig) { c.LanguageID = id }
}

// WithCoquiSampleRate sets the expected output rate.
func WithCoquiSampleRate(rate int) CoquiOption {
	return func(c *CoquiConfig) { c.SampleRate = rate }
}

// WithCoquiLogger sets the structured logger.
func WithCoquiLogger(l *slog.Logger) CoquiOption {
	return func(c *CoquiConfig) { c.Logger = l }
}

// Coqui renders speech with a running Coqui TTS server.
type Coqui struct {
	cfg    CoquiConfig
	client *http.Client
	logger *slog.Logger
}

// NewCoqui creates a Coqui voice.
func NewCoqui(opts ...CoquiOption) *Coqui {
	cfg := CoquiConfig{
		BaseURL:    CoquiDefaultURL,
		Model:      CoquiDefaultModel,
		SpeakerID:  CoquiDefaultSpeaker,
		SampleRate: CoquiDefaultSampleRate,
		Timeout:    2 * time.Minute,
		Logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Coqui{
		cfg:    cfg,
		client: httpc.NewClient(cfg.Timeout),
		logger: cfg.Logger.With("component", "tts.coqui", "speaker", cfg.SpeakerID),
	}
}

// Name returns "coqui".
func (c *Coqui) Name() string {
	return providerCoqui
}

// Load checks that the server answers.
func (c *Coqui) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/", nil)
	if err != nil {
		return WrapError(providerCoqui, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return WrapError(providerCoqui, fmt.Errorf("%w: %v", ErrBackendUnavailable, err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: "server not ready", Provider: providerCoqui}
	}
	c.logger.Info("coqui server ready", "url", c.cfg.BaseURL, "model", c.cfg.Model)
	return nil
}

// Render requests /api/tts and decodes the WAV reply.
func (c *Coqui) Render(ctx context.Context, text string) ([]float32, int, error) {
	q := url.Values{}
	q.Set("text", text)
	q.Set("speaker_id", c.cfg.SpeakerID)
	q.Set("style_wav", "")
	q.Set("language_id", c.cfg.LanguageID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/tts?"+q.Encode(), nil)
	if err != nil {
		return nil, 0, WrapError(providerCoqui, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, WrapError(providerCoqui, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, WrapError(providerCoqui, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
			Provider:   providerCoqui,
		}
	}

	clip, err := audioio.ClipFromWAVBytes(data)
	if err != nil {
		return nil, 0, WrapError(providerCoqui, err)
	}
	clip = clip.Mono()
	rate := clip.SampleRate
	if rate == 0 {
		rate = c.cfg.SampleRate
	}
	return clip.Samples, rate, nil
}

// Close releases idle connections.
func (c *Coqui) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

var _ Voice = (*Coqui)(nil)
