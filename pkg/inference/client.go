package inference

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/teslashibe/go-localvoice/internal/httpc"
)

const providerOllama = "ollama"

// maxLineSize bounds a single NDJSON line.
const maxLineSize = 1 << 20

// Client streams chat replies from an Ollama server.
type Client struct {
	config  Config
	baseURL string
	stream  *http.Client
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates an Ollama client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		config:  cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		stream:  httpc.NewStreamingClient(),
		http:    httpc.NewClient(cfg.Timeout),
		logger:  cfg.Logger.With("component", "inference.ollama", "model", cfg.Model),
	}, nil
}

// Model returns the configured model tag.
func (c *Client) Model() string {
	return c.config.Model
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
}

type chatRequest struct {
	Model    string      `json:"model"`
	Messages []Message   `json:"messages"`
	Stream   bool        `json:"stream"`
	Options  chatOptions `json:"options"`
}

type chatChunk struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// Chat streams the model's reply to chat. The conversation is snapshotted
// when Chat is called; later appends do not affect this request.
func (c *Client) Chat(ctx context.Context, chat *ChatContext) Stream {
	req := chatRequest{
		Model:    c.config.Model,
		Messages: chat.Messages(),
		Stream:   true,
		Options: chatOptions{
			Temperature: c.config.Temperature,
			TopP:        c.config.TopP,
			MaxTokens:   c.config.MaxTokens,
		},
	}
	return produce(ctx, c.config.StreamBuffer, func(s *chanStream) {
		c.run(s, req)
	})
}

func (c *Client) run(s *chanStream, payload chatRequest) {
	start := time.Now()

	body, err := sonic.Marshal(payload)
	if err != nil {
		c.logger.Error("marshal chat request", "error", err)
		s.fail(WrapError(providerOllama, err), ApologyProcessing)
		return
	}

	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		c.logger.Error("create chat request", "error", err)
		s.fail(WrapError(providerOllama, err), ApologyConnection)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.stream.Do(req)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		c.logger.Error("llm request failed", "error", err)
		s.fail(WrapError(providerOllama, err), ApologyConnection)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(text)),
			Provider:   providerOllama,
		}
		c.logger.Error("llm API error", "status", resp.StatusCode, "body", apiErr.Message)
		s.fail(apiErr, ApologyProcessing)
		return
	}

	fragments := 0
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk chatChunk
		if err := sonic.Unmarshal(line, &chunk); err != nil {
			c.logger.Debug("skipping malformed line", "error", err)
			continue
		}
		if chunk.Error != "" {
			c.logger.Warn("llm stream error line", "error", chunk.Error)
			continue
		}
		if chunk.Message.Content != "" {
			if !s.send(chunk.Message.Content) {
				return
			}
			fragments++
		}
		if chunk.Done {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		if s.ctx.Err() != nil {
			return
		}
		c.logger.Error("llm stream read failed", "error", err, "fragments", fragments)
		s.fail(WrapError(providerOllama, err), ApologyConnection)
		return
	}

	c.logger.Debug("llm reply complete",
		"fragments", fragments,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// Models lists the model tags available on the server.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, WrapError(providerOllama, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, WrapError(providerOllama, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerOllama, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
			Provider:   providerOllama,
		}
	}

	var tags tagsResponse
	if err := sonic.Unmarshal(data, &tags); err != nil {
		return nil, WrapError(providerOllama, fmt.Errorf("decode tags: %w", err))
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Health checks that the server is up and has the configured model.
func (c *Client) Health(ctx context.Context) error {
	models, err := c.Models(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		if m == c.config.Model || strings.TrimSuffix(m, ":latest") == c.config.Model {
			return nil
		}
	}
	return WrapError(providerOllama, fmt.Errorf("%w: %s", ErrModelNotFound, c.config.Model))
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.stream.CloseIdleConnections()
	c.http.CloseIdleConnections()
	return nil
}

var _ Provider = (*Client)(nil)
