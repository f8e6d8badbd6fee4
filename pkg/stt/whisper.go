package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/teslashibe/go-localvoice/internal/httpc"
	"github.com/teslashibe/go-localvoice/pkg/audioio"
	"github.com/teslashibe/go-localvoice/pkg/session"
)

const whisperProvider = "whisper.cpp"

// Default whisper-server settings.
const (
	DefaultWhisperBin          = "whisper-server"
	DefaultWhisperStartTimeout = 60 * time.Second
	defaultCUDALibDir          = "/lib/x86_64-linux-gnu"
	stderrTailBytes            = 4096
)

// WhisperServer loads models by running whisper.cpp's HTTP server as a
// child process bound to a loopback port.
type WhisperServer struct {
	// Bin is the whisper-server executable.
	Bin string

	// URL points at an already running server. When set, Load does not
	// start a process and the LoadSpec only labels the placement.
	URL string

	// Threads passed to the server; 0 keeps its default.
	Threads int

	// StartTimeout bounds how long Load waits for the server to report healthy.
	StartTimeout time.Duration

	Client *http.Client
	Logger *slog.Logger
}

// WhisperOption configures a WhisperServer.
type WhisperOption func(*WhisperServer)

// WithWhisperBin sets the server executable.
func WithWhisperBin(bin string) WhisperOption {
	return func(w *WhisperServer) { w.Bin = bin }
}

// WithWhisperURL uses an external server instead of starting one.
func WithWhisperURL(url string) WhisperOption {
	return func(w *WhisperServer) { w.URL = strings.TrimRight(url, "/") }
}

// WithWhisperThreads sets the server's thread count.
func WithWhisperThreads(n int) WhisperOption {
	return func(w *WhisperServer) { w.Threads = n }
}

// WithWhisperLogger sets the structured logger.
func WithWhisperLogger(l *slog.Logger) WhisperOption {
	return func(w *WhisperServer) { w.Logger = l }
}

// NewWhisperServer creates a whisper.cpp loader.
func NewWhisperServer(opts ...WhisperOption) *WhisperServer {
	w := &WhisperServer{
		Bin:          DefaultWhisperBin,
		StartTimeout: DefaultWhisperStartTimeout,
		Client:       httpc.NewClient(5 * time.Minute),
		Logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name returns "whisper.cpp".
func (w *WhisperServer) Name() string {
	return whisperProvider
}

// ModelPath returns the ggml file for a spec. Quantized int8 weights live in
// the -q8_0 variant.
func ModelPath(spec LoadSpec) string {
	name := "ggml-" + spec.ModelSize
	switch spec.ComputeType {
	case ComputeInt8, ComputeInt8Float16:
		name += "-q8_0"
	}
	return filepath.Join(spec.ModelDir, name+".bin")
}

// ServerArgs returns the whisper-server arguments for a spec.
func ServerArgs(spec LoadSpec, modelPath, host string, port, threads int) []string {
	args := []string{
		"-m", modelPath,
		"--host", host,
		"--port", strconv.Itoa(port),
		"-bs", strconv.Itoa(DefaultBeamSize),
	}
	if spec.Language != "" {
		args = append(args, "-l", spec.Language)
	}
	if threads > 0 {
		args = append(args, "-t", strconv.Itoa(threads))
	}
	if spec.Device == session.DeviceCPU {
		args = append(args, "--no-gpu")
	}
	return args
}

// LibraryPath prepends the system CUDA library directory to an
// LD_LIBRARY_PATH value.
func LibraryPath(current string) string {
	if current == "" {
		return defaultCUDALibDir
	}
	return defaultCUDALibDir + ":" + current
}

// Load starts a server for spec and waits until it is ready.
func (w *WhisperServer) Load(ctx context.Context, spec LoadSpec) (Model, error) {
	logger := w.Logger.With("component", "stt.whisper",
		"device", spec.Device, "compute_type", spec.ComputeType)

	if w.URL != "" {
		m := &whisperModel{baseURL: w.URL, client: w.Client, logger: logger}
		if err := m.waitReady(ctx, w.StartTimeout); err != nil {
			return nil, WrapError(whisperProvider, err)
		}
		return m, nil
	}

	modelPath := ModelPath(spec)
	if _, err := os.Stat(modelPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{Path: modelPath}
		}
		return nil, err
	}

	bin, err := exec.LookPath(w.Bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, w.Bin, err)
	}

	port, err := freePort()
	if err != nil {
		return nil, WrapError(whisperProvider, err)
	}

	host := "127.0.0.1"
	cmd := exec.Command(bin, ServerArgs(spec, modelPath, host, port, w.Threads)...)
	cmd.Env = append(os.Environ(), "LD_LIBRARY_PATH="+LibraryPath(os.Getenv("LD_LIBRARY_PATH")))
	stderr := &tailWriter{max: stderrTailBytes}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, WrapError(whisperProvider, fmt.Errorf("start %s: %w", bin, err))
	}

	m := &whisperModel{
		baseURL: "http://" + net.JoinHostPort(host, strconv.Itoa(port)),
		client:  w.Client,
		logger:  logger,
		cmd:     cmd,
		exited:  make(chan struct{}),
		stderr:  stderr,
	}
	go func() {
		m.waitErr = cmd.Wait()
		close(m.exited)
	}()

	logger.Info("whisper server starting", "model", modelPath, "addr", m.baseURL)
	if err := m.waitReady(ctx, w.StartTimeout); err != nil {
		m.Close()
		if tail := stderr.String(); tail != "" {
			err = fmt.Errorf("%w: %s", err, tail)
		}
		return nil, WrapError(whisperProvider, err)
	}
	return m, nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// whisperModel talks to one whisper-server instance.
type whisperModel struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	// Set only when the process is ours.
	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error
	stderr  *tailWriter

	closeOnce sync.Once
}

// waitReady polls /health until the server answers 200.
func (m *whisperModel) waitReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/health", nil)
		if err != nil {
			return err
		}
		if resp, err := m.client.Do(req); err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-m.exitedChan():
			return fmt.Errorf("server exited during startup: %v", m.waitErr)
		case <-ctx.Done():
			return fmt.Errorf("server not ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (m *whisperModel) exitedChan() <-chan struct{} {
	if m.exited == nil {
		return nil
	}
	return m.exited
}

type whisperSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type whisperResponse struct {
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Text     string           `json:"text"`
	Segments []whisperSegment `json:"segments"`
}

// Transcribe posts the samples as a 16-bit WAV to /inference.
func (m *whisperModel) Transcribe(ctx context.Context, samples []float32, opts DecodeOptions) ([]Segment, Info, error) {
	wavData, err := audioio.WAVBytes(audioio.Float32ToInt16(samples), SampleRate, 1)
	if err != nil {
		return nil, Info{}, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, Info{}, err
	}
	if _, err := part.Write(wavData); err != nil {
		return nil, Info{}, err
	}
	fields := map[string]string{
		"response_format": "verbose_json",
		"temperature":     "0.0",
		"beam_size":       strconv.Itoa(opts.BeamSize),
	}
	if opts.Language != "" {
		fields["language"] = opts.Language
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, Info{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, Info{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/inference", &body)
	if err != nil {
		return nil, Info{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, Info{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Info{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, Info{}, &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
			Provider:   whisperProvider,
		}
	}

	var out whisperResponse
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, Info{}, fmt.Errorf("decode response: %w", err)
	}

	segments := make([]Segment, 0, len(out.Segments))
	for _, s := range out.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		segments = append(segments, Segment{Start: s.Start, End: s.End, Text: text})
	}
	if len(out.Segments) == 0 && strings.TrimSpace(out.Text) != "" {
		segments = append(segments, Segment{
			End:  float64(len(samples)) / SampleRate,
			Text: strings.TrimSpace(out.Text),
		})
	}

	return segments, Info{Language: out.Language, Duration: out.Duration}, nil
}

// Close stops the server process if this model started it.
func (m *whisperModel) Close() error {
	if m.cmd == nil {
		return nil
	}
	m.closeOnce.Do(func() {
		if m.cmd.Process != nil {
			m.cmd.Process.Signal(os.Interrupt)
		}
		select {
		case <-m.exited:
		case <-time.After(3 * time.Second):
			m.cmd.Process.Kill()
			<-m.exited
		}
		m.logger.Debug("whisper server stopped")
	})
	return nil
}

// tailWriter keeps the last max bytes written to it.
type tailWriter struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailWriter) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailWriter) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

var _ Loader = (*WhisperServer)(nil)
var _ Model = (*whisperModel)(nil)
