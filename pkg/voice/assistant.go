package voice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-localvoice/pkg/audioio"
	"github.com/teslashibe/go-localvoice/pkg/inference"
	"github.com/teslashibe/go-localvoice/pkg/stt"
	"github.com/teslashibe/go-localvoice/pkg/timeline"
	"github.com/teslashibe/go-localvoice/pkg/tts"
)

// Common errors returned by the assistant.
var (
	ErrNoSpeech     = errors.New("voice: no speech recognized")
	ErrMissingStage = errors.New("voice: speech, language and voice stages are required")
)

// Transcriber turns captured audio into text.
type Transcriber interface {
	Initialize(ctx context.Context) error
	TranscribeSamples(ctx context.Context, samples []float32, sampleRate int) (*stt.Result, error)
}

// Speaker turns text into a stream of audio chunks.
type Speaker interface {
	Initialize(ctx context.Context) error
	Synthesize(ctx context.Context, text string) *tts.Stream
}

var (
	_ Transcriber = (*stt.Engine)(nil)
	_ Speaker     = (*tts.Synthesizer)(nil)
)

// Parts are the stages an assistant is built from. STT, LLM and TTS are
// required; Sink and Timeline are optional.
type Parts struct {
	STT      Transcriber
	LLM      inference.Provider
	TTS      Speaker
	Sink     audioio.Sink
	Timeline *timeline.Store
}

// Callbacks groups the assistant's event hooks. All are optional and run on
// the goroutine handling the turn.
type Callbacks struct {
	OnSpeechStart func()
	OnTranscript  func(text string)
	OnToken       func(fragment string)
	OnResponse    func(text string)
	OnError       func(err error)
}

// Turn is the outcome of one exchange.
type Turn struct {
	Transcript string        `json:"transcript"`
	Segments   []stt.Segment `json:"segments,omitempty"`
	Reply      string        `json:"reply"`
	Metrics    Metrics       `json:"metrics"`
}

// Assistant runs one conversation: speech in, transcription, a streamed LLM
// reply, and synthesized speech out. Turns are handled one at a time.
type Assistant struct {
	cfg     Config
	parts   Parts
	cb      Callbacks
	logger  *slog.Logger
	metrics *MetricsCollector
	chat    *inference.ChatContext

	// turn serializes HandleUtterance and Respond.
	turn sync.Mutex

	speakMu    sync.Mutex
	stopSpeech context.CancelFunc
	speechGen  uint64
}

// New creates an assistant. The chat context is seeded with the system
// prompt.
func New(cfg Config, parts Parts, cb Callbacks) (*Assistant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if parts.STT == nil || parts.LLM == nil || parts.TTS == nil {
		return nil, ErrMissingStage
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	chat := inference.NewChatContext()
	if cfg.SystemPrompt != "" {
		chat.Append(inference.NewSystemMessage(cfg.SystemPrompt))
	}

	return &Assistant{
		cfg:     cfg,
		parts:   parts,
		cb:      cb,
		logger:  logger.With("component", "voice.assistant"),
		metrics: NewMetricsCollector(),
		chat:    chat,
	}, nil
}

// Initialize loads the speech and voice models and checks the LLM backend.
// An unreachable LLM is only logged, since its stream degrades to an
// apology on its own.
func (a *Assistant) Initialize(ctx context.Context) error {
	a.logger.Info("initializing local voice assistant")
	if err := a.parts.STT.Initialize(ctx); err != nil {
		return err
	}
	if err := a.parts.TTS.Initialize(ctx); err != nil {
		return err
	}
	if err := a.parts.LLM.Health(ctx); err != nil {
		a.logger.Warn("language model backend not ready", "error", err)
	}
	a.logger.Info("local voice assistant initialized")
	return nil
}

// Config returns the assistant configuration.
func (a *Assistant) Config() Config {
	return a.cfg
}

// ChatContext returns the conversation sent to the LLM.
func (a *Assistant) ChatContext() *inference.ChatContext {
	return a.chat
}

// Metrics returns the turn latency collector.
func (a *Assistant) Metrics() *MetricsCollector {
	return a.metrics
}

// Timeline returns the timeline store, or nil.
func (a *Assistant) Timeline() *timeline.Store {
	return a.parts.Timeline
}

// HandleUtterance transcribes one utterance of PCM16 at the configured
// sample rate and answers it. It returns ErrNoSpeech when nothing was
// recognized.
func (a *Assistant) HandleUtterance(ctx context.Context, pcm []int16) (*Turn, error) {
	a.turn.Lock()
	defer a.turn.Unlock()

	speech := time.Duration(len(pcm)) * time.Second / time.Duration(a.cfg.SampleRate)
	spokenAt := time.Now().Add(-speech)
	a.metrics.StartTurn(speech)

	res, err := a.parts.STT.TranscribeSamples(ctx, audioio.Int16ToFloat32(pcm), a.cfg.SampleRate)
	if err != nil {
		a.fail(err)
		return nil, err
	}
	a.metrics.MarkTranscript()

	text := strings.TrimSpace(res.Text)
	if text == "" {
		a.logger.Debug("utterance had no recognizable speech", "speech", speech)
		return nil, ErrNoSpeech
	}
	a.logger.Info("transcription", "text", text, "speech", speech.Round(time.Millisecond))

	if store := a.parts.Timeline; store != nil {
		for _, seg := range res.Segments {
			_, err := store.AddTranscription(ctx, timeline.Transcription{
				TimestampMillis: spokenAt.UnixMilli() + int64(seg.Start*1000),
				Origin:          timeline.OriginLocal,
				Speaker:         a.cfg.Speaker,
				Segment:         seg,
			})
			if err != nil {
				a.logger.Warn("failed to record caption", "error", err)
			}
		}
	}
	if a.cb.OnTranscript != nil {
		a.cb.OnTranscript(text)
	}

	turn := &Turn{Transcript: text, Segments: res.Segments}
	turn.Reply, err = a.respond(ctx, text)
	turn.Metrics = a.metrics.Current()
	return turn, err
}

// Respond answers a typed message.
func (a *Assistant) Respond(ctx context.Context, text string) (*Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrNoSpeech
	}

	a.turn.Lock()
	defer a.turn.Unlock()

	a.metrics.StartTurn(0)
	a.record(ctx, timeline.OriginLocal, a.cfg.Speaker, inference.RoleUser, text)

	turn := &Turn{Transcript: text}
	var err error
	turn.Reply, err = a.respond(ctx, text)
	turn.Metrics = a.metrics.Current()
	return turn, err
}

// respond streams the LLM reply to text, records it and speaks it.
// Must be called with turn held.
func (a *Assistant) respond(ctx context.Context, text string) (string, error) {
	a.chat.Append(inference.NewUserMessage(text))

	stream := a.parts.LLM.Chat(ctx, a.chat)
	var b strings.Builder
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			stream.Close()
			a.fail(err)
			return b.String(), err
		}
		a.metrics.MarkToken()
		if a.cb.OnToken != nil {
			a.cb.OnToken(fragment)
		}
		b.WriteString(fragment)
	}
	if err := stream.Err(); err != nil {
		a.logger.Warn("language model stream degraded", "error", err)
	}
	stream.Close()
	a.metrics.MarkReply()

	reply := strings.TrimSpace(b.String())
	if reply == "" {
		a.metrics.MarkResponseDone()
		return "", nil
	}

	a.chat.Append(inference.NewAssistantMessage(reply))
	a.record(ctx, timeline.OriginRemote, a.cfg.AgentName, inference.RoleAssistant, reply)
	a.logger.Info("response", "text", reply)
	if a.cb.OnResponse != nil {
		a.cb.OnResponse(reply)
	}

	err := a.Say(ctx, reply)
	a.metrics.MarkResponseDone()
	if a.cfg.ProfileLatency {
		m := a.metrics.Current()
		a.logger.Info("turn latency", "turn", m.Turn, "breakdown", m.FormatLatency())
	}
	return reply, err
}

// Greet speaks the configured greeting. The greeting is shown in the
// timeline but not added to the LLM context.
func (a *Assistant) Greet(ctx context.Context) error {
	if a.cfg.Greeting == "" {
		return nil
	}
	a.record(ctx, timeline.OriginRemote, a.cfg.AgentName, inference.RoleAssistant, a.cfg.Greeting)
	return a.Say(ctx, a.cfg.Greeting)
}

// Say synthesizes text and writes it to the sink. If a reply is already
// playing it is interrupted when AllowInterruptions is set; otherwise text
// is dropped. Without a sink the audio is synthesized and discarded.
func (a *Assistant) Say(ctx context.Context, text string) error {
	a.speakMu.Lock()
	if a.stopSpeech != nil {
		if !a.cfg.AllowInterruptions {
			a.speakMu.Unlock()
			a.logger.Debug("already speaking, dropping", "chars", len(text))
			return nil
		}
		a.stopSpeech()
	}
	speakCtx, cancel := context.WithCancel(ctx)
	a.stopSpeech = cancel
	a.speechGen++
	gen := a.speechGen
	a.speakMu.Unlock()

	defer func() {
		a.speakMu.Lock()
		if a.speechGen == gen {
			a.stopSpeech = nil
		}
		a.speakMu.Unlock()
		cancel()
	}()

	a.logger.Debug("speaking", "chars", len(text))
	stream := a.parts.TTS.Synthesize(speakCtx, text)
	defer stream.Close()

	for {
		chunk, err := stream.Read(speakCtx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if speakCtx.Err() != nil && ctx.Err() == nil {
				return nil // interrupted
			}
			a.fail(err)
			return err
		}
		a.metrics.MarkAudio()
		if a.parts.Sink == nil {
			continue
		}
		if err := a.parts.Sink.Write(speakCtx, chunk); err != nil {
			if speakCtx.Err() != nil && ctx.Err() == nil {
				return nil
			}
			a.fail(err)
			return err
		}
	}

	if a.parts.Sink != nil {
		if err := a.parts.Sink.Flush(speakCtx); err != nil && speakCtx.Err() == nil {
			return err
		}
	}
	return nil
}

// Speaking reports whether a reply is being played.
func (a *Assistant) Speaking() bool {
	a.speakMu.Lock()
	defer a.speakMu.Unlock()
	return a.stopSpeech != nil
}

// Interrupt stops the reply being played and discards buffered audio.
func (a *Assistant) Interrupt() {
	a.speakMu.Lock()
	stop := a.stopSpeech
	a.speakMu.Unlock()
	if stop == nil {
		return
	}
	stop()
	if a.parts.Sink != nil {
		a.parts.Sink.Clear()
	}
	a.logger.Debug("speech interrupted")
}

// Listen segments a live PCM16 stream into utterances and answers each one
// in order. New speech interrupts a playing reply when AllowInterruptions
// is set. Listen returns when in is closed or ctx ends.
func (a *Assistant) Listen(ctx context.Context, in <-chan []int16) error {
	seg := NewSegmenter(a.cfg)
	seg.OnSpeechStart = func() {
		a.logger.Debug("speech started")
		if a.cfg.AllowInterruptions && a.Speaking() {
			a.Interrupt()
		}
		if a.cb.OnSpeechStart != nil {
			a.cb.OnSpeechStart()
		}
	}

	utterances := make(chan []int16, 4)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for pcm := range utterances {
			_, err := a.HandleUtterance(ctx, pcm)
			if err != nil && !errors.Is(err, ErrNoSpeech) && ctx.Err() == nil {
				a.logger.Warn("turn failed", "error", err)
			}
		}
	}()
	defer func() {
		close(utterances)
		wg.Wait()
	}()

	queue := func(u []int16) error {
		a.logger.Debug("speech ended", "samples", len(u))
		select {
		case utterances <- u:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pcm, ok := <-in:
			if !ok {
				if u := seg.Flush(); u != nil {
					return queue(u)
				}
				return nil
			}
			for _, u := range seg.Write(pcm) {
				if err := queue(u); err != nil {
					return err
				}
			}
		}
	}
}

func (a *Assistant) record(ctx context.Context, origin timeline.Origin, speaker string, role inference.Role, text string) {
	if a.parts.Timeline == nil {
		return
	}
	_, err := a.parts.Timeline.AddMessage(ctx, timeline.ChatEntry{
		Origin:  origin,
		Speaker: speaker,
		Role:    role,
		Text:    text,
	})
	if err != nil {
		a.logger.Warn("failed to record message", "error", err)
	}
}

func (a *Assistant) fail(err error) {
	if a.cb.OnError != nil {
		a.cb.OnError(err)
	}
}
