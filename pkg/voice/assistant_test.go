package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-localvoice/internal/log"
	"github.com/teslashibe/go-localvoice/pkg/audioio"
	"github.com/teslashibe/go-localvoice/pkg/inference"
	"github.com/teslashibe/go-localvoice/pkg/session"
	"github.com/teslashibe/go-localvoice/pkg/stt"
	"github.com/teslashibe/go-localvoice/pkg/timeline"
	"github.com/teslashibe/go-localvoice/pkg/tts"
)

type fixture struct {
	assistant *Assistant
	model     *stt.MockModel
	llm       *inference.Mock
	voice     *tts.MockVoice
	sink      *audioio.MockSink
	store     *timeline.Store
}

func newFixture(t *testing.T, cfg Config, cb Callbacks) *fixture {
	t.Helper()
	logger := log.Discard()

	model := stt.NewMockModel()
	loader := stt.NewMockLoader()
	loader.LoadFunc = func(context.Context, stt.LoadSpec) (stt.Model, error) { return model, nil }
	engine, err := stt.NewEngine(loader, stt.WithDevice(session.DeviceCPU), stt.WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}

	voice := tts.NewMockVoice()
	voice.RenderFunc = func(ctx context.Context, text string) ([]float32, int, error) {
		return tts.Tone(3000, 16000, 440, 0.5), 16000, nil
	}
	synth, err := tts.NewSynthesizer(voice, tts.WithPacing(0), tts.WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		model: model,
		llm:   inference.NewMock(),
		voice: voice,
		sink:  audioio.NewMockSink(audioio.DefaultConfig(), logger),
		store: timeline.NewStore(timeline.WithLogger(logger)),
	}
	cfg.Logger = logger
	f.assistant, err = New(cfg, Parts{
		STT:      engine,
		LLM:      f.llm,
		TTS:      synth,
		Sink:     f.sink,
		Timeline: f.store,
	}, cb)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		engine.Close()
		synth.Close()
	})
	return f
}

func (f *fixture) transcribe(text string) {
	f.model.TranscribeFunc = func(ctx context.Context, samples []float32, opts stt.DecodeOptions) ([]stt.Segment, stt.Info, error) {
		if text == "" {
			return nil, stt.Info{}, nil
		}
		dur := float64(len(samples)) / stt.SampleRate
		return []stt.Segment{{Start: 0, End: dur, Text: text}}, stt.Info{Duration: dur}, nil
	}
}

func TestNew_RequiresStages(t *testing.T) {
	if _, err := New(DefaultConfig(), Parts{}, Callbacks{}); !errors.Is(err, ErrMissingStage) {
		t.Errorf("expected ErrMissingStage, got %v", err)
	}
}

func TestHandleUtterance(t *testing.T) {
	var transcripts, responses []string
	f := newFixture(t, DefaultConfig(), Callbacks{
		OnTranscript: func(text string) { transcripts = append(transcripts, text) },
		OnResponse:   func(text string) { responses = append(responses, text) },
	})
	f.transcribe("hello there")
	ctx := context.Background()

	if err := f.assistant.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	turn, err := f.assistant.HandleUtterance(ctx, constant(16000, 2000))
	if err != nil {
		t.Fatalf("HandleUtterance: %v", err)
	}
	if turn.Transcript != "hello there" {
		t.Errorf("transcript = %q", turn.Transcript)
	}
	if turn.Reply != inference.KeywordReply("hello there") {
		t.Errorf("reply = %q", turn.Reply)
	}

	msgs := f.assistant.ChatContext().Messages()
	if len(msgs) != 3 || msgs[0].Role != inference.RoleSystem || msgs[1].Content != "hello there" || msgs[2].Role != inference.RoleAssistant {
		t.Errorf("chat context = %+v", msgs)
	}

	// 3000 samples at 1024 per frame.
	if played := f.sink.Played(); len(played) != 3 {
		t.Errorf("expected 3 chunks played, got %d", len(played))
	}

	entries := f.store.Timeline()
	if len(entries) != 2 || entries[0].Segment == nil || entries[1].Message.Role != inference.RoleAssistant {
		t.Fatalf("timeline = %+v", entries)
	}
	if entries[0].TimestampMillis > entries[1].TimestampMillis {
		t.Error("caption should precede the reply")
	}

	if len(transcripts) != 1 || len(responses) != 1 {
		t.Errorf("callbacks: %d transcripts, %d responses", len(transcripts), len(responses))
	}
	m := turn.Metrics
	if m.Turn != 1 || m.Tokens == 0 || m.AudioChunksOut != 3 || m.SpeechDuration != time.Second {
		t.Errorf("metrics = %+v", m)
	}
}

func TestHandleUtterance_NoSpeech(t *testing.T) {
	f := newFixture(t, DefaultConfig(), Callbacks{})
	f.transcribe("")

	_, err := f.assistant.HandleUtterance(context.Background(), constant(1600, 2000))
	if !errors.Is(err, ErrNoSpeech) {
		t.Errorf("expected ErrNoSpeech, got %v", err)
	}
	if f.llm.CallCount("Chat") != 0 {
		t.Error("LLM should not be called without a transcript")
	}
}

func TestHandleUtterance_TranscriptionError(t *testing.T) {
	var errs []error
	f := newFixture(t, DefaultConfig(), Callbacks{OnError: func(err error) { errs = append(errs, err) }})
	f.model.TranscribeFunc = func(context.Context, []float32, stt.DecodeOptions) ([]stt.Segment, stt.Info, error) {
		return nil, stt.Info{}, errors.New("decoder failed")
	}

	if _, err := f.assistant.HandleUtterance(context.Background(), constant(1600, 2000)); err == nil {
		t.Fatal("expected error")
	}
	if len(errs) != 1 {
		t.Errorf("OnError called %d times", len(errs))
	}
}

func TestRespond_Typed(t *testing.T) {
	f := newFixture(t, DefaultConfig(), Callbacks{})
	ctx := context.Background()

	turn, err := f.assistant.Respond(ctx, "  can I book an appointment? ")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(turn.Reply, "appointment") {
		t.Errorf("reply = %q", turn.Reply)
	}

	entries := f.store.Timeline()
	if len(entries) != 2 || entries[0].Message.Text != "can I book an appointment?" || entries[0].Segment != nil {
		t.Errorf("timeline = %+v", entries)
	}

	if _, err := f.assistant.Respond(ctx, "   "); !errors.Is(err, ErrNoSpeech) {
		t.Errorf("expected ErrNoSpeech for blank input, got %v", err)
	}
}

func TestRespond_DegradedLLMStillSpeaks(t *testing.T) {
	f := newFixture(t, DefaultConfig(), Callbacks{})
	f.llm.ReplyFunc = func(*inference.ChatContext) string { return inference.ApologyConnection }

	turn, err := f.assistant.Respond(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if turn.Reply != inference.ApologyConnection {
		t.Errorf("reply = %q", turn.Reply)
	}
	if f.voice.CallCount("Render") != 1 {
		t.Error("apology should be spoken")
	}
}

func TestGreet(t *testing.T) {
	f := newFixture(t, DefaultConfig(), Callbacks{})

	if err := f.assistant.Greet(context.Background()); err != nil {
		t.Fatal(err)
	}
	if call := f.voice.LastCall(); call == nil || call.Text != DefaultGreeting {
		t.Errorf("last render = %+v", call)
	}
	if f.assistant.ChatContext().Len() != 1 {
		t.Error("greeting should not enter the LLM context")
	}
	if f.store.Len() != 1 {
		t.Error("greeting should be shown in the timeline")
	}
}

func TestSay_Interrupt(t *testing.T) {
	f := newFixture(t, DefaultConfig(), Callbacks{})
	release := make(chan struct{})
	f.voice.RenderFunc = func(ctx context.Context, text string) ([]float32, int, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
		return tts.Tone(1024, 16000, 440, 0.5), 16000, nil
	}

	done := make(chan error, 1)
	go func() { done <- f.assistant.Say(context.Background(), "a long answer") }()

	deadline := time.Now().Add(time.Second)
	for !f.assistant.Speaking() {
		if time.Now().After(deadline) {
			t.Fatal("assistant never started speaking")
		}
		time.Sleep(time.Millisecond)
	}

	f.assistant.Interrupt()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("interrupted Say returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Say did not stop after Interrupt")
	}
	close(release)
	if f.assistant.Speaking() {
		t.Error("still speaking after interrupt")
	}
}

func TestSay_NoInterruptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowInterruptions = false
	f := newFixture(t, cfg, Callbacks{})

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.voice.RenderFunc = func(ctx context.Context, text string) ([]float32, int, error) {
		once.Do(func() { close(started) })
		<-release
		return tts.Tone(1024, 16000, 440, 0.5), 16000, nil
	}

	done := make(chan error, 1)
	go func() { done <- f.assistant.Say(context.Background(), "first") }()
	<-started

	if err := f.assistant.Say(context.Background(), "second"); err != nil {
		t.Fatal(err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if f.voice.CallCount("Render") != 1 {
		t.Errorf("second utterance should be dropped, got %d renders", f.voice.CallCount("Render"))
	}
}

func TestListen(t *testing.T) {
	var (
		mu          sync.Mutex
		speechStart int
		transcripts []string
	)
	f := newFixture(t, DefaultConfig(), Callbacks{
		OnSpeechStart: func() { mu.Lock(); speechStart++; mu.Unlock() },
		OnTranscript:  func(text string) { mu.Lock(); transcripts = append(transcripts, text); mu.Unlock() },
	})
	f.transcribe("hi")

	cfg := f.assistant.Config()
	frame := cfg.FrameSamples()
	in := make(chan []int16)
	done := make(chan error, 1)
	go func() { done <- f.assistant.Listen(context.Background(), in) }()

	for _, block := range [][]int16{
		constant(10*frame, 2000), constant(10*frame, 0),
		constant(10*frame, 2000), constant(3*frame, 0),
	} {
		in <- block
	}
	close(in)

	if err := <-done; err != nil {
		t.Fatalf("Listen: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if speechStart != 2 {
		t.Errorf("speech starts = %d", speechStart)
	}
	// The second utterance is flushed when the input closes.
	if len(transcripts) != 2 {
		t.Errorf("transcripts = %v", transcripts)
	}
	if f.assistant.Metrics().Turns() != 2 {
		t.Errorf("turns = %d", f.assistant.Metrics().Turns())
	}
}

func TestListen_ContextCancel(t *testing.T) {
	f := newFixture(t, DefaultConfig(), Callbacks{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.assistant.Listen(ctx, make(chan []int16)) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Listen did not return")
	}
}
