package tts_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-localvoice/pkg/audioio"
	"github.com/teslashibe/go-localvoice/pkg/session"
	"github.com/teslashibe/go-localvoice/pkg/tts"
)

func fixedVoice(n int) *tts.MockVoice {
	v := tts.NewMockVoice()
	v.RenderFunc = func(ctx context.Context, text string) ([]float32, int, error) {
		return tts.Tone(n, 22050, 220, 0.5), 22050, nil
	}
	return v
}

func readAll(t *testing.T, st *tts.Stream) ([]audioio.AudioChunk, error) {
	t.Helper()
	defer st.Close()
	var chunks []audioio.AudioChunk
	for {
		chunk, err := st.Read(context.Background())
		if errors.Is(err, io.EOF) {
			return chunks, nil
		}
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
}

func TestSynthesize_Chunking(t *testing.T) {
	tests := []struct {
		name      string
		samples   int
		frameSize int
		want      int
	}{
		{"partial last frame", 5000, 1024, 5},
		{"exact multiple", 4096, 1024, 4},
		{"shorter than a frame", 100, 1024, 1},
		{"small frames", 1000, 256, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			synth, err := tts.NewSynthesizer(fixedVoice(tt.samples),
				tts.WithFrameSize(tt.frameSize), tts.WithPacing(0))
			if err != nil {
				t.Fatalf("NewSynthesizer: %v", err)
			}
			defer synth.Close()

			chunks, err := readAll(t, synth.Synthesize(context.Background(), "hello"))
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if len(chunks) != tt.want {
				t.Fatalf("expected %d chunks, got %d", tt.want, len(chunks))
			}

			total := 0
			for i, c := range chunks {
				if i < len(chunks)-1 && len(c.Bytes()) != 2*tt.frameSize {
					t.Errorf("chunk %d is %d bytes, want %d", i, len(c.Bytes()), 2*tt.frameSize)
				}
				if c.SampleRate != 22050 || c.Channels != 1 {
					t.Errorf("chunk %d format = %d Hz x %d", i, c.SampleRate, c.Channels)
				}
				total += len(c.Samples)
			}
			if total != tt.samples {
				t.Errorf("total samples = %d, want %d", total, tt.samples)
			}
		})
	}
}

func TestSynthesize_Pacing(t *testing.T) {
	synth, _ := tts.NewSynthesizer(fixedVoice(3*1024), tts.WithPacing(30*time.Millisecond))
	defer synth.Close()

	start := time.Now()
	chunks, err := readAll(t, synth.Synthesize(context.Background(), "paced"))
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("expected at least 2 pacing gaps, finished in %v", elapsed)
	}
}

func TestSynthesize_Normalizes(t *testing.T) {
	synth, _ := tts.NewSynthesizer(fixedVoice(2048), tts.WithPacing(0))
	defer synth.Close()

	clip, err := tts.Collect(context.Background(), synth.Synthesize(context.Background(), "loud"))
	if err != nil {
		t.Fatal(err)
	}
	var peak int16
	for _, s := range clip.Samples {
		peak = max(peak, s, -s)
	}
	if peak < 31100 || peak > 31130 {
		t.Errorf("peak = %d, want about 0.95 of full scale", peak)
	}

	quiet := tts.NewMockVoice()
	quiet.RenderFunc = func(ctx context.Context, text string) ([]float32, int, error) {
		return []float32{5e-4, 5e-4, 5e-4}, 16000, nil
	}
	qs, _ := tts.NewSynthesizer(quiet, tts.WithPacing(0))
	defer qs.Close()

	clip, err = tts.Collect(context.Background(), qs.Synthesize(context.Background(), "quiet"))
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(clip.Samples, []int16{16, 16, 16}) {
		t.Errorf("quiet audio changed: %v", clip.Samples)
	}
}

func TestSynthesize_RenderFailure(t *testing.T) {
	voice := tts.WithError(errors.New("vocoder exploded"))
	synth, _ := tts.NewSynthesizer(voice, tts.WithPacing(0))
	defer synth.Close()

	st := synth.Synthesize(context.Background(), "hello")
	chunks, err := readAll(t, st)
	if err != nil {
		t.Fatalf("render failure should end the stream quietly, got %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected zero chunks, got %d", len(chunks))
	}
	if st.Err() == nil {
		t.Error("expected Err to report the render failure")
	}

	// The voice stays usable.
	voice.RenderFunc = nil
	chunks, err = readAll(t, synth.Synthesize(context.Background(), "hi"))
	if err != nil || len(chunks) == 0 {
		t.Errorf("second call: %d chunks, err %v", len(chunks), err)
	}
}

func TestSynthesize_EmptyRender(t *testing.T) {
	synth, _ := tts.NewSynthesizer(fixedVoice(0), tts.WithPacing(0))
	defer synth.Close()

	st := synth.Synthesize(context.Background(), "hello")
	chunks, err := readAll(t, st)
	if err != nil || len(chunks) != 0 {
		t.Errorf("got %d chunks, err %v", len(chunks), err)
	}
	if !errors.Is(st.Err(), tts.ErrEmptyAudio) {
		t.Errorf("Err = %v, want ErrEmptyAudio", st.Err())
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	voice := tts.NewMockVoice()
	synth, _ := tts.NewSynthesizer(voice)
	defer synth.Close()

	chunks, err := readAll(t, synth.Synthesize(context.Background(), "   "))
	if err != nil || len(chunks) != 0 {
		t.Errorf("got %d chunks, err %v", len(chunks), err)
	}
	if voice.CallCount("Render") != 0 {
		t.Error("empty text should not be rendered")
	}
}

func TestSynthesize_LoadFailureIsFatal(t *testing.T) {
	voice := tts.NewMockVoice()
	voice.LoadFunc = func(ctx context.Context) error {
		return errors.New("model file corrupt")
	}
	synth, _ := tts.NewSynthesizer(voice)
	defer synth.Close()

	_, err := readAll(t, synth.Synthesize(context.Background(), "hello"))
	var loadErr *session.LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected load error from Read, got %v", err)
	}

	if err := synth.Initialize(context.Background()); err == nil {
		t.Error("Initialize should keep failing")
	}
	if voice.CallCount("Load") != 1 {
		t.Errorf("expected 1 load attempt, got %d", voice.CallCount("Load"))
	}
}

func TestSynthesizer_CancelledInitializeIsNotFatal(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	voice := tts.NewMockVoice()
	voice.LoadFunc = func(ctx context.Context) error {
		once.Do(func() { close(started) })
		select {
		case <-time.After(100 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	synth, _ := tts.NewSynthesizer(voice)
	defer synth.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- synth.Initialize(ctx) }()
	<-started
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled Initialize = %v, want context.Canceled", err)
	}

	if err := synth.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize after cancel: %v", err)
	}
	if voice.CallCount("Load") != 1 {
		t.Errorf("expected 1 load, got %d", voice.CallCount("Load"))
	}

	chunks, err := readAll(t, synth.Synthesize(context.Background(), "hello"))
	if err != nil || len(chunks) == 0 {
		t.Errorf("got %d chunks, err %v", len(chunks), err)
	}
}

func TestSynthesizer_InitializeOnce(t *testing.T) {
	voice := tts.NewMockVoice()
	synth, _ := tts.NewSynthesizer(voice)
	defer synth.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := synth.Initialize(context.Background()); err != nil {
				t.Errorf("Initialize: %v", err)
			}
		}()
	}
	wg.Wait()

	if voice.CallCount("Load") != 1 {
		t.Errorf("expected 1 load, got %d", voice.CallCount("Load"))
	}
	if !synth.Info().Loaded {
		t.Error("expected session loaded")
	}
}

func TestSynthesize_CloseStopsProducer(t *testing.T) {
	synth, _ := tts.NewSynthesizer(fixedVoice(100*1024),
		tts.WithPacing(50*time.Millisecond), tts.WithStreamBuffer(0))
	defer synth.Close()

	st := synth.Synthesize(context.Background(), "a long sentence")
	if _, err := st.Read(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		st.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not stop the producer")
	}

	if _, err := st.Read(context.Background()); !errors.Is(err, tts.ErrStreamClosed) {
		t.Errorf("Read after Close = %v, want ErrStreamClosed", err)
	}
}

func TestSynthesizeClip(t *testing.T) {
	synth, _ := tts.NewSynthesizer(fixedVoice(2048))
	defer synth.Close()

	clip, err := synth.SynthesizeClip(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(clip.Samples) != 2048 || clip.SampleRate != 22050 {
		t.Errorf("clip = %d samples at %d Hz", len(clip.Samples), clip.SampleRate)
	}

	failing, _ := tts.NewSynthesizer(tts.WithError(errors.New("boom")))
	defer failing.Close()
	if _, err := failing.SynthesizeClip(context.Background(), "hello"); err == nil {
		t.Error("SynthesizeClip should return render errors")
	}
}

func TestNormalize(t *testing.T) {
	const threshold, target = 1e-3, 0.95

	t.Run("scales loud audio to target peak", func(t *testing.T) {
		out := tts.Normalize([]float32{0.5, -0.25}, threshold, target)
		if abs(out[0]-0.95) > 1e-6 || abs(out[1]+0.475) > 1e-6 {
			t.Errorf("out = %v", out)
		}
	})

	t.Run("leaves near silence alone", func(t *testing.T) {
		in := []float32{5e-4, -2e-4}
		out := tts.Normalize(in, threshold, target)
		if !slices.Equal(out, in) {
			t.Errorf("out = %v, want %v", out, in)
		}
	})

	t.Run("clamps before normalizing", func(t *testing.T) {
		out := tts.Normalize([]float32{2, -3, 0.5}, threshold, target)
		if abs(out[0]-0.95) > 1e-6 || abs(out[1]+0.95) > 1e-6 || abs(out[2]-0.475) > 1e-6 {
			t.Errorf("out = %v", out)
		}
	})

	t.Run("does not modify input", func(t *testing.T) {
		in := []float32{0.5}
		tts.Normalize(in, threshold, target)
		if in[0] != 0.5 {
			t.Error("input was modified")
		}
	})
}

func TestFrames(t *testing.T) {
	pcm := make([]int16, 2500)
	frames := tts.Frames(pcm, 1024)
	if len(frames) != 3 || len(frames[2]) != 452 {
		t.Errorf("frames = %d, last = %d", len(frames), len(frames[len(frames)-1]))
	}
	if tts.Frames(nil, 1024) != nil {
		t.Error("expected nil for empty input")
	}
}

func TestStretch(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	out, err := tts.Stretch(in, 22050, 1)
	if err != nil || !slices.Equal(out, in) {
		t.Errorf("factor 1 should pass through: %v %v", out, err)
	}
}

func TestNewSynthesizerValidation(t *testing.T) {
	if _, err := tts.NewSynthesizer(nil); !errors.Is(err, tts.ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
	if _, err := tts.NewSynthesizer(tts.NewMockVoice(), tts.WithFrameSize(0)); err == nil {
		t.Error("expected error for zero frame size")
	}
	if _, err := tts.NewSynthesizer(tts.NewMockVoice(), tts.WithStretch(-1)); err == nil {
		t.Error("expected error for negative stretch")
	}
}

func TestCoqui(t *testing.T) {
	wav, err := audioio.WAVBytes(make([]int16, 4410), 22050, 1)
	if err != nil {
		t.Fatal(err)
	}

	var gotSpeaker, gotText string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Write([]byte("<html>tts</html>"))
		case "/api/tts":
			gotSpeaker = r.URL.Query().Get("speaker_id")
			gotText = r.URL.Query().Get("text")
			if gotText == "fail" {
				http.Error(w, "synthesis error", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "audio/wav")
			w.Write(wav)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	voice := tts.NewCoqui(tts.WithCoquiURL(server.URL + "/"))
	ctx := context.Background()

	if err := voice.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	samples, rate, err := voice.Render(ctx, "Hello, world")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(samples) != 4410 || rate != 22050 {
		t.Errorf("got %d samples at %d Hz", len(samples), rate)
	}
	if gotSpeaker != "p225" || gotText != "Hello, world" {
		t.Errorf("query speaker=%q text=%q", gotSpeaker, gotText)
	}

	_, _, err = voice.Render(ctx, "fail")
	var apiErr *tts.APIError
	if !errors.As(err, &apiErr) || !apiErr.IsServerError() {
		t.Errorf("expected server APIError, got %v", err)
	}
}

func TestCoquiUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := tts.NewCoqui(tts.WithCoquiURL(url)).Load(context.Background())
	if !errors.Is(err, tts.ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestPiper(t *testing.T) {
	p := tts.NewPiper("voices/en_US-lessac-medium.onnx", tts.WithPiperSpeaker(3))
	args := p.Args()
	want := []string{"--model", "voices/en_US-lessac-medium.onnx", "--output_raw", "--speaker", "3"}
	if !slices.Equal(args, want) {
		t.Errorf("Args = %v, want %v", args, want)
	}

	missing := tts.NewPiper("model.onnx", tts.WithPiperBin("piper-binary-that-does-not-exist"))
	if err := missing.Load(context.Background()); !errors.Is(err, tts.ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestChainFallback(t *testing.T) {
	failing := tts.WithError(errors.New("voice 1 failed"))
	working := fixedVoice(512)

	chain, err := tts.NewChain(failing, working)
	if err != nil {
		t.Fatal(err)
	}
	defer chain.Close()

	ctx := context.Background()
	if err := chain.Load(ctx); err != nil {
		t.Fatal(err)
	}
	samples, _, err := chain.Render(ctx, "test")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(samples) != 512 {
		t.Errorf("got %d samples", len(samples))
	}
}

func TestChainAllFail(t *testing.T) {
	chain, _ := tts.NewChain(
		tts.WithError(errors.New("voice 1 failed")),
		tts.WithError(errors.New("voice 2 failed")),
	)
	ctx := context.Background()
	chain.Load(ctx)

	_, _, err := chain.Render(ctx, "test")
	var chainErr *tts.ChainError
	if !errors.As(err, &chainErr) || len(chainErr.Errors) != 2 {
		t.Fatalf("expected ChainError with 2 errors, got %v", err)
	}
	if !errors.Is(err, tts.ErrAllProvidersFailed) {
		t.Error("expected ErrAllProvidersFailed")
	}
}

func TestChainLoadSkipsBrokenVoice(t *testing.T) {
	broken := tts.NewMockVoice()
	broken.LoadFunc = func(context.Context) error { return errors.New("no model") }
	working := fixedVoice(64)

	chain, _ := tts.NewChain(broken, working)
	ctx := context.Background()
	if err := chain.Load(ctx); err != nil {
		t.Fatal(err)
	}
	chain.Render(ctx, "x")
	if broken.CallCount("Render") != 0 {
		t.Error("voice that failed to load should not render")
	}
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
