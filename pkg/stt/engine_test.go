package stt_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-localvoice/pkg/audioio"
	"github.com/teslashibe/go-localvoice/pkg/session"
	"github.com/teslashibe/go-localvoice/pkg/stt"
)

func gpu(available bool) stt.Option {
	return stt.WithProbe(func() bool { return available })
}

func writeClip(t *testing.T, dir string, seconds float64, rate int) string {
	t.Helper()
	path := filepath.Join(dir, "output.wav")
	samples := make([]int16, int(seconds*float64(rate)))
	for i := range samples {
		samples[i] = int16(i % 2000)
	}
	if err := audioio.WriteWAVFile(path, samples, rate, 1); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

func TestEngine_DeviceSelection(t *testing.T) {
	tests := []struct {
		name      string
		gpu       bool
		device    session.Device
		gpuErr    error
		wantSpecs []session.Placement
		want      session.Placement
	}{
		{
			name:      "gpu float16 first",
			gpu:       true,
			device:    session.DeviceAuto,
			wantSpecs: []session.Placement{{Device: session.DeviceGPU, ComputeType: "float16"}},
			want:      session.Placement{Device: session.DeviceGPU, ComputeType: "float16"},
		},
		{
			name:   "gpu failure falls back to cpu int8",
			gpu:    true,
			device: session.DeviceAuto,
			gpuErr: errors.New("CUDA failed with error: libcudnn_ops_infer.so.8 not found"),
			wantSpecs: []session.Placement{
				{Device: session.DeviceGPU, ComputeType: "float16"},
				{Device: session.DeviceCPU, ComputeType: "int8"},
			},
			want: session.Placement{Device: session.DeviceCPU, ComputeType: "int8"},
		},
		{
			name:      "no gpu loads cpu directly",
			gpu:       false,
			device:    session.DeviceAuto,
			wantSpecs: []session.Placement{{Device: session.DeviceCPU, ComputeType: "int8"}},
			want:      session.Placement{Device: session.DeviceCPU, ComputeType: "int8"},
		},
		{
			name:      "cpu forced",
			gpu:       true,
			device:    session.DeviceCPU,
			wantSpecs: []session.Placement{{Device: session.DeviceCPU, ComputeType: "int8"}},
			want:      session.Placement{Device: session.DeviceCPU, ComputeType: "int8"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := stt.NewMockLoader()
			if tt.gpuErr != nil {
				loader.WithDeviceError(session.DeviceGPU, tt.gpuErr)
			}
			engine, err := stt.NewEngine(loader, gpu(tt.gpu), stt.WithDevice(tt.device))
			if err != nil {
				t.Fatalf("NewEngine: %v", err)
			}
			defer engine.Close()

			if err := engine.Initialize(context.Background()); err != nil {
				t.Fatalf("Initialize: %v", err)
			}

			specs := loader.Specs()
			if len(specs) != len(tt.wantSpecs) {
				t.Fatalf("expected %d load attempts, got %d", len(tt.wantSpecs), len(specs))
			}
			for i, want := range tt.wantSpecs {
				if specs[i].Placement() != want {
					t.Errorf("attempt %d = %+v, want %+v", i, specs[i].Placement(), want)
				}
			}
			if got := engine.Info().Placement; got != tt.want {
				t.Errorf("placement = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEngine_FallbackThenTranscribe(t *testing.T) {
	loader := stt.NewMockLoader().
		WithDeviceError(session.DeviceGPU, errors.New("cuBLAS runtime error"))
	engine, err := stt.NewEngine(loader, gpu(true))
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	path := writeClip(t, t.TempDir(), 1, 16000)
	for i := 0; i < 2; i++ {
		result, err := engine.TranscribeFile(context.Background(), path)
		if err != nil {
			t.Fatalf("transcribe %d: %v", i, err)
		}
		if result.Placement.Device != session.DeviceCPU {
			t.Errorf("expected cpu placement, got %s", result.Placement.Device)
		}
	}
	if len(loader.Specs()) != 2 {
		t.Errorf("expected model loaded once after fallback, got %d attempts", len(loader.Specs()))
	}
}

func TestEngine_BothTiersFail(t *testing.T) {
	loader := stt.NewMockLoader().
		WithDeviceError(session.DeviceGPU, errors.New("gpu down")).
		WithDeviceError(session.DeviceCPU, errors.New("out of memory"))
	engine, _ := stt.NewEngine(loader, gpu(true))
	defer engine.Close()

	err := engine.Initialize(context.Background())
	var loadErr *stt.LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected *stt.LoadError, got %v", err)
	}
	if len(loadErr.Attempts) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(loadErr.Attempts))
	}
	if !strings.Contains(err.Error(), "out of memory") {
		t.Errorf("error should mention cpu failure: %v", err)
	}
	if engine.Loaded() {
		t.Error("engine should not be loaded")
	}

	// The caller decides to retry.
	engine.Initialize(context.Background())
	if len(loader.Specs()) != 4 {
		t.Errorf("expected retry to run both tiers again, got %d attempts", len(loader.Specs()))
	}
}

func TestEngine_InitializeConcurrent(t *testing.T) {
	loader := stt.NewMockLoader()
	loader.LoadDelay = 50 * time.Millisecond
	engine, _ := stt.NewEngine(loader, gpu(false))
	defer engine.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- engine.Initialize(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Initialize: %v", err)
		}
	}
	if n := len(loader.Specs()); n != 1 {
		t.Errorf("expected exactly 1 load, got %d", n)
	}
	if err := engine.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(loader.Specs()); n != 1 {
		t.Errorf("later Initialize reloaded: %d loads", n)
	}
}

func TestEngine_TranscribeFile(t *testing.T) {
	model := stt.NewMockModel()
	loader := stt.NewMockLoader()
	loader.LoadFunc = func(ctx context.Context, spec stt.LoadSpec) (stt.Model, error) {
		return model, nil
	}
	engine, _ := stt.NewEngine(loader, gpu(false))
	defer engine.Close()
	ctx := context.Background()

	t.Run("missing file", func(t *testing.T) {
		_, err := engine.TranscribeFile(ctx, filepath.Join(t.TempDir(), "nope.wav"))
		if !errors.Is(err, stt.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		var nf *stt.NotFoundError
		if !errors.As(err, &nf) || !strings.HasSuffix(nf.Path, "nope.wav") {
			t.Errorf("expected *NotFoundError with path, got %v", err)
		}
		if engine.Loaded() {
			t.Error("missing input should not load the model")
		}
	})

	t.Run("3.6 second clip", func(t *testing.T) {
		path := writeClip(t, t.TempDir(), 3.6, 16000)
		result, err := engine.TranscribeFile(ctx, path)
		if err != nil {
			t.Fatalf("TranscribeFile: %v", err)
		}
		if len(result.Segments) != 1 {
			t.Fatalf("expected 1 segment, got %d", len(result.Segments))
		}
		line := stt.FormatSegment(result.Segments[0])
		if !strings.HasPrefix(line, "[0.00s -> 3.60s] ") {
			t.Errorf("unexpected segment line %q", line)
		}
		if result.Text == "" {
			t.Error("expected non-empty text")
		}
	})

	t.Run("beam width 5", func(t *testing.T) {
		calls := model.Calls()
		if len(calls) == 0 {
			t.Fatal("model never called")
		}
		if calls[len(calls)-1].BeamSize != 5 {
			t.Errorf("beam size = %d, want 5", calls[len(calls)-1].BeamSize)
		}
	})

	t.Run("stereo input is downmixed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "stereo.wav")
		if err := audioio.WriteWAVFile(path, make([]int16, 2*16000), 16000, 2); err != nil {
			t.Fatal(err)
		}
		result, err := engine.TranscribeFile(ctx, path)
		if err != nil {
			t.Fatal(err)
		}
		if result.Duration != 1 {
			t.Errorf("duration = %v, want 1", result.Duration)
		}
	})

	t.Run("decode failure keeps model loaded", func(t *testing.T) {
		model.TranscribeFunc = func(ctx context.Context, samples []float32, opts stt.DecodeOptions) ([]stt.Segment, stt.Info, error) {
			return nil, stt.Info{}, errors.New("decoder crashed")
		}
		defer func() { model.TranscribeFunc = nil }()

		_, err := engine.TranscribeFile(ctx, writeClip(t, t.TempDir(), 0.5, 16000))
		var pe *stt.ProviderError
		if !errors.As(err, &pe) {
			t.Fatalf("expected *ProviderError, got %v", err)
		}
		if !engine.Loaded() {
			t.Error("model should stay loaded after a decode failure")
		}
	})
}

func TestEngine_TranscribeBufferRemovesTempFile(t *testing.T) {
	dir := t.TempDir()
	engine, _ := stt.NewEngine(stt.NewMockLoader(), gpu(false), stt.WithTempDir(dir))
	defer engine.Close()
	ctx := context.Background()

	wav, err := audioio.WAVBytes(make([]int16, 8000), 16000, 1)
	if err != nil {
		t.Fatal(err)
	}

	result, err := engine.TranscribeBuffer(ctx, wav)
	if err != nil {
		t.Fatalf("TranscribeBuffer: %v", err)
	}
	if result.Text != stt.MockText {
		t.Errorf("text = %q", result.Text)
	}

	if _, err := engine.TranscribeBuffer(ctx, []byte("garbage")); err == nil {
		t.Error("expected error for invalid audio")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp files left behind: %d", len(entries))
	}

	if _, err := engine.TranscribeBuffer(ctx, nil); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("expected ErrEmptyAudio, got %v", err)
	}
}

func TestEngine_Close(t *testing.T) {
	model := stt.NewMockModel()
	loader := stt.NewMockLoader()
	loader.LoadFunc = func(ctx context.Context, spec stt.LoadSpec) (stt.Model, error) {
		return model, nil
	}
	engine, _ := stt.NewEngine(loader, gpu(false))
	if err := engine.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	engine.Close()

	if !model.Closed() {
		t.Error("model should be closed")
	}
	if err := engine.Initialize(context.Background()); !errors.Is(err, session.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestNewEngine_Validation(t *testing.T) {
	if _, err := stt.NewEngine(nil); err == nil {
		t.Error("expected error for nil loader")
	}
	if _, err := stt.NewEngine(stt.NewMockLoader(), stt.WithBeamSize(0)); err == nil {
		t.Error("expected error for zero beam size")
	}
	if _, err := stt.NewEngine(stt.NewMockLoader(), stt.WithDevice("tpu")); err == nil {
		t.Error("expected error for unknown device")
	}
}

func TestWriteTranscript(t *testing.T) {
	segments := []stt.Segment{
		{Start: 0, End: 1.5, Text: "Hello there."},
		{Start: 1.5, End: 3.604, Text: "How are you?"},
	}

	var buf bytes.Buffer
	if err := stt.WriteTranscript(&buf, segments); err != nil {
		t.Fatal(err)
	}
	want := "[0.00s -> 1.50s] Hello there.\n[1.50s -> 3.60s] How are you?\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}

	path := filepath.Join(t.TempDir(), "transcription.txt")
	if err := stt.WriteTranscriptFile(path, segments); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != want {
		t.Errorf("file = %q", data)
	}

	if got := stt.JoinText(segments); got != "Hello there. How are you?" {
		t.Errorf("JoinText = %q", got)
	}
}
