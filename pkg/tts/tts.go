// Package tts provides streaming text-to-speech over local voice models.
//
// A Synthesizer owns one Voice, loaded once on first use. Synthesize renders
// the whole utterance in a background goroutine, then delivers it as paced
// PCM16 frames so a real-time player never receives the clip in one piece:
//
//	synth, _ := tts.NewSynthesizer(tts.NewCoqui())
//	defer synth.Close()
//
//	stream := synth.Synthesize(ctx, "Hello there")
//	defer stream.Close()
//	for {
//	    chunk, err := stream.Read(ctx)
//	    if err == io.EOF {
//	        break
//	    }
//	    sink.Write(ctx, chunk)
//	}
//
// Available voices:
//   - Coqui: a Coqui TTS server (tts-server) over HTTP
//   - Piper: the piper command-line synthesizer
//   - Chain: fallback across voices
//   - MockVoice: deterministic tone for tests
package tts

import (
	"context"
	"math"

	"github.com/teslashibe/go-localvoice/pkg/audioio"
)

// Voice renders text to a mono waveform.
type Voice interface {
	// Name identifies the voice backend.
	Name() string

	// Load prepares the backend. It is called once before the first Render.
	Load(ctx context.Context) error

	// Render synthesizes text and returns samples in [-1, 1] and their rate.
	Render(ctx context.Context, text string) ([]float32, int, error)

	// Close releases any resources held by the voice.
	Close() error
}

// Normalize clamps samples to [-1, 1] and, when the peak exceeds threshold,
// scales them so the peak equals target. Quieter input is left as is.
// The input slice is not modified.
func Normalize(samples []float32, threshold, target float32) []float32 {
	out := make([]float32, len(samples))
	var peak float32
	for i, s := range samples {
		if math.IsNaN(float64(s)) {
			s = 0
		}
		s = max(-1, min(1, s))
		out[i] = s
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	if peak > threshold {
		gain := target / peak
		for i := range out {
			out[i] *= gain
		}
	}
	return out
}

// Frames splits PCM into frames of size samples. The last frame may be
// shorter. Frames share the input's backing array.
func Frames(pcm []int16, size int) [][]int16 {
	if size <= 0 || len(pcm) == 0 {
		return nil
	}
	frames := make([][]int16, 0, (len(pcm)+size-1)/size)
	for start := 0; start < len(pcm); start += size {
		end := min(start+size, len(pcm))
		frames = append(frames, pcm[start:end:end])
	}
	return frames
}

// Stretch slows speech down by factor (>1 is slower) by resampling.
// A factor of 1 returns the input unchanged.
func Stretch(samples []float32, sampleRate int, factor float64) ([]float32, error) {
	if factor == 1 || factor <= 0 || len(samples) == 0 {
		return samples, nil
	}
	return audioio.ResampleFloat32(samples, sampleRate, int(math.Round(float64(sampleRate)*factor)))
}
