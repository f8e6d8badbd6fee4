// Package stt provides local speech-to-text on top of a lazily loaded
// whisper model.
//
// The Engine owns one model session. On first use it places the model on
// the GPU with float16 weights when an accelerator is present, and falls
// back to the CPU with int8 weights if that fails:
//
//	engine, err := stt.NewEngine(stt.NewWhisperServer(),
//	    stt.WithModelSize("small"),
//	    stt.WithModelDir("models"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer engine.Close()
//
//	result, err := engine.TranscribeFile(ctx, "output.wav")
//	if errors.Is(err, stt.ErrNotFound) {
//	    // input missing, engine state unaffected
//	}
//	stt.WriteTranscript(os.Stdout, result.Segments)
package stt

import (
	"context"
	"io"
	"strings"

	"github.com/teslashibe/go-localvoice/pkg/session"
)

// SampleRate is the input rate whisper models expect.
const SampleRate = 16000

// DefaultBeamSize is the beam width used for decoding.
const DefaultBeamSize = 5

// Compute types understood by the loaders.
const (
	ComputeFloat16     = "float16"
	ComputeInt8Float16 = "int8_float16"
	ComputeInt8        = "int8"
)

// ComputeTypes is the GPU precision order tried by the standalone transcribe
// command. The Engine itself only uses float16 on GPU and int8 on CPU.
var ComputeTypes = []string{ComputeFloat16, ComputeInt8Float16, ComputeInt8}

// Segment is one recognized span of speech. Times are in seconds from the
// start of the input.
type Segment struct {
	Start float64 `json:"start" msgpack:"start"`
	End   float64 `json:"end" msgpack:"end"`
	Text  string  `json:"text" msgpack:"text"`
}

// Info describes a finished decode.
type Info struct {
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration"`
}

// Result is the outcome of a transcription.
type Result struct {
	// Text is the segment texts joined by single spaces.
	Text string `json:"text"`

	// Segments are ordered by Start.
	Segments []Segment `json:"segments"`

	Language  string            `json:"language,omitempty"`
	Duration  float64           `json:"duration"`
	Placement session.Placement `json:"placement"`
}

// DecodeOptions control a single transcription.
type DecodeOptions struct {
	BeamSize int
	Language string
}

// LoadSpec tells a Loader which model to load and where.
type LoadSpec struct {
	ModelSize   string
	ModelDir    string
	Device      session.Device
	ComputeType string
	Language    string
}

// Placement returns the session placement this spec asks for.
func (s LoadSpec) Placement() session.Placement {
	return session.Placement{Device: s.Device, ComputeType: s.ComputeType}
}

// Loader loads a speech model onto a device.
type Loader interface {
	// Load returns a ready model or an error. A failed load must not leave
	// processes or memory behind.
	Load(ctx context.Context, spec LoadSpec) (Model, error)

	// Name identifies the backend in logs and errors.
	Name() string
}

// Model is a loaded speech model. Samples are 16 kHz mono in [-1, 1].
type Model interface {
	Transcribe(ctx context.Context, samples []float32, opts DecodeOptions) ([]Segment, Info, error)
	io.Closer
}

// JoinText concatenates segment texts with single spaces.
func JoinText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
