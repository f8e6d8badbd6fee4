package voice

import (
	"github.com/teslashibe/go-localvoice/pkg/audioio"
)

// EnergyVAD classifies frames as speech when their normalized RMS exceeds
// Threshold.
type EnergyVAD struct {
	Threshold float64
}

// IsSpeech reports whether frame is louder than the threshold.
func (v EnergyVAD) IsSpeech(frame []int16) bool {
	return audioio.CalculateRMS(frame) > v.Threshold
}

// Segmenter cuts a continuous PCM16 stream into utterances.
//
// Input is analysed in fixed frames. An utterance starts at the first speech
// frame and ends after SilenceFrames consecutive silent frames. Only speech
// frames are kept, so pauses are not part of the returned audio.
// A Segmenter is not safe for concurrent use.
type Segmenter struct {
	vad           EnergyVAD
	frameSize     int
	silenceFrames int
	minSamples    int

	pending  []int16
	speech   []int16
	speaking bool
	silence  int

	// OnSpeechStart is called when an utterance begins.
	OnSpeechStart func()
}

// NewSegmenter creates a segmenter from the VAD settings in cfg.
func NewSegmenter(cfg Config) *Segmenter {
	return &Segmenter{
		vad:           EnergyVAD{Threshold: cfg.VADThreshold},
		frameSize:     cfg.FrameSamples(),
		silenceFrames: cfg.SilenceFrames,
		minSamples:    int(int64(cfg.SampleRate) * int64(cfg.MinSpeech) / 1e9),
	}
}

// Write feeds samples and returns any utterances completed by them.
func (s *Segmenter) Write(samples []int16) [][]int16 {
	s.pending = append(s.pending, samples...)

	var done [][]int16
	for len(s.pending) >= s.frameSize {
		frame := s.pending[:s.frameSize]
		if u := s.frame(frame); u != nil {
			done = append(done, u)
		}
		s.pending = s.pending[s.frameSize:]
	}
	s.pending = append([]int16(nil), s.pending...)
	return done
}

func (s *Segmenter) frame(frame []int16) []int16 {
	if s.vad.IsSpeech(frame) {
		if !s.speaking {
			s.speaking = true
			if s.OnSpeechStart != nil {
				s.OnSpeechStart()
			}
		}
		s.speech = append(s.speech, frame...)
		s.silence = 0
		return nil
	}

	if !s.speaking {
		return nil
	}
	s.silence++
	if s.silence < s.silenceFrames {
		return nil
	}
	return s.end()
}

func (s *Segmenter) end() []int16 {
	u := s.speech
	s.speech = nil
	s.speaking = false
	s.silence = 0
	if len(u) == 0 || len(u) < s.minSamples {
		return nil
	}
	return u
}

// Flush ends any utterance in progress and returns it, or nil.
func (s *Segmenter) Flush() []int16 {
	s.pending = nil
	if !s.speaking {
		return nil
	}
	return s.end()
}

// Speaking reports whether an utterance is in progress.
func (s *Segmenter) Speaking() bool {
	return s.speaking
}
