package audioio

import "time"

// AudioChunk represents a chunk of PCM16 audio.
// Chunks produced in sequence are in playback order.
type AudioChunk struct {
	// Samples contains interleaved PCM16 samples.
	Samples []int16

	// SampleRate is the sample rate of this chunk.
	SampleRate int

	// Channels is the number of channels in this chunk.
	Channels int
}

// Bytes returns the chunk as little-endian PCM16 bytes.
func (c *AudioChunk) Bytes() []byte {
	return SamplesToBytes(c.Samples)
}

// FromBytes populates the chunk from raw little-endian PCM16 bytes.
func (c *AudioChunk) FromBytes(data []byte, sampleRate, channels int) {
	c.SampleRate = sampleRate
	c.Channels = channels
	c.Samples = BytesToSamples(data)
}

// Duration returns the playback duration of this chunk.
func (c *AudioChunk) Duration() time.Duration {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// Concat joins chunks of the same format into one chunk.
// It returns an empty chunk when chunks is empty.
func Concat(chunks []AudioChunk) AudioChunk {
	if len(chunks) == 0 {
		return AudioChunk{}
	}
	total := 0
	for _, c := range chunks {
		total += len(c.Samples)
	}
	out := AudioChunk{
		Samples:    make([]int16, 0, total),
		SampleRate: chunks[0].SampleRate,
		Channels:   chunks[0].Channels,
	}
	for _, c := range chunks {
		out.Samples = append(out.Samples, c.Samples...)
	}
	return out
}
