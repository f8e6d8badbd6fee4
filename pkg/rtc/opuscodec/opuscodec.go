// Package opuscodec wraps libopus for the 48 kHz voice tracks exchanged
// with browsers.
package opuscodec

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/hraban/opus.v2"
)

const (
	// SampleRate is the Opus RTP clock rate.
	SampleRate = 48000

	// FrameDuration is the packet duration used for outbound audio.
	FrameDuration = 20 * time.Millisecond

	// FrameSamples is the number of mono samples in one outbound frame.
	FrameSamples = SampleRate / 1000 * int(FrameDuration/time.Millisecond)

	// maxFrameSamples is 120ms at 48kHz, the longest Opus packet.
	maxFrameSamples = 5760

	maxPacketBytes = 1275
)

// ErrFrameSize is returned when Encode is given anything but one frame.
var ErrFrameSize = errors.New("opuscodec: encode needs exactly one 20ms frame")

// Decoder turns Opus packets into mono PCM16 at 48 kHz.
type Decoder struct {
	dec      *opus.Decoder
	channels int
	buf      []int16
}

// NewDecoder creates a decoder for packets with the given channel count.
// Stereo input is mixed down to mono.
func NewDecoder(channels int) (*Decoder, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("opuscodec: unsupported channel count %d", channels)
	}
	dec, err := opus.NewDecoder(SampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opuscodec: new decoder: %w", err)
	}
	return &Decoder{
		dec:      dec,
		channels: channels,
		buf:      make([]int16, maxFrameSamples*channels),
	}, nil
}

// Decode decodes one packet. The returned slice is newly allocated.
func (d *Decoder) Decode(packet []byte) ([]int16, error) {
	n, err := d.dec.Decode(packet, d.buf)
	if err != nil {
		return nil, err
	}
	if d.channels == 1 {
		out := make([]int16, n)
		copy(out, d.buf[:n])
		return out, nil
	}
	out := make([]int16, n)
	for i := range out {
		out[i] = int16((int32(d.buf[2*i]) + int32(d.buf[2*i+1])) / 2)
	}
	return out, nil
}

// Encoder turns 20ms mono PCM16 frames at 48 kHz into Opus packets.
type Encoder struct {
	enc *opus.Encoder
	buf []byte
}

// NewEncoder creates a mono voice encoder. A bitrate of 0 keeps the
// libopus default.
func NewEncoder(bitrate int) (*Encoder, error) {
	enc, err := opus.NewEncoder(SampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opuscodec: new encoder: %w", err)
	}
	if bitrate > 0 {
		if err := enc.SetBitrate(bitrate); err != nil {
			return nil, fmt.Errorf("opuscodec: set bitrate: %w", err)
		}
	}
	return &Encoder{enc: enc, buf: make([]byte, maxPacketBytes)}, nil
}

// Encode encodes exactly FrameSamples samples. The returned packet is
// newly allocated.
func (e *Encoder) Encode(frame []int16) ([]byte, error) {
	if len(frame) != FrameSamples {
		return nil, ErrFrameSize
	}
	n, err := e.enc.Encode(frame, e.buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, nil
}
