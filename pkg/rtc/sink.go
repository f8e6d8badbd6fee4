package rtc

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/teslashibe/go-localvoice/pkg/audioio"
	"github.com/teslashibe/go-localvoice/pkg/rtc/opuscodec"
)

// opusPayloadType is the dynamic payload type browsers offer for Opus.
// Local tracks rewrite it to the negotiated value.
const opusPayloadType = 111

type packetWriter interface {
	WriteRTP(p *rtp.Packet) error
}

type frameEncoder interface {
	Encode(frame []int16) ([]byte, error)
}

// trackSink is an audioio.Sink that encodes PCM to Opus and writes it to
// a WebRTC track in real time.
type trackSink struct {
	w      packetWriter
	enc    frameEncoder
	pace   time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending []int16
	seq     uint16
	ts      uint32
	next    time.Time
	closed  bool

	chunks  int64
	samples int64
	packets int64
}

var _ audioio.SinkWithStats = (*trackSink)(nil)

// newTrackSink creates a sink writing to w. Frames are spaced pace apart;
// zero disables pacing.
func newTrackSink(w packetWriter, enc frameEncoder, pace time.Duration, logger *slog.Logger) *trackSink {
	return &trackSink{
		w:      w,
		enc:    enc,
		pace:   pace,
		logger: logger.With("component", "rtc.sink"),
		seq:    uint16(rand.UintN(1 << 16)),
		ts:     rand.Uint32(),
	}
}

// Write resamples chunk to 48 kHz mono and sends every complete frame.
// A partial frame is held until the next Write or Flush.
func (s *trackSink) Write(ctx context.Context, chunk audioio.AudioChunk) error {
	pcm := chunk.Samples
	if chunk.Channels == 2 {
		pcm = audioio.StereoToMono(pcm)
	}
	pcm = audioio.Resample(pcm, chunk.SampleRate, opuscodec.SampleRate)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	s.chunks++
	s.samples += int64(len(pcm))

	s.pending = append(s.pending, pcm...)
	for len(s.pending) >= opuscodec.FrameSamples {
		if err := s.sendFrame(ctx, s.pending[:opuscodec.FrameSamples]); err != nil {
			return err
		}
		s.pending = s.pending[opuscodec.FrameSamples:]
	}
	if len(s.pending) == 0 {
		s.pending = nil
	}
	return nil
}

// Flush pads and sends the held partial frame.
func (s *trackSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.pending) == 0 {
		return nil
	}
	frame := make([]int16, opuscodec.FrameSamples)
	copy(frame, s.pending)
	s.pending = nil
	return s.sendFrame(ctx, frame)
}

// Clear drops the held partial frame.
func (s *trackSink) Clear() error {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
	return nil
}

func (s *trackSink) Name() string {
	return "webrtc"
}

func (s *trackSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.pending = nil
	s.mu.Unlock()
	return nil
}

func (s *trackSink) Stats() audioio.SinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return audioio.SinkStats{
		ChunksWritten:   s.chunks,
		SamplesWritten:  s.samples,
		Backend:         s.Name(),
		BufferedSamples: int64(len(s.pending)),
	}
}

// sendFrame encodes and writes one frame. Must be called with mu held.
func (s *trackSink) sendFrame(ctx context.Context, frame []int16) error {
	marker, err := s.wait(ctx)
	if err != nil {
		return err
	}
	payload, err := s.enc.Encode(frame)
	if err != nil {
		return err
	}
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    opusPayloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.ts,
		},
		Payload: payload,
	}
	s.seq++
	s.ts += opuscodec.FrameSamples
	s.packets++
	return s.w.WriteRTP(pkt)
}

// wait blocks until the next frame slot. It reports whether this frame
// starts a new talkspurt, advancing the RTP clock over the silence.
func (s *trackSink) wait(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s.pace <= 0 {
		return s.packets == 0, nil
	}

	now := time.Now()
	if s.next.IsZero() || s.next.Before(now) {
		if !s.next.IsZero() {
			gap := now.Sub(s.next)
			s.ts += uint32(gap.Seconds() * opuscodec.SampleRate)
		}
		s.next = now.Add(s.pace)
		return true, nil
	}

	timer := time.NewTimer(time.Until(s.next))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
	}
	s.next = s.next.Add(s.pace)
	return false, nil
}
