package rtc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-localvoice/pkg/audioio"
	"github.com/teslashibe/go-localvoice/pkg/rtc/opuscodec"
)

// Listener answers a live PCM16 stream. *voice.Assistant satisfies it.
type Listener interface {
	Listen(ctx context.Context, in <-chan []int16) error
	Greet(ctx context.Context) error
}

// ListenerFactory builds the listener for a new peer. Replies written to
// sink are sent to that peer.
type ListenerFactory func(peerID string, sink audioio.Sink) (Listener, error)

// peer is one browser connection with its own listener.
type peer struct {
	id       string
	pc       *webrtc.PeerConnection
	sink     *trackSink
	listener Listener
	rate     int
	logger   *slog.Logger

	in     chan []int16
	ctx    context.Context
	cancel context.CancelFunc

	greet     bool
	greetOnce sync.Once
	closeOnce sync.Once
	listening sync.WaitGroup

	dropped atomic.Int64
}

func (p *peer) start() {
	p.listening.Add(1)
	go func() {
		defer p.listening.Done()
		if err := p.listener.Listen(p.ctx, p.in); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("listener stopped", "error", err)
		}
	}()
}

func (p *peer) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	p.logger.Info("got track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	go p.readTrack(track)
}

// readTrack decodes inbound Opus and delivers it at the listener's rate.
// Audio is dropped while the listener is behind.
func (p *peer) readTrack(track *webrtc.TrackRemote) {
	channels := int(track.Codec().Channels)
	if channels != 2 {
		channels = 1
	}
	dec, err := opuscodec.NewDecoder(channels)
	if err != nil {
		p.logger.Error("failed to create decoder", "error", err)
		return
	}

	var decodeErrors int
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) && p.ctx.Err() == nil {
				p.logger.Debug("track read ended", "error", err)
			}
			return
		}
		pcm, err := dec.Decode(pkt.Payload)
		if err != nil {
			decodeErrors++
			if decodeErrors <= 5 {
				p.logger.Warn("opus decode failed", "error", err, "payload_bytes", len(pkt.Payload))
			}
			continue
		}

		pcm = audioio.Resample(pcm, opuscodec.SampleRate, p.rate)
		select {
		case p.in <- pcm:
		case <-p.ctx.Done():
			return
		default:
			if p.dropped.Add(1) == 1 {
				p.logger.Warn("listener is behind, dropping audio")
			}
		}
	}
}

func (p *peer) onStateChange(state webrtc.PeerConnectionState) {
	p.logger.Info("connection state", "state", state.String())
	if state == webrtc.PeerConnectionStateConnected && p.greet {
		p.greetOnce.Do(func() {
			go func() {
				if err := p.listener.Greet(p.ctx); err != nil && p.ctx.Err() == nil {
					p.logger.Warn("greeting failed", "error", err)
				}
			}()
		})
	}
}

// close stops the listener and tears the connection down.
func (p *peer) close() error {
	var err error
	p.closeOnce.Do(func() {
		p.cancel()
		p.sink.Close()
		err = p.pc.Close()
		p.listening.Wait()
		p.logger.Info("peer closed")
	})
	return err
}
