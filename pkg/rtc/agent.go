package rtc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	contribws "github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-localvoice/pkg/rtc/opuscodec"
)

// Signal is a message on the signalling websocket.
type Signal struct {
	Type      string                   `json:"type"` // welcome, offer, answer, candidate, bye, error
	PeerID    string                   `json:"peerId,omitempty"`
	Room      string                   `json:"room,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

// Agent accepts browser peers and runs a listener for each.
type Agent struct {
	cfg     Config
	api     *webrtc.API
	factory ListenerFactory
	logger  *slog.Logger

	mu     sync.Mutex
	peers  map[string]*peer
	closed bool
}

// NewAgent creates an agent. factory is called once per peer.
func NewAgent(factory ListenerFactory, opts ...Option) (*Agent, error) {
	if factory == nil {
		return nil, fmt.Errorf("rtc: listener factory is required")
	}
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("rtc: register codecs: %w", err)
	}

	return &Agent{
		cfg:     cfg,
		api:     webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		factory: factory,
		logger:  cfg.Logger.With("component", "rtc.agent"),
		peers:   make(map[string]*peer),
	}, nil
}

// Config returns the agent configuration.
func (a *Agent) Config() Config {
	return a.cfg
}

// Peers returns the number of connected peers.
func (a *Agent) Peers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.peers)
}

// newPeer creates a peer connection with an outbound Opus track and starts
// its listener.
func (a *Agent) newPeer() (*peer, error) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	id := uuid.NewString()
	logger := a.cfg.Logger.With("component", "rtc.peer", "peer", id)

	var rtcCfg webrtc.Configuration
	if len(a.cfg.ICEServers) > 0 {
		rtcCfg.ICEServers = []webrtc.ICEServer{{URLs: a.cfg.ICEServers}}
	}
	pc, err := a.api.NewPeerConnection(rtcCfg)
	if err != nil {
		return nil, fmt.Errorf("rtc: new peer connection: %w", err)
	}

	p, err := a.setupPeer(id, pc, logger)
	if err != nil {
		pc.Close()
		return nil, err
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		p.close()
		return nil, ErrClosed
	}
	a.peers[id] = p
	count := len(a.peers)
	a.mu.Unlock()

	p.start()
	logger.Info("peer created", "peers", count)
	return p, nil
}

func (a *Agent) setupPeer(id string, pc *webrtc.PeerConnection, logger *slog.Logger) (*peer, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opuscodec.SampleRate, Channels: 2},
		"audio", "localvoice-"+id,
	)
	if err != nil {
		return nil, fmt.Errorf("rtc: new track: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("rtc: add track: %w", err)
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	enc, err := opuscodec.NewEncoder(a.cfg.Bitrate)
	if err != nil {
		return nil, err
	}
	sink := newTrackSink(track, enc, opuscodec.FrameDuration, logger)

	listener, err := a.factory(id, sink)
	if err != nil {
		return nil, fmt.Errorf("rtc: create listener: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &peer{
		id:       id,
		pc:       pc,
		sink:     sink,
		listener: listener,
		rate:     a.cfg.SampleRate,
		logger:   logger,
		in:       make(chan []int16, 64),
		ctx:      ctx,
		cancel:   cancel,
		greet:    a.cfg.Greet,
	}

	pc.OnTrack(p.onTrack)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.onStateChange(state)
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			go a.removePeer(id)
		}
	})
	return p, nil
}

// removePeer closes and forgets a peer.
func (a *Agent) removePeer(id string) error {
	a.mu.Lock()
	p, ok := a.peers[id]
	delete(a.peers, id)
	count := len(a.peers)
	a.mu.Unlock()
	if !ok {
		return ErrPeerNotFound
	}
	a.logger.Info("peer removed", "peer", id, "peers", count)
	return p.close()
}

// Answer accepts a complete SDP offer and returns the answer once ICE
// gathering finishes, for clients that do not trickle candidates.
func (a *Agent) Answer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if offer.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, ErrNotOffer
	}
	p, err := a.newPeer()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	fail := func(err error) (webrtc.SessionDescription, error) {
		a.removePeer(p.id)
		return webrtc.SessionDescription{}, err
	}

	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return fail(fmt.Errorf("rtc: set remote description: %w", err))
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return fail(fmt.Errorf("rtc: create answer: %w", err))
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return fail(fmt.Errorf("rtc: set local description: %w", err))
	}

	timer := time.NewTimer(a.cfg.GatherTimeout)
	defer timer.Stop()
	select {
	case <-gathered:
	case <-timer.C:
		return fail(ErrGatherTimeout)
	case <-ctx.Done():
		return fail(ctx.Err())
	}
	return *p.pc.LocalDescription(), nil
}

// ServeWS runs trickle signalling for one peer over conn. The peer is
// closed when the socket closes.
func (a *Agent) ServeWS(conn *contribws.Conn) {
	var writeMu sync.Mutex
	send := func(s Signal) {
		data, err := sonic.Marshal(s)
		if err != nil {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteMessage(contribws.TextMessage, data); err != nil {
			a.logger.Debug("signal write failed", "error", err)
		}
	}

	p, err := a.newPeer()
	if err != nil {
		send(Signal{Type: "error", Error: err.Error()})
		return
	}
	defer a.removePeer(p.id)

	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		send(Signal{Type: "candidate", Candidate: &init})
	})

	send(Signal{Type: "welcome", PeerID: p.id, Room: a.cfg.Room})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Signal
		if err := sonic.Unmarshal(data, &msg); err != nil {
			send(Signal{Type: "error", Error: "invalid signal"})
			continue
		}

		switch msg.Type {
		case "offer":
			answer, err := a.negotiate(p, msg.SDP)
			if err != nil {
				p.logger.Warn("negotiation failed", "error", err)
				send(Signal{Type: "error", Error: err.Error()})
				continue
			}
			send(Signal{Type: "answer", SDP: answer.SDP})

		case "candidate":
			if msg.Candidate == nil {
				continue
			}
			if err := p.pc.AddICECandidate(*msg.Candidate); err != nil {
				p.logger.Debug("add candidate failed", "error", err)
			}

		case "bye":
			return

		default:
			send(Signal{Type: "error", Error: fmt.Sprintf("unknown signal %q", msg.Type)})
		}
	}
}

func (a *Agent) negotiate(p *peer, sdp string) (webrtc.SessionDescription, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("rtc: set remote description: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("rtc: create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("rtc: set local description: %w", err)
	}
	return answer, nil
}

// Close disconnects every peer. New peers are refused afterwards.
func (a *Agent) Close() error {
	a.mu.Lock()
	a.closed = true
	peers := make([]*peer, 0, len(a.peers))
	for id, p := range a.peers {
		peers = append(peers, p)
		delete(a.peers, id)
	}
	a.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
	return nil
}
