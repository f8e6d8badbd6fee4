// Package web serves the local voice assistant over HTTP: the audio upload
// endpoint, the dashboard API, live timeline websockets and WebRTC
// signalling.
package web

import (
	"context"
	"log/slog"
	"net"
	"time"

	contribws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-localvoice/pkg/audioio"
	"github.com/teslashibe/go-localvoice/pkg/hub"
	"github.com/teslashibe/go-localvoice/pkg/session"
	"github.com/teslashibe/go-localvoice/pkg/stt"
	"github.com/teslashibe/go-localvoice/pkg/timeline"
	"github.com/teslashibe/go-localvoice/pkg/voice"
)

// Transcriber transcribes an uploaded WAV file.
type Transcriber interface {
	TranscribeBuffer(ctx context.Context, data []byte) (*stt.Result, error)
	Info() session.Info
}

// ClipSynthesizer renders a reply to one PCM clip.
type ClipSynthesizer interface {
	SynthesizeClip(ctx context.Context, text string) (audioio.AudioChunk, error)
	Info() session.Info
}

// Signaler negotiates WebRTC sessions with browsers.
type Signaler interface {
	// Answer accepts an SDP offer and returns the answer with gathered
	// candidates.
	Answer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)

	// ServeWS runs trickle signalling over a websocket until it closes.
	ServeWS(conn *contribws.Conn)

	// Peers returns the number of connected peers.
	Peers() int
}

// Config holds server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":5005".
	Addr string

	// StaticDir, if set, is served at /.
	StaticDir string

	// BodyLimit caps request bodies, including uploads.
	BodyLimit int

	Logger *slog.Logger
}

// Deps are the components the server exposes. Only STT and TTS are
// required; routes for missing optional parts answer 503.
type Deps struct {
	STT       Transcriber
	TTS       ClipSynthesizer
	Assistant *voice.Assistant
	Timeline  *timeline.Store
	RTC       Signaler
}

// Server is the HTTP server
type Server struct {
	app    *fiber.App
	cfg    Config
	deps   Deps
	logger *slog.Logger

	started time.Time

	// Hubs for websocket broadcast (thread-safe!)
	timelineHub *hub.Hub
	statusHub   *hub.Hub

	unsubscribe func()
}

// NewServer creates a new server.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BodyLimit == 0 {
		cfg.BodyLimit = 64 << 20
	}
	logger := cfg.Logger.With("component", "web.server")

	s := &Server{
		cfg:         cfg,
		deps:        deps,
		logger:      logger,
		started:     time.Now(),
		timelineHub: hub.NewWithLogger("timeline", cfg.Logger),
		statusHub:   hub.NewWithLogger("status", cfg.Logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Local Voice Assistant",
		DisableStartupMessage: true,
		BodyLimit:             cfg.BodyLimit,
	})

	// CORS for local development
	app.Use(cors.New())

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	app.Post("/upload-audio", s.handleUploadAudio)

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/timeline", s.handleGetTimeline)
	api.Post("/chat", s.handleChat)
	api.Post("/rtc/offer", s.handleRTCOffer)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket routes
	app.Get("/ws/timeline", websocket.New(s.handleTimelineWS))
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/rtc", s.requireRTC, contribws.New(s.handleRTCWS))

	if deps.Timeline != nil {
		s.unsubscribe = deps.Timeline.Subscribe(func(entries []timeline.Entry) {
			if err := s.timelineHub.BroadcastJSON(timelineEvent{Type: "timeline", Entries: entries}); err != nil {
				s.logger.Warn("failed to encode timeline", "error", err)
			}
		})
	}
	if deps.Assistant != nil {
		deps.Assistant.Metrics().OnUpdate(func(m voice.Metrics) {
			s.statusHub.BroadcastJSON(metricsEvent{Type: "metrics", Metrics: m})
		})
	}

	s.app = app
	return s
}

// App returns the underlying fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start starts the hubs and serves on the configured address.
// It blocks until the server stops.
func (s *Server) Start() error {
	s.startHubs()
	s.logger.Info("web server listening", "addr", s.cfg.Addr)
	return s.app.Listen(s.cfg.Addr)
}

// Serve starts the hubs and serves on ln. It blocks until the server stops.
func (s *Server) Serve(ln net.Listener) error {
	s.startHubs()
	s.logger.Info("web server listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// StartAsync starts the server in a goroutine
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("web server error", "error", err)
		}
	}()
}

func (s *Server) startHubs() {
	go s.timelineHub.Run()
	go s.statusHub.Run()
}

// BroadcastStatus sends the current status to /ws/status clients.
func (s *Server) BroadcastStatus() {
	s.statusHub.BroadcastJSON(statusEvent{Type: "status", Status: s.status()})
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.timelineHub.Stop()
	s.statusHub.Stop()
	return s.app.ShutdownWithContext(ctx)
}
