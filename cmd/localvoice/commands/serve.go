package commands

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-localvoice/internal/log"
	"github.com/teslashibe/go-localvoice/pkg/audioio"
	"github.com/teslashibe/go-localvoice/pkg/inference"
	"github.com/teslashibe/go-localvoice/pkg/rtc"
	"github.com/teslashibe/go-localvoice/pkg/stt"
	"github.com/teslashibe/go-localvoice/pkg/timeline"
	"github.com/teslashibe/go-localvoice/pkg/tts"
	"github.com/teslashibe/go-localvoice/pkg/voice"
	"github.com/teslashibe/go-localvoice/pkg/web"
)

var (
	servePort string
	serveRTC  bool
	servePlay bool
)

var _ web.Signaler = (*rtc.Agent)(nil)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the upload server and dashboard",
	Long: `Run the HTTP server.

  POST /upload-audio   WAV in, spoken "You said: ..." WAV out
  GET  /api/status     adapter and turn status
  GET  /api/timeline   merged conversation timeline
  POST /api/chat       text turn with the assistant
  WS   /ws/timeline    live timeline
  WS   /ws/status      live status
  POST /api/rtc/offer  WebRTC voice session (with --rtc)
  WS   /ws/rtc         WebRTC signaling (with --rtc)

Examples:
  localvoice serve
  localvoice serve --port 8080 --rtc`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := globalConfig
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}
		if cmd.Flags().Changed("rtc") {
			cfg.RTC.Enabled = serveRTC
		}
		return runServe(cfg.Server.Port, cfg.RTC.Enabled)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "listen port (default from config)")
	serveCmd.Flags().BoolVar(&serveRTC, "rtc", false, "enable the WebRTC voice agent")
	serveCmd.Flags().BoolVar(&servePlay, "play", false, "speak dashboard chat replies through the local speakers")
}

type services struct {
	stt      *stt.Engine
	llm      inference.Provider
	tts      *tts.Synthesizer
	timeline *timeline.Store
	voice    voice.Config
}

func (s *services) close() {
	s.stt.Close()
	s.llm.Close()
	s.tts.Close()
	s.timeline.Close()
}

func (s *services) parts(sink audioio.Sink) voice.Parts {
	return voice.Parts{
		STT:      s.stt,
		LLM:      s.llm,
		TTS:      s.tts,
		Sink:     sink,
		Timeline: s.timeline,
	}
}

func newServices(ctx context.Context, logger *slog.Logger) (*services, error) {
	cfg := globalConfig
	s := &services{}

	engine, err := newSTT(cfg.STT, newLoader(cfg.STT, logger), logger)
	if err != nil {
		return nil, err
	}
	s.stt = engine

	if s.llm, err = newLLM(cfg.LLM, logger); err != nil {
		engine.Close()
		return nil, err
	}
	if s.tts, err = newSynthesizer(cfg.TTS, logger); err != nil {
		engine.Close()
		s.llm.Close()
		return nil, err
	}

	storeOpts := []timeline.Option{timeline.WithLogger(logger)}
	if cfg.Store.Path != "" {
		p, err := timeline.OpenBadger(timeline.BadgerOptions{Dir: cfg.Store.Path, Logger: logger})
		if err != nil {
			s.stt.Close()
			s.llm.Close()
			s.tts.Close()
			return nil, err
		}
		storeOpts = append(storeOpts, timeline.WithPersister(p))
	}
	s.timeline = timeline.NewStore(storeOpts...)
	if _, err := s.timeline.Restore(ctx); err != nil {
		logger.Warn("timeline restore failed", "error", err)
	}

	s.voice = voice.DefaultConfig().
		WithSystemPrompt(systemPrompt()).
		WithLogger(logger)
	return s, nil
}

func runServe(port string, enableRTC bool) error {
	ctx, cancel := signalContext()
	defer cancel()

	logger := log.Component("cmd.serve")
	svc, err := newServices(ctx, logger)
	if err != nil {
		return err
	}
	defer svc.close()

	var sink audioio.Sink
	if servePlay {
		if sink, err = newSink(globalConfig.Audio, logger); err != nil {
			return err
		}
		defer sink.Close()
	}

	assistant, err := voice.New(svc.voice, svc.parts(sink), voice.Callbacks{})
	if err != nil {
		return err
	}
	if err := assistant.Initialize(ctx); err != nil {
		return err
	}

	deps := web.Deps{
		STT:       svc.stt,
		TTS:       svc.tts,
		Assistant: assistant,
		Timeline:  svc.timeline,
	}

	if enableRTC {
		agent, err := rtc.NewAgent(func(peerID string, sink audioio.Sink) (rtc.Listener, error) {
			a, err := voice.New(svc.voice.WithSpeaker(peerID), svc.parts(sink), voice.Callbacks{})
			if err != nil {
				return nil, err
			}
			return a, nil
		},
			rtc.WithICEServers(globalConfig.RTC.ICEServers...),
			rtc.WithRoom(globalConfig.RTC.Room),
			rtc.WithSampleRate(svc.voice.SampleRate),
			rtc.WithLogger(logger),
		)
		if err != nil {
			return err
		}
		defer agent.Close()
		deps.RTC = agent
		logger.Info("webrtc agent enabled", "room", globalConfig.RTC.Room)
	}

	server := web.NewServer(web.Config{
		Addr:      ":" + port,
		StaticDir: globalConfig.Server.StaticDir,
		Logger:    logger,
	}, deps)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	printf("Serving on http://localhost:%s\n", port)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	return server.Shutdown(shutdownCtx)
}
