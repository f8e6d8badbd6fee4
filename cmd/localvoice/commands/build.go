package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/teslashibe/go-localvoice/internal/config"
	"github.com/teslashibe/go-localvoice/pkg/audioio"
	"github.com/teslashibe/go-localvoice/pkg/inference"
	"github.com/teslashibe/go-localvoice/pkg/session"
	"github.com/teslashibe/go-localvoice/pkg/stt"
	"github.com/teslashibe/go-localvoice/pkg/tts"
)

func parseDevice(s string) session.Device {
	switch s {
	case "cpu":
		return session.DeviceCPU
	case "gpu", "cuda":
		return session.DeviceGPU
	default:
		return session.DeviceAuto
	}
}

func newLoader(cfg config.STT, logger *slog.Logger) stt.Loader {
	opts := []stt.WhisperOption{
		stt.WithWhisperBin(cfg.ServerBin),
		stt.WithWhisperLogger(logger),
	}
	if cfg.ServerURL != "" {
		opts = append(opts, stt.WithWhisperURL(cfg.ServerURL))
	}
	return stt.NewWhisperServer(opts...)
}

func newSTT(cfg config.STT, loader stt.Loader, logger *slog.Logger) (*stt.Engine, error) {
	return stt.NewEngine(loader,
		stt.WithModelSize(cfg.ModelSize),
		stt.WithModelDir(cfg.ModelDir),
		stt.WithDevice(parseDevice(cfg.Device)),
		stt.WithLanguage(cfg.Language),
		stt.WithBeamSize(cfg.BeamSize),
		stt.WithLogger(logger),
	)
}

func newLLM(cfg config.LLM, logger *slog.Logger) (inference.Provider, error) {
	if cfg.Mock {
		return inference.NewMock(), nil
	}
	return inference.NewClient(
		inference.WithBaseURL(cfg.BaseURL),
		inference.WithModel(cfg.Model),
		inference.WithTemperature(cfg.Temperature),
		inference.WithTopP(cfg.TopP),
		inference.WithMaxTokens(cfg.MaxTokens),
		inference.WithLogger(logger),
	)
}

func newVoice(cfg config.TTS, logger *slog.Logger) (tts.Voice, error) {
	switch cfg.Backend {
	case "coqui":
		return tts.NewCoqui(
			tts.WithCoquiURL(cfg.BaseURL),
			tts.WithCoquiModel(cfg.ModelName),
			tts.WithCoquiSpeaker(cfg.SpeakerID),
			tts.WithCoquiSampleRate(cfg.SampleRate),
			tts.WithCoquiLogger(logger),
		), nil
	case "piper":
		opts := []tts.PiperOption{tts.WithPiperBin(cfg.PiperBin), tts.WithPiperLogger(logger)}
		if id, err := strconv.Atoi(cfg.SpeakerID); err == nil {
			opts = append(opts, tts.WithPiperSpeaker(id))
		}
		return tts.NewPiper(cfg.PiperModel, opts...), nil
	case "mock":
		return tts.NewMockVoice(), nil
	default:
		return nil, fmt.Errorf("unknown tts backend %q", cfg.Backend)
	}
}

func newSynthesizer(cfg config.TTS, logger *slog.Logger) (*tts.Synthesizer, error) {
	voice, err := newVoice(cfg, logger)
	if err != nil {
		return nil, err
	}
	return tts.NewSynthesizer(voice,
		tts.WithFrameSize(cfg.FrameSize),
		tts.WithPacing(cfg.Pacing),
		tts.WithLogger(logger),
	)
}

func newSink(cfg config.Audio, logger *slog.Logger) (audioio.Sink, error) {
	acfg := audioio.DefaultConfig()
	acfg.SampleRate = cfg.SampleRate
	acfg.Channels = cfg.Channels
	acfg.Player = cfg.Player
	return audioio.NewSink(acfg, logger)
}

// tieredLoader tries every GPU compute type in order before giving up on
// the GPU. CPU specs pass straight through.
type tieredLoader struct {
	stt.Loader
	computeTypes []string
	logger       *slog.Logger

	// loaded is the compute type of the last successful GPU load.
	loaded string
}

func newTieredLoader(inner stt.Loader, computeTypes []string, logger *slog.Logger) *tieredLoader {
	return &tieredLoader{Loader: inner, computeTypes: computeTypes, logger: logger}
}

func (l *tieredLoader) Load(ctx context.Context, spec stt.LoadSpec) (stt.Model, error) {
	if spec.Device != session.DeviceGPU {
		return l.Loader.Load(ctx, spec)
	}

	var errs []error
	for _, ct := range l.computeTypes {
		spec.ComputeType = ct
		l.logger.Info("trying gpu compute type", "compute_type", ct)
		m, err := l.Loader.Load(ctx, spec)
		if err == nil {
			l.loaded = ct
			return m, nil
		}
		l.logger.Warn("gpu load failed", "compute_type", ct, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", ct, err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}
