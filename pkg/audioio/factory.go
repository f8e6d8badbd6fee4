package audioio

import (
	"fmt"
	"log/slog"
	"os/exec"
)

// NewSink creates a new audio sink with the given configuration.
// If cfg.Backend is BackendAuto, the first streaming player on PATH is used,
// falling back to a mock sink on headless machines.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	player := cfg.Player
	if backend == BackendAuto {
		backend, player = detectBestBackend(player)
	}

	logger.Info("creating audio sink",
		"backend", backend,
		"player", player,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)

	switch backend {
	case BackendMock:
		return NewMockSink(cfg, logger), nil
	case BackendCommand:
		if player == "" {
			return nil, fmt.Errorf("audioio: command backend needs a player")
		}
		return NewCommandSink(player, logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// detectBestBackend returns the command backend when a streaming player is
// installed, preferring the configured one.
func detectBestBackend(preferred string) (Backend, string) {
	candidates := AvailablePlayers()
	for _, p := range candidates {
		if p == preferred {
			return BackendCommand, p
		}
	}
	if len(candidates) > 0 {
		return BackendCommand, candidates[0]
	}
	return BackendMock, ""
}

// AvailablePlayers returns the streaming players found on PATH.
func AvailablePlayers() []string {
	var found []string
	for _, p := range Players {
		if _, err := exec.LookPath(p); err == nil {
			found = append(found, p)
		}
	}
	return found
}
