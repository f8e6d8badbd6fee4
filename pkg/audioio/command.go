package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
)

// Players supported by CommandSink, in order of preference.
var Players = []string{"ffplay", "aplay"}

// CommandSink streams PCM16 into an external player's stdin.
// The player process starts on the first Write and exits on Flush.
type CommandSink struct {
	player string
	logger *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	rate   int
	chans  int
	closed bool

	// OnPlaybackStart and OnPlaybackEnd fire around each player process.
	OnPlaybackStart func()
	OnPlaybackEnd   func()

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
}

// NewCommandSink creates a sink for the given player executable.
func NewCommandSink(player string, logger *slog.Logger) *CommandSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandSink{
		player: player,
		logger: logger.With("component", "audioio.command", "player", player),
	}
}

// PlayerArgs returns the command line that reads raw s16le from stdin.
func PlayerArgs(player string, sampleRate, channels int) ([]string, error) {
	rate := strconv.Itoa(sampleRate)
	ch := strconv.Itoa(channels)
	switch player {
	case "ffplay":
		return []string{"ffplay", "-f", "s16le", "-ar", rate, "-ac", ch,
			"-nodisp", "-autoexit", "-loglevel", "quiet", "-"}, nil
	case "aplay":
		return []string{"aplay", "-q", "-t", "raw", "-f", "S16_LE", "-r", rate, "-c", ch, "-"}, nil
	default:
		return nil, fmt.Errorf("audioio: unsupported player %q", player)
	}
}

// Write sends a chunk to the player, starting it if needed.
func (s *CommandSink) Write(ctx context.Context, chunk AudioChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}

	if s.cmd != nil && (chunk.SampleRate != s.rate || chunk.Channels != s.chans) {
		// Format changed mid-stream; finish the old stream first.
		s.finishLocked()
	}
	if s.cmd == nil {
		if err := s.startLocked(chunk.SampleRate, chunk.Channels); err != nil {
			return err
		}
	}

	if _, err := s.stdin.Write(chunk.Bytes()); err != nil {
		s.stopLocked()
		return fmt.Errorf("audioio: write to %s: %w", s.player, err)
	}
	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(chunk.Samples)))
	return nil
}

func (s *CommandSink) startLocked(rate, chans int) error {
	args, err := PlayerArgs(s.player, rate, chans)
	if err != nil {
		return err
	}

	cmd := exec.Command(args[0], args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("audioio: stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("audioio: start %s: %w", s.player, err)
	}

	s.cmd, s.stdin, s.rate, s.chans = cmd, stdin, rate, chans
	s.logger.Debug("player started", "sample_rate", rate, "channels", chans)
	if s.OnPlaybackStart != nil {
		s.OnPlaybackStart()
	}
	return nil
}

// Flush closes the player's stdin and waits for playback to finish.
func (s *CommandSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	cmd, stdin := s.cmd, s.stdin
	s.cmd, s.stdin = nil, nil
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}
	stdin.Close()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		s.playbackEnded()
		if err != nil {
			return fmt.Errorf("audioio: %s exited: %w", s.player, err)
		}
		return nil
	case <-ctx.Done():
		cmd.Process.Kill()
		<-done
		s.playbackEnded()
		return ctx.Err()
	}
}

// Clear stops playback immediately.
func (s *CommandSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return nil
}

func (s *CommandSink) finishLocked() {
	if s.stdin != nil {
		s.stdin.Close()
	}
	if s.cmd != nil {
		s.cmd.Wait()
	}
	s.cmd, s.stdin = nil, nil
	s.playbackEnded()
}

// stopLocked kills the player (must hold mu).
func (s *CommandSink) stopLocked() {
	if s.cmd == nil {
		return
	}
	if s.stdin != nil {
		s.stdin.Close()
	}
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	s.cmd, s.stdin = nil, nil
	s.playbackEnded()
}

func (s *CommandSink) playbackEnded() {
	if s.OnPlaybackEnd != nil {
		s.OnPlaybackEnd()
	}
}

// Name returns the player executable.
func (s *CommandSink) Name() string {
	return s.player
}

// Close stops playback and releases the sink.
func (s *CommandSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.closed = true
	return nil
}

// Stats returns sink statistics.
func (s *CommandSink) Stats() SinkStats {
	return SinkStats{
		ChunksWritten:  s.chunksWritten.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Backend:        s.player,
	}
}

var _ SinkWithStats = (*CommandSink)(nil)
