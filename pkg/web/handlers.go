package web

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	contribws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-localvoice/pkg/audioio"
	"github.com/teslashibe/go-localvoice/pkg/hub"
	"github.com/teslashibe/go-localvoice/pkg/session"
	"github.com/teslashibe/go-localvoice/pkg/stt"
	"github.com/teslashibe/go-localvoice/pkg/timeline"
	"github.com/teslashibe/go-localvoice/pkg/voice"
)

// Status is the dashboard's view of the assistant
type Status struct {
	Uptime          string        `json:"uptime"`
	STT             session.Info  `json:"stt"`
	TTS             session.Info  `json:"tts"`
	Speaking        bool          `json:"speaking"`
	Turns           int           `json:"turns"`
	LastTurn        voice.Metrics `json:"last_turn"`
	AverageTurn     voice.Metrics `json:"average_turn"`
	TimelineEntries int           `json:"timeline_entries"`
	RTCPeers        int           `json:"rtc_peers"`
	Listeners       int           `json:"listeners"`
}

type timelineEvent struct {
	Type    string           `json:"type"`
	Entries []timeline.Entry `json:"entries"`
}

type statusEvent struct {
	Type   string `json:"type"`
	Status Status `json:"status"`
}

type metricsEvent struct {
	Type    string        `json:"type"`
	Metrics voice.Metrics `json:"metrics"`
}

// ChatRequest is the request body for a typed message
type ChatRequest struct {
	Message string `json:"message"`
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// handleUploadAudio transcribes an uploaded WAV file and answers with the
// echo reply spoken as a WAV attachment.
func (s *Server) handleUploadAudio(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "No file part")
	}
	if fh.Filename == "" || fh.Size == 0 {
		return errorJSON(c, fiber.StatusBadRequest, "No selected file")
	}

	f, err := fh.Open()
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}

	ctx := c.UserContext()
	res, err := s.deps.STT.TranscribeBuffer(ctx, data)
	if err != nil {
		if errors.Is(err, audioio.ErrInvalidWAV) || errors.Is(err, stt.ErrEmptyAudio) {
			return errorJSON(c, fiber.StatusBadRequest, "Unreadable audio file")
		}
		s.logger.Error("upload transcription failed", "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "Transcription failed")
	}

	reply := "You said: " + res.Text
	s.logger.Info("upload transcribed", "file", fh.Filename, "text", res.Text)

	clip, err := s.deps.TTS.SynthesizeClip(ctx, reply)
	if err != nil {
		s.logger.Error("upload synthesis failed", "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "Synthesis failed")
	}
	wav, err := audioio.WAVBytes(clip.Samples, clip.SampleRate, clip.Channels)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}

	c.Attachment("response.wav")
	c.Set(fiber.HeaderContentType, "audio/wav")
	c.Set("X-Transcript", sanitizeHeader(res.Text))
	return c.Send(wav)
}

// sanitizeHeader keeps a transcript on one header line.
func sanitizeHeader(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e {
			return ' '
		}
		return r
	}, s)
}

func (s *Server) status() Status {
	st := Status{
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Listeners: s.timelineHub.ClientCount() + s.statusHub.ClientCount(),
	}
	if s.deps.STT != nil {
		st.STT = s.deps.STT.Info()
	}
	if s.deps.TTS != nil {
		st.TTS = s.deps.TTS.Info()
	}
	if a := s.deps.Assistant; a != nil {
		st.Speaking = a.Speaking()
		st.Turns = a.Metrics().Turns()
		st.LastTurn = a.Metrics().Current()
		st.AverageTurn = a.Metrics().Average()
	}
	if s.deps.Timeline != nil {
		st.TimelineEntries = s.deps.Timeline.Len()
	}
	if s.deps.RTC != nil {
		st.RTCPeers = s.deps.RTC.Peers()
	}
	return st
}

// handleStatus returns the assistant's current state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

// handleGetTimeline returns the merged conversation
func (s *Server) handleGetTimeline(c *fiber.Ctx) error {
	if s.deps.Timeline == nil {
		return c.JSON([]timeline.Entry{})
	}
	entries := s.deps.Timeline.Timeline()
	if entries == nil {
		entries = []timeline.Entry{}
	}
	return c.JSON(entries)
}

// handleChat answers a typed message through the assistant
func (s *Server) handleChat(c *fiber.Ctx) error {
	if s.deps.Assistant == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "Assistant not configured")
	}

	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return errorJSON(c, fiber.StatusBadRequest, "Message is required")
	}

	turn, err := s.deps.Assistant.Respond(c.UserContext(), req.Message)
	if err != nil && turn == nil {
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	if err != nil {
		s.logger.Warn("chat reply was not spoken", "error", err)
	}
	return c.JSON(turn)
}

// handleRTCOffer answers a browser's SDP offer
func (s *Server) handleRTCOffer(c *fiber.Ctx) error {
	if s.deps.RTC == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "WebRTC not enabled")
	}

	var offer webrtc.SessionDescription
	if err := c.BodyParser(&offer); err != nil || offer.SDP == "" {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid SDP offer")
	}
	if offer.Type != webrtc.SDPTypeOffer {
		return errorJSON(c, fiber.StatusBadRequest, fmt.Sprintf("Expected offer, got %s", offer.Type))
	}

	answer, err := s.deps.RTC.Answer(c.UserContext(), offer)
	if err != nil {
		s.logger.Error("webrtc negotiation failed", "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(answer)
}

func (s *Server) requireRTC(c *fiber.Ctx) error {
	if s.deps.RTC == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "WebRTC not enabled")
	}
	return c.Next()
}

// handleRTCWS runs websocket signalling for one peer
func (s *Server) handleRTCWS(c *contribws.Conn) {
	s.deps.RTC.ServeWS(c)
}

// handleTimelineWS streams timeline updates, starting with the current one
func (s *Server) handleTimelineWS(c *websocket.Conn) {
	var entries []timeline.Entry
	if s.deps.Timeline != nil {
		entries = s.deps.Timeline.Timeline()
	}
	if entries == nil {
		entries = []timeline.Entry{}
	}
	initial, err := hub.EncodeJSON(timelineEvent{Type: "timeline", Entries: entries})
	if err != nil {
		s.logger.Warn("failed to encode timeline", "error", err)
		return
	}
	hub.NewClient(s.timelineHub, c, initial).Run()
}

// handleStatusWS streams status and metrics updates, starting with the
// current status
func (s *Server) handleStatusWS(c *websocket.Conn) {
	initial, err := hub.EncodeJSON(statusEvent{Type: "status", Status: s.status()})
	if err != nil {
		s.logger.Warn("failed to encode status", "error", err)
		return
	}
	hub.NewClient(s.statusHub, c, initial).Run()
}
