package voice

import (
	"sync"
	"time"
)

// Metrics tracks latency at each stage of one assistant turn.
// All durations are measured from the moment the turn starts: the end of
// the user's speech, or the arrival of a typed message.
type Metrics struct {
	Turn int `json:"turn"`

	// Timestamps for key events
	StartTime        time.Time `json:"start_time"`
	TranscriptTime   time.Time `json:"transcript_time,omitempty"`
	FirstTokenTime   time.Time `json:"first_token_time,omitempty"`
	ReplyTime        time.Time `json:"reply_time,omitempty"`
	FirstAudioTime   time.Time `json:"first_audio_time,omitempty"`
	ResponseDoneTime time.Time `json:"response_done_time,omitempty"`

	// Computed latencies (from turn start)
	ASRLatency    time.Duration `json:"asr_latency"`
	LLMFirstToken time.Duration `json:"llm_first_token"`
	LLMComplete   time.Duration `json:"llm_complete"`
	TTSFirstAudio time.Duration `json:"tts_first_audio"`
	TotalLatency  time.Duration `json:"total_latency"`

	// Counts for this turn
	SpeechDuration time.Duration `json:"speech_duration"`
	Tokens         int           `json:"tokens"`
	AudioChunksOut int           `json:"audio_chunks_out"`
}

// MetricsCollector collects latency metrics during a turn.
// It is goroutine-safe and can be used from multiple callbacks.
type MetricsCollector struct {
	mu      sync.Mutex
	current Metrics
	turns   int
	history []Metrics // Recent turns for averaging

	// Callbacks for metrics updates
	onUpdate func(Metrics)
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		history: make([]Metrics, 0, 100),
	}
}

// OnUpdate sets a callback that fires whenever metrics are updated.
func (m *MetricsCollector) OnUpdate(fn func(Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// StartTurn begins a new turn. speech is the length of the utterance, or
// zero for typed input.
func (m *MetricsCollector) StartTurn(speech time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns++
	m.current = Metrics{
		Turn:           m.turns,
		StartTime:      time.Now(),
		SpeechDuration: speech,
	}
}

// MarkTranscript records when transcription completed.
func (m *MetricsCollector) MarkTranscript() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.TranscriptTime = time.Now()
	m.current.ASRLatency = m.since(m.current.TranscriptTime)
	m.notify()
}

// MarkToken records one LLM fragment, and the time of the first.
func (m *MetricsCollector) MarkToken() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.Tokens++
	if m.current.FirstTokenTime.IsZero() {
		m.current.FirstTokenTime = time.Now()
		m.current.LLMFirstToken = m.since(m.current.FirstTokenTime)
		m.notify()
	}
}

// MarkReply records when the full LLM reply was available.
func (m *MetricsCollector) MarkReply() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.ReplyTime = time.Now()
	m.current.LLMComplete = m.since(m.current.ReplyTime)
	m.notify()
}

// MarkAudio records one synthesized chunk, and the time of the first.
func (m *MetricsCollector) MarkAudio() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.AudioChunksOut++
	if m.current.FirstAudioTime.IsZero() {
		m.current.FirstAudioTime = time.Now()
		m.current.TTSFirstAudio = m.since(m.current.FirstAudioTime)
		m.notify()
	}
}

// MarkResponseDone records when the response is fully delivered and
// archives the turn.
func (m *MetricsCollector) MarkResponseDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.ResponseDoneTime = time.Now()
	m.current.TotalLatency = m.since(m.current.ResponseDoneTime)
	m.history = append(m.history, m.current)
	if len(m.history) > 100 {
		m.history = m.history[1:]
	}
	m.notify()
}

// since must be called with mutex held.
func (m *MetricsCollector) since(t time.Time) time.Duration {
	if m.current.StartTime.IsZero() {
		return 0
	}
	return t.Sub(m.current.StartTime)
}

// Current returns the current metrics snapshot.
func (m *MetricsCollector) Current() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Turns returns the number of turns started.
func (m *MetricsCollector) Turns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turns
}

// Average returns average metrics over recent completed turns.
func (m *MetricsCollector) Average() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return Metrics{}
	}

	var avg Metrics
	for _, h := range m.history {
		avg.ASRLatency += h.ASRLatency
		avg.LLMFirstToken += h.LLMFirstToken
		avg.LLMComplete += h.LLMComplete
		avg.TTSFirstAudio += h.TTSFirstAudio
		avg.TotalLatency += h.TotalLatency
	}

	n := time.Duration(len(m.history))
	avg.ASRLatency /= n
	avg.LLMFirstToken /= n
	avg.LLMComplete /= n
	avg.TTSFirstAudio /= n
	avg.TotalLatency /= n
	avg.Turn = len(m.history)

	return avg
}

// notify calls the update callback if set.
// Must be called with mutex held.
func (m *MetricsCollector) notify() {
	if m.onUpdate != nil {
		metrics := m.current
		go m.onUpdate(metrics)
	}
}

// FormatLatency returns a formatted string of current latencies.
func (m *Metrics) FormatLatency() string {
	return formatDuration(m.ASRLatency) + " ASR | " +
		formatDuration(m.LLMFirstToken) + " LLM | " +
		formatDuration(m.TTSFirstAudio) + " TTS | " +
		formatDuration(m.TotalLatency) + " TOTAL"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}
