package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidOrigin is returned when an event has an unknown origin.
var ErrInvalidOrigin = errors.New("timeline: invalid origin")

// Option configures a Store.
type Option func(*Store)

// WithPersister saves every appended event to p.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithClock sets the time source used for events without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store holds the caption and chat streams of one conversation and the
// timeline merged from them. It is safe for concurrent use.
type Store struct {
	persister Persister
	now       func() time.Time
	logger    *slog.Logger

	// notify serializes append and notification so subscribers observe
	// timelines in append order.
	notify sync.Mutex

	// seq is the last arrival number handed out, guarded by notify.
	seq uint64

	mu             sync.RWMutex
	transcriptions []Transcription
	messages       []ChatEntry
	merged         []Entry

	subsMu sync.Mutex
	subs   map[int]func([]Entry)
	nextID int
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		now:    time.Now,
		logger: slog.Default(),
		subs:   make(map[int]func([]Entry)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "timeline.store")
	return s
}

// Restore replays persisted events into an empty store. It is a no-op
// without a persister.
func (s *Store) Restore(ctx context.Context) (int, error) {
	if s.persister == nil {
		return 0, nil
	}
	events, err := s.persister.Load(ctx)
	if err != nil {
		return 0, err
	}

	s.notify.Lock()
	defer s.notify.Unlock()

	s.mu.Lock()
	for _, ev := range events {
		switch {
		case ev.Kind == EventTranscription && ev.Transcription != nil:
			s.seq = restoreSeq(&ev.Transcription.Seq, s.seq)
			s.transcriptions = append(s.transcriptions, *ev.Transcription)
		case ev.Kind == EventMessage && ev.Message != nil:
			s.seq = restoreSeq(&ev.Message.Seq, s.seq)
			s.messages = append(s.messages, *ev.Message)
		}
	}
	s.merged = Merge(s.transcriptions, s.messages)
	s.mu.Unlock()

	s.logger.Info("timeline restored", "events", len(events))
	return len(events), nil
}

// restoreSeq numbers an event saved without a sequence after last and
// returns the highest sequence seen.
func restoreSeq(seq *uint64, last uint64) uint64 {
	if *seq == 0 {
		*seq = last + 1
	}
	return max(*seq, last)
}

// AddTranscription appends a caption. Missing IDs and timestamps are filled
// in. The completed event is returned.
func (s *Store) AddTranscription(ctx context.Context, t Transcription) (Transcription, error) {
	if err := s.fill(&t.ID, &t.TimestampMillis, &t.Origin); err != nil {
		return t, err
	}
	t.Segment.Text = strings.TrimSpace(t.Segment.Text)

	err := s.append(ctx, Event{Kind: EventTranscription, Transcription: &t}, func() {
		s.transcriptions = append(s.transcriptions, t)
	})
	return t, err
}

// AddMessage appends a chat message. Missing IDs and timestamps are filled
// in, and an empty role is derived from the origin.
func (s *Store) AddMessage(ctx context.Context, m ChatEntry) (ChatEntry, error) {
	if err := s.fill(&m.ID, &m.TimestampMillis, &m.Origin); err != nil {
		return m, err
	}
	if m.Role == "" {
		m.Role = m.Origin.Role()
	}

	err := s.append(ctx, Event{Kind: EventMessage, Message: &m}, func() {
		s.messages = append(s.messages, m)
	})
	return m, err
}

func (s *Store) fill(id *string, ts *int64, origin *Origin) error {
	if *origin == "" {
		*origin = OriginLocal
	}
	if !origin.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidOrigin, *origin)
	}
	if *id == "" {
		*id = uuid.NewString()
	}
	if *ts == 0 {
		*ts = s.now().UnixMilli()
	}
	return nil
}

// append records ev, recomputes the full merge and notifies subscribers.
// A persistence failure is logged and returned, but the event is kept.
func (s *Store) append(ctx context.Context, ev Event, add func()) error {
	s.notify.Lock()
	defer s.notify.Unlock()

	s.seq++
	switch {
	case ev.Transcription != nil:
		ev.Transcription.Seq = s.seq
	case ev.Message != nil:
		ev.Message.Seq = s.seq
	}

	var perr error
	if s.persister != nil {
		if perr = s.persister.Save(ctx, ev); perr != nil {
			s.logger.Error("failed to persist timeline event", "error", perr)
		}
	}

	s.mu.Lock()
	add()
	s.merged = Merge(s.transcriptions, s.messages)
	snapshot := s.merged
	s.mu.Unlock()

	s.subsMu.Lock()
	fns := make([]func([]Entry), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
	return perr
}

// Timeline returns the current merged timeline. The returned slice must not
// be modified.
func (s *Store) Timeline() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.merged
}

// Messages returns a copy of the chat stream in arrival order.
func (s *Store) Messages() []ChatEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChatEntry, len(s.messages))
	copy(out, s.messages)
	return out
}

// Transcriptions returns a copy of the caption stream in arrival order.
func (s *Store) Transcriptions() []Transcription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Transcription, len(s.transcriptions))
	copy(out, s.transcriptions)
	return out
}

// Len returns the number of timeline entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.merged)
}

// Subscribe registers fn to receive the recomputed timeline after every
// append. fn runs on the appending goroutine and must not append to the
// store. The returned function unsubscribes.
func (s *Store) Subscribe(fn func([]Entry)) (cancel func()) {
	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// Close closes the persister, if any.
func (s *Store) Close() error {
	if s.persister == nil {
		return nil
	}
	return s.persister.Close()
}
