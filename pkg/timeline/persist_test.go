package timeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/teslashibe/go-localvoice/internal/log"
	"github.com/teslashibe/go-localvoice/pkg/timeline"
)

func newBadger(t *testing.T, opts timeline.BadgerOptions) *timeline.BadgerPersister {
	t.Helper()
	opts.Logger = log.Discard()
	p, err := timeline.OpenBadger(opts)
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	return p
}

func TestBadgerPersister_SaveLoad(t *testing.T) {
	p := newBadger(t, timeline.BadgerOptions{InMemory: true})
	defer p.Close()
	ctx := context.Background()

	c := caption("c1", 100, timeline.OriginLocal, "hello")
	c.Segment.End = 1.25
	m := chat("m1", 200, timeline.OriginRemote, "hi there")

	if err := p.Save(ctx, timeline.Event{Kind: timeline.EventTranscription, Transcription: &c}); err != nil {
		t.Fatal(err)
	}
	if err := p.Save(ctx, timeline.Event{Kind: timeline.EventMessage, Message: &m}); err != nil {
		t.Fatal(err)
	}

	events, err := p.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != timeline.EventTranscription || events[0].Transcription.Segment.End != 1.25 {
		t.Errorf("event 0 = %+v", events[0])
	}
	if events[1].Kind != timeline.EventMessage || events[1].Message.Text != "hi there" {
		t.Errorf("event 1 = %+v", events[1])
	}
}

func TestBadgerPersister_RestoreAfterReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	p := newBadger(t, timeline.BadgerOptions{Dir: dir})
	store := timeline.NewStore(timeline.WithPersister(p))
	store.AddMessage(ctx, chat("", 300, timeline.OriginRemote, "reply"))
	store.AddMessage(ctx, chat("", 100, timeline.OriginLocal, "question"))
	store.AddTranscription(ctx, caption("", 200, timeline.OriginLocal, "caption"))
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	p = newBadger(t, timeline.BadgerOptions{Dir: dir})
	restored := timeline.NewStore(timeline.WithPersister(p))
	defer restored.Close()

	n, err := restored.Restore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("restored %d events, want 3", n)
	}
	entries := restored.Timeline()
	if entries[0].Message.Text != "question" || entries[1].Message.Text != "caption" || entries[2].Message.Text != "reply" {
		t.Errorf("unexpected order: %v", ids(entries))
	}

	// New events continue after the restored ones.
	restored.AddMessage(ctx, chat("", 400, timeline.OriginLocal, "more"))
	events, _ := p.Load(ctx)
	if len(events) != 4 || events[3].Message.Text != "more" {
		t.Errorf("events after reopen = %d", len(events))
	}
}

func TestBadgerPersister_RestoreKeepsTieOrder(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	p := newBadger(t, timeline.BadgerOptions{Dir: dir})
	store := timeline.NewStore(timeline.WithPersister(p))
	store.AddMessage(ctx, chat("m1", 100, timeline.OriginLocal, "question"))
	store.AddTranscription(ctx, caption("c1", 100, timeline.OriginRemote, "answer"))
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	p = newBadger(t, timeline.BadgerOptions{Dir: dir})
	restored := timeline.NewStore(timeline.WithPersister(p))
	defer restored.Close()
	if _, err := restored.Restore(ctx); err != nil {
		t.Fatal(err)
	}

	restored.AddMessage(ctx, chat("m2", 100, timeline.OriginLocal, "follow up"))
	got := ids(restored.Timeline())
	want := []string{"m1", "c1", "m2"}
	if len(got) != len(want) {
		t.Fatalf("timeline = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("timeline = %v, want %v", got, want)
		}
	}
}

func TestOpenBadger_RequiresDir(t *testing.T) {
	if _, err := timeline.OpenBadger(timeline.BadgerOptions{}); err == nil {
		t.Error("expected error without Dir")
	}
}

type failingPersister struct{}

func (failingPersister) Save(context.Context, timeline.Event) error { return errors.New("disk full") }
func (failingPersister) Load(context.Context) ([]timeline.Event, error) {
	return nil, errors.New("disk full")
}
func (failingPersister) Close() error { return nil }

func TestStore_PersistFailureKeepsEvent(t *testing.T) {
	store := timeline.NewStore(timeline.WithPersister(failingPersister{}), timeline.WithLogger(log.Discard()))
	_, err := store.AddMessage(context.Background(), chat("", 1, timeline.OriginLocal, "x"))
	if err == nil {
		t.Error("expected persistence error")
	}
	if store.Len() != 1 {
		t.Error("event should be kept in memory")
	}
	if _, err := store.Restore(context.Background()); err == nil {
		t.Error("expected restore error")
	}
}
