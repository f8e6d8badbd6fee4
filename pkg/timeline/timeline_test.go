package timeline_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-localvoice/pkg/inference"
	"github.com/teslashibe/go-localvoice/pkg/stt"
	"github.com/teslashibe/go-localvoice/pkg/timeline"
)

func caption(id string, ts int64, origin timeline.Origin, text string) timeline.Transcription {
	return timeline.Transcription{
		ID:              id,
		TimestampMillis: ts,
		Origin:          origin,
		Speaker:         string(origin),
		Segment:         stt.Segment{Text: text},
	}
}

func chat(id string, ts int64, origin timeline.Origin, text string) timeline.ChatEntry {
	return timeline.ChatEntry{
		ID:              id,
		TimestampMillis: ts,
		Origin:          origin,
		Role:            origin.Role(),
		Text:            text,
	}
}

func withCaptionSeq(t timeline.Transcription, seq uint64) timeline.Transcription {
	t.Seq = seq
	return t
}

func withChatSeq(m timeline.ChatEntry, seq uint64) timeline.ChatEntry {
	m.Seq = seq
	return m
}

func ids(entries []timeline.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name           string
		transcriptions []timeline.Transcription
		messages       []timeline.ChatEntry
		want           []string
	}{
		{
			name: "empty",
			want: []string{},
		},
		{
			name:     "messages only",
			messages: []timeline.ChatEntry{chat("m1", 10, timeline.OriginLocal, "a"), chat("m2", 20, timeline.OriginRemote, "b")},
			want:     []string{"m1", "m2"},
		},
		{
			name:           "late caption lands in place",
			transcriptions: []timeline.Transcription{caption("c1", 150, timeline.OriginLocal, "hello")},
			messages:       []timeline.ChatEntry{chat("m1", 100, timeline.OriginLocal, "a"), chat("m2", 200, timeline.OriginRemote, "b")},
			want:           []string{"m1", "c1", "m2"},
		},
		{
			name:           "ties keep concatenation order",
			transcriptions: []timeline.Transcription{caption("c1", 100, timeline.OriginLocal, "x"), caption("c2", 100, timeline.OriginRemote, "y")},
			messages:       []timeline.ChatEntry{chat("m1", 100, timeline.OriginLocal, "z")},
			want:           []string{"c1", "c2", "m1"},
		},
		{
			name: "ties follow arrival order",
			transcriptions: []timeline.Transcription{
				withCaptionSeq(caption("c1", 100, timeline.OriginLocal, "x"), 3),
				withCaptionSeq(caption("c2", 100, timeline.OriginRemote, "y"), 1),
			},
			messages: []timeline.ChatEntry{withChatSeq(chat("m1", 100, timeline.OriginLocal, "z"), 2)},
			want:     []string{"c2", "m1", "c1"},
		},
		{
			name:     "unsorted source is sorted",
			messages: []timeline.ChatEntry{chat("m2", 30, timeline.OriginLocal, "b"), chat("m1", 10, timeline.OriginLocal, "a")},
			want:     []string{"m1", "m2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(timeline.Merge(tt.transcriptions, tt.messages))
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestMerge_CaptionShape(t *testing.T) {
	c := caption("c1", 5, timeline.OriginRemote, "sure thing")
	c.Segment.Start, c.Segment.End = 1.5, 2.25

	entries := timeline.Merge([]timeline.Transcription{c}, nil)
	e := entries[0]
	if e.Message == nil || e.Message.Text != "sure thing" || e.Message.Role != inference.RoleAssistant {
		t.Fatalf("message = %+v", e.Message)
	}
	if e.Message.Speaker != "remote" {
		t.Errorf("speaker = %q", e.Message.Speaker)
	}
	if e.Segment == nil || e.Segment.End != 2.25 {
		t.Errorf("segment = %+v", e.Segment)
	}
}

func TestMerge_NonDecreasing(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		var (
			ts []timeline.Transcription
			ms []timeline.ChatEntry
		)
		for i := 0; i < rng.Intn(30); i++ {
			ts = append(ts, caption("c", rng.Int63n(1000), timeline.OriginLocal, "x"))
		}
		for i := 0; i < rng.Intn(30); i++ {
			ms = append(ms, chat("m", rng.Int63n(1000), timeline.OriginRemote, "y"))
		}

		entries := timeline.Merge(ts, ms)
		if len(entries) != len(ts)+len(ms) {
			t.Fatalf("round %d: lost entries", round)
		}
		for i := 1; i < len(entries); i++ {
			if entries[i].TimestampMillis < entries[i-1].TimestampMillis {
				t.Fatalf("round %d: out of order at %d", round, i)
			}
		}
	}
}

func TestMerge_DoesNotModifyInput(t *testing.T) {
	ms := []timeline.ChatEntry{chat("m2", 30, timeline.OriginLocal, "b"), chat("m1", 10, timeline.OriginLocal, "a")}
	timeline.Merge(nil, ms)
	if ms[0].ID != "m2" {
		t.Error("input slice was reordered")
	}
}

func TestStore_AppendAndNotify(t *testing.T) {
	now := time.UnixMilli(1_000)
	store := timeline.NewStore(timeline.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	var (
		mu        sync.Mutex
		snapshots [][]timeline.Entry
	)
	cancel := store.Subscribe(func(entries []timeline.Entry) {
		mu.Lock()
		snapshots = append(snapshots, entries)
		mu.Unlock()
	})

	m, err := store.AddMessage(ctx, timeline.ChatEntry{Origin: timeline.OriginLocal, Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if m.ID == "" || m.TimestampMillis != 1_000 || m.Role != inference.RoleUser {
		t.Errorf("filled message = %+v", m)
	}

	now = time.UnixMilli(3_000)
	if _, err := store.AddMessage(ctx, timeline.ChatEntry{Origin: timeline.OriginRemote, Text: "hi"}); err != nil {
		t.Fatal(err)
	}

	// A caption finalized after the reply, stamped with when it was spoken.
	c, err := store.AddTranscription(ctx, caption("", 2_000, timeline.OriginLocal, "  and another thing "))
	if err != nil {
		t.Fatal(err)
	}
	if c.Segment.Text != "and another thing" {
		t.Errorf("caption text = %q", c.Segment.Text)
	}

	got := store.Timeline()
	if len(got) != 3 || got[1].ID != c.ID {
		t.Fatalf("timeline = %v", ids(got))
	}

	mu.Lock()
	if len(snapshots) != 3 || len(snapshots[0]) != 1 || len(snapshots[2]) != 3 {
		t.Errorf("unexpected notifications: %d", len(snapshots))
	}
	mu.Unlock()

	cancel()
	store.AddMessage(ctx, timeline.ChatEntry{Text: "after cancel"})
	mu.Lock()
	if len(snapshots) != 3 {
		t.Error("cancelled subscriber was notified")
	}
	mu.Unlock()

	if store.Len() != 4 || len(store.Messages()) != 3 || len(store.Transcriptions()) != 1 {
		t.Errorf("len = %d", store.Len())
	}
}

func TestStore_TiesKeepArrivalOrder(t *testing.T) {
	store := timeline.NewStore(timeline.WithClock(func() time.Time { return time.UnixMilli(500) }))
	ctx := context.Background()

	m, err := store.AddMessage(ctx, chat("", 0, timeline.OriginLocal, "typed first"))
	if err != nil {
		t.Fatal(err)
	}
	c, err := store.AddTranscription(ctx, caption("", 0, timeline.OriginLocal, "spoken second"))
	if err != nil {
		t.Fatal(err)
	}
	if m.Seq == 0 || c.Seq <= m.Seq {
		t.Errorf("seq = %d, %d, want increasing", m.Seq, c.Seq)
	}

	got := ids(store.Timeline())
	if len(got) != 2 || got[0] != m.ID || got[1] != c.ID {
		t.Errorf("timeline = %v, want [%s %s]", got, m.ID, c.ID)
	}
}

func TestStore_InvalidOrigin(t *testing.T) {
	store := timeline.NewStore()
	_, err := store.AddMessage(context.Background(), timeline.ChatEntry{Origin: "moon", Text: "x"})
	if !errors.Is(err, timeline.ErrInvalidOrigin) {
		t.Errorf("expected ErrInvalidOrigin, got %v", err)
	}
	if store.Len() != 0 {
		t.Error("invalid event was stored")
	}
}

func TestStore_ConcurrentAppends(t *testing.T) {
	store := timeline.NewStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			store.AddMessage(ctx, timeline.ChatEntry{TimestampMillis: int64(i + 1), Text: "m"})
		}(i)
		go func(i int) {
			defer wg.Done()
			store.AddTranscription(ctx, caption("", int64(i+1), timeline.OriginRemote, "c"))
		}(i)
	}
	wg.Wait()

	entries := store.Timeline()
	if len(entries) != 40 {
		t.Fatalf("expected 40 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].TimestampMillis < entries[i-1].TimestampMillis {
			t.Fatalf("out of order at %d", i)
		}
	}
}
