// Package timeline merges live captions and chat messages into one
// conversation view ordered by time.
//
// Captions and chat arrive on independent paths and a caption is often
// finalized after a later chat message was already shown. Merge is a pure
// function of both source lists, so recomputing it after every change always
// puts a late caption where it belongs instead of at the end:
//
//	entries := timeline.Merge(captions, messages)
//
// Store keeps the two source lists, recomputes the merge on every append and
// notifies subscribers such as the dashboard hub.
package timeline

import (
	"cmp"
	"slices"

	"github.com/teslashibe/go-localvoice/pkg/inference"
	"github.com/teslashibe/go-localvoice/pkg/stt"
)

// Origin says which side of a conversation produced an event.
type Origin string

const (
	// OriginLocal is the person at this client.
	OriginLocal Origin = "local"

	// OriginRemote is the other participant, normally the assistant.
	OriginRemote Origin = "remote"
)

// Valid reports whether o is a known origin.
func (o Origin) Valid() bool {
	return o == OriginLocal || o == OriginRemote
}

// Role maps an origin to the chat role its captions are shown with.
func (o Origin) Role() inference.Role {
	if o == OriginRemote {
		return inference.RoleAssistant
	}
	return inference.RoleUser
}

// Transcription is a caption event: one recognized segment attributed to a
// speaker.
type Transcription struct {
	ID              string      `json:"id" msgpack:"id"`
	TimestampMillis int64       `json:"timestamp" msgpack:"ts"`
	Origin          Origin      `json:"origin" msgpack:"origin"`
	Speaker         string      `json:"speaker" msgpack:"speaker"`
	Segment         stt.Segment `json:"segment" msgpack:"segment"`

	// Seq is the arrival order assigned by a Store. Zero means unknown.
	Seq uint64 `json:"seq,omitempty" msgpack:"seq,omitempty"`
}

// ChatEntry is a chat message as shown in the conversation view.
type ChatEntry struct {
	ID              string         `json:"id" msgpack:"id"`
	TimestampMillis int64          `json:"timestamp" msgpack:"ts"`
	Origin          Origin         `json:"origin" msgpack:"origin"`
	Speaker         string         `json:"speaker" msgpack:"speaker"`
	Role            inference.Role `json:"role" msgpack:"role"`
	Text            string         `json:"text" msgpack:"text"`
	Seq             uint64         `json:"seq,omitempty" msgpack:"seq,omitempty"`
}

// Entry is one row of the merged timeline. Message is always set; Segment is
// set when the row came from a caption.
type Entry struct {
	ID              string       `json:"id"`
	TimestampMillis int64        `json:"timestamp"`
	Origin          Origin       `json:"origin"`
	Message         *ChatEntry   `json:"message"`
	Segment         *stt.Segment `json:"segment,omitempty"`
	Seq             uint64       `json:"seq,omitempty"`
}

// AsChat converts a caption to the chat shape.
func (t Transcription) AsChat() ChatEntry {
	return ChatEntry{
		ID:              t.ID,
		TimestampMillis: t.TimestampMillis,
		Origin:          t.Origin,
		Speaker:         t.Speaker,
		Role:            t.Origin.Role(),
		Text:            t.Segment.Text,
		Seq:             t.Seq,
	}
}

// Merge returns captions and messages as one timeline sorted ascending by
// TimestampMillis. Equal timestamps are ordered by Seq, the order in which a
// Store received the events. Entries without a Seq come first and keep their
// position in the concatenation of captions and messages. Inputs are not
// modified.
func Merge(transcriptions []Transcription, messages []ChatEntry) []Entry {
	out := make([]Entry, 0, len(transcriptions)+len(messages))
	for _, t := range transcriptions {
		chat := t.AsChat()
		seg := t.Segment
		out = append(out, Entry{
			ID:              t.ID,
			TimestampMillis: t.TimestampMillis,
			Origin:          t.Origin,
			Message:         &chat,
			Segment:         &seg,
			Seq:             t.Seq,
		})
	}
	for _, m := range messages {
		msg := m
		out = append(out, Entry{
			ID:              m.ID,
			TimestampMillis: m.TimestampMillis,
			Origin:          m.Origin,
			Message:         &msg,
			Seq:             m.Seq,
		})
	}
	slices.SortStableFunc(out, func(a, b Entry) int {
		if c := cmp.Compare(a.TimestampMillis, b.TimestampMillis); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	return out
}
