// Package inference streams chat completions from a local language model.
//
// The Client talks to an Ollama server's /api/chat endpoint and turns its
// newline-delimited JSON reply into a stream of text fragments. Failures
// never reach the caller as errors: a bad status or a broken connection is
// logged and the stream yields a short spoken apology instead, so a voice
// pipeline always has something to say.
//
// Example usage:
//
//	client, _ := inference.NewClient(
//	    inference.WithBaseURL("http://localhost:11434"),
//	    inference.WithModel("llama3.2"),
//	)
//	defer client.Close()
//
//	chat := inference.NewChatContext(inference.NewSystemMessage("You are brief."))
//	chat.Append(inference.NewUserMessage("Hello!"))
//
//	stream := client.Chat(ctx, chat)
//	defer stream.Close()
//	for {
//	    delta, err := stream.Recv()
//	    if err == io.EOF {
//	        break
//	    }
//	    fmt.Print(delta)
//	}
package inference

import (
	"context"
	"errors"
	"io"
	"strings"
)

// Canned replies spoken in place of an error.
const (
	ApologyProcessing = "I'm sorry, I'm having trouble processing your request right now."
	ApologyConnection = "I'm sorry, I'm having trouble connecting to my language model right now."
)

// Provider produces streamed chat replies.
type Provider interface {
	// Chat starts a reply for chat. It returns immediately; the returned
	// stream is never nil and must be closed.
	Chat(ctx context.Context, chat *ChatContext) Stream

	// Health checks that the backend is reachable.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// Stream is a single-pass sequence of text fragments.
type Stream interface {
	// Recv returns the next fragment, or io.EOF when the reply is complete.
	Recv() (string, error)

	// Close stops the stream and releases the connection.
	Close() error

	// Err returns the failure that was replaced by an apology, if any.
	// It is only meaningful after Recv has returned io.EOF.
	Err() error
}

// Collect reads a stream to the end and returns the concatenated reply.
// The stream is closed before returning.
func Collect(s Stream) (string, error) {
	defer s.Close()

	var sb strings.Builder
	for {
		delta, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(delta)
	}
}
