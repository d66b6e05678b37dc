package events

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/helixir/paper-review-service/internal/domain"
)

// terminalMarker ends every stream regardless of framing.
const terminalMarker = "data: [DONE]\n\n"

// preFramedRegex matches payload lines that already carry an SSE field prefix.
var preFramedRegex = regexp.MustCompile(`(?m)^\s*(data|event)\s*:`)

// Frame is an accepted event together with its stream position.
type Frame struct {
	Seq       uint64
	Event     domain.Event
	Timestamp time.Time
}

// Framer turns accepted events into wire units. A Framer produces exactly one
// data marker per frame and owns the terminal marker.
type Framer interface {
	// Frame encodes a single event.
	Frame(f Frame) ([]byte, error)

	// Terminal returns the end-of-stream sentinel.
	Terminal() []byte
}

// NewFramer returns the framer for the configured mode ("sse" or "chat_chunk").
func NewFramer(mode, model string) (Framer, error) {
	switch mode {
	case "", "sse":
		return SSEFramer{}, nil
	case "chat_chunk":
		return ChatChunkFramer{Model: model}, nil
	default:
		return nil, fmt.Errorf("unsupported framing mode: %q", mode)
	}
}

// ssePayload is the JSON body of one named server-sent event.
type ssePayload struct {
	Seq       uint64    `json:"seq"`
	Kind      string    `json:"kind"`
	Stage     string    `json:"stage,omitempty"`
	Content   string    `json:"content,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SSEFramer writes each event as a named server-sent event carrying JSON.
type SSEFramer struct{}

// Frame implements Framer.
func (SSEFramer) Frame(f Frame) ([]byte, error) {
	body, err := json.Marshal(ssePayload{
		Seq:       f.Seq,
		Kind:      string(f.Event.Kind),
		Stage:     f.Event.Stage,
		Content:   f.Event.Text,
		Data:      f.Event.Data,
		Timestamp: f.Timestamp.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", f.Event.Kind, err)
	}
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", f.Event.Kind, body), nil
}

// Terminal implements Framer.
func (SSEFramer) Terminal() []byte {
	return []byte(terminalMarker)
}

// chatChunk mirrors the OpenAI streaming chat completion chunk.
type chatChunk struct {
	ID      string            `json:"id,omitempty"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model,omitempty"`
	Kind    string            `json:"kind"`
	Seq     uint64            `json:"seq"`
	Choices []chatChunkChoice `json:"choices"`
}

type chatChunkChoice struct {
	Index int            `json:"index"`
	Delta chatChunkDelta `json:"delta"`
}

type chatChunkDelta struct {
	Content string `json:"content"`
}

// ChatChunkFramer writes every event as a chat.completion.chunk so that
// clients built for OpenAI-style streaming can render progress directly.
// Structured payloads are rendered as JSON text in the delta content.
type ChatChunkFramer struct {
	Model string
}

// Frame implements Framer.
func (c ChatChunkFramer) Frame(f Frame) ([]byte, error) {
	content := f.Event.Text
	if content == "" && f.Event.Data != nil {
		raw, err := json.Marshal(f.Event.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s event: %w", f.Event.Kind, err)
		}
		content = string(raw)
	}

	body, err := json.Marshal(chatChunk{
		ID:      fmt.Sprintf("chunk-%d", f.Seq),
		Object:  "chat.completion.chunk",
		Created: f.Timestamp.Unix(),
		Model:   c.Model,
		Kind:    string(f.Event.Kind),
		Seq:     f.Seq,
		Choices: []chatChunkChoice{{Delta: chatChunkDelta{Content: content}}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chunk: %w", err)
	}
	return fmt.Appendf(nil, "data: %s\n\n", body), nil
}

// Terminal implements Framer.
func (ChatChunkFramer) Terminal() []byte {
	return []byte(terminalMarker)
}

// validateEvent rejects events the stream must never write.
func validateEvent(ev domain.Event) error {
	if !ev.Kind.IsValid() {
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	if preFramedRegex.MatchString(ev.Text) {
		return ErrPreFramed
	}
	if s, ok := ev.Data.(string); ok && preFramedRegex.MatchString(s) {
		return ErrPreFramed
	}
	return nil
}
