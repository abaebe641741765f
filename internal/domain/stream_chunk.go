package domain

import (
	"encoding/json"
	"fmt"
)

// DoneSentinel is the data payload that terminates a generation stream.
const DoneSentinel = "[DONE]"

// ChunkKind tags a StreamChunk variant on the wire.
type ChunkKind string

const (
	ChunkKindContent ChunkKind = "content"
	ChunkKindSources ChunkKind = "sources"
	ChunkKindError   ChunkKind = "error"
	ChunkKindDone    ChunkKind = "done"
)

// StreamChunk is one decoded frame of a generation stream. The set of
// implementations is closed: ContentChunk, SourcesChunk, ErrorChunk, DoneChunk.
type StreamChunk interface {
	Kind() ChunkKind
	sealed()
}

// ContentChunk carries token text for the in-progress assistant message.
type ContentChunk struct {
	Text string
}

// SourcesChunk carries the citations for the reply.
type SourcesChunk struct {
	Sources []Source
}

// ErrorChunk aborts the stream.
type ErrorChunk struct {
	Message string
	// Retryable is nil when the upstream did not say.
	Retryable *bool
}

// DoneChunk ends the stream.
type DoneChunk struct{}

func (ContentChunk) Kind() ChunkKind { return ChunkKindContent }
func (SourcesChunk) Kind() ChunkKind { return ChunkKindSources }
func (ErrorChunk) Kind() ChunkKind   { return ChunkKindError }
func (DoneChunk) Kind() ChunkKind    { return ChunkKindDone }

func (ContentChunk) sealed() {}
func (SourcesChunk) sealed() {}
func (ErrorChunk) sealed()   {}
func (DoneChunk) sealed()    {}

// IsRetryable reports the upstream hint, defaulting to false.
func (c ErrorChunk) IsRetryable() bool {
	return c.Retryable != nil && *c.Retryable
}

type wireChunk struct {
	Type      ChunkKind       `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Retryable *bool           `json:"retryable,omitempty"`
}

// DecodeStreamChunk decodes the data payload of one frame.
func DecodeStreamChunk(payload []byte) (StreamChunk, error) {
	if string(payload) == DoneSentinel {
		return DoneChunk{}, nil
	}

	var w wireChunk
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("invalid frame json: %w", err)
	}

	switch w.Type {
	case ChunkKindContent:
		var text string
		if err := json.Unmarshal(w.Data, &text); err != nil {
			return nil, fmt.Errorf("invalid content data: %w", err)
		}
		return ContentChunk{Text: text}, nil
	case ChunkKindSources:
		var sources []Source
		if len(w.Data) > 0 {
			if err := json.Unmarshal(w.Data, &sources); err != nil {
				return nil, fmt.Errorf("invalid sources data: %w", err)
			}
		}
		return SourcesChunk{Sources: sources}, nil
	case ChunkKindError:
		var msg string
		if len(w.Data) > 0 {
			if err := json.Unmarshal(w.Data, &msg); err != nil {
				return nil, fmt.Errorf("invalid error data: %w", err)
			}
		}
		return ErrorChunk{Message: msg, Retryable: w.Retryable}, nil
	case ChunkKindDone:
		return DoneChunk{}, nil
	default:
		return nil, fmt.Errorf("unknown frame type %q", w.Type)
	}
}

// EncodeStreamChunk renders the chunk as a frame data payload.
func EncodeStreamChunk(chunk StreamChunk) ([]byte, error) {
	w := wireChunk{Type: chunk.Kind()}

	var data any
	switch c := chunk.(type) {
	case ContentChunk:
		data = c.Text
	case SourcesChunk:
		sources := c.Sources
		if sources == nil {
			sources = []Source{}
		}
		data = sources
	case ErrorChunk:
		data = c.Message
		w.Retryable = c.Retryable
	case DoneChunk:
	default:
		return nil, fmt.Errorf("unsupported chunk %T", chunk)
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		w.Data = raw
	}
	return json.Marshal(w)
}
