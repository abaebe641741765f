// Package sse reads and writes newline-delimited event frames of the
// form "data: <json>\n\n".
package sse

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"campus-assistant/internal/domain"
)

// Reader reads event frames from a stream. It is not safe for concurrent use.
type Reader struct {
	r *bufio.Reader
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the data payload of the next frame. Comment lines and
// fields other than data are skipped. Multiple data lines in one frame
// are joined with a newline. It returns io.EOF when the stream ends.
func (r *Reader) Next() (string, error) {
	var data []string
	hasData := false

	for {
		line, err := r.r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		eof := errors.Is(err, io.EOF)

		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if hasData {
				return strings.Join(data, "\n"), nil
			}
		case strings.HasPrefix(line, ":"):
			// comment or heartbeat
		case strings.HasPrefix(line, "data:"):
			value := strings.TrimPrefix(line, "data:")
			value = strings.TrimPrefix(value, " ")
			data = append(data, value)
			hasData = true
		}

		if eof {
			if hasData {
				return strings.Join(data, "\n"), nil
			}
			return "", io.EOF
		}
	}
}

// NextChunk reads the next frame and decodes it. The "[DONE]" sentinel
// decodes to a DoneChunk. A malformed payload yields a *domain.StreamParseError.
func (r *Reader) NextChunk() (domain.StreamChunk, error) {
	payload, err := r.Next()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(payload) == domain.DoneSentinel {
		return domain.DoneChunk{}, nil
	}
	chunk, err := domain.DecodeStreamChunk([]byte(payload))
	if err != nil {
		return nil, &domain.StreamParseError{Frame: payload, Err: err}
	}
	return chunk, nil
}
