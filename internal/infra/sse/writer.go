package sse

import (
	"fmt"
	"io"
	"net/http"

	"campus-assistant/internal/domain"
)

// Writer writes event frames, flushing after each one when the
// underlying writer supports it.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter creates a Writer over w.
func NewWriter(w io.Writer) *Writer {
	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher}
}

// SetHeaders sets the event-stream response headers.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// WriteData writes one data frame.
func (w *Writer) WriteData(payload []byte) error {
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	w.flush()
	return nil
}

// WriteChunk encodes and writes a stream chunk.
func (w *Writer) WriteChunk(chunk domain.StreamChunk) error {
	payload, err := domain.EncodeStreamChunk(chunk)
	if err != nil {
		return err
	}
	return w.WriteData(payload)
}

// WriteDone writes the "[DONE]" sentinel frame.
func (w *Writer) WriteDone() error {
	return w.WriteData([]byte(domain.DoneSentinel))
}

// Heartbeat writes a comment frame to keep the connection open.
func (w *Writer) Heartbeat() error {
	if _, err := io.WriteString(w.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	w.flush()
	return nil
}

func (w *Writer) flush() {
	if w.flusher != nil {
		w.flusher.Flush()
	}
}
