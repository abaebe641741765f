package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrSendInProgress       = errors.New("a message is already being sent")
	ErrNothingToRetry       = errors.New("no message to retry")
	ErrEmptyMessage         = errors.New("message is empty")
	ErrSessionNotFound      = errors.New("session not found")
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
	ErrEmptyStream          = errors.New("stream ended without content")
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrUnverified           = errors.New("email address is not verified")
	ErrForbidden            = errors.New("administrator access required")
)

// AdmissionDeniedError is returned when the throttle rejects a request.
type AdmissionDeniedError struct {
	WaitTime time.Duration
}

func (e *AdmissionDeniedError) Error() string {
	return fmt.Sprintf("admission denied, retry in %dms", e.WaitTime.Milliseconds())
}

// UpstreamKind classifies a generation-service failure.
type UpstreamKind int

const (
	UpstreamTransient UpstreamKind = iota
	UpstreamFatal
)

func (k UpstreamKind) String() string {
	if k == UpstreamFatal {
		return "fatal"
	}
	return "transient"
}

// UpstreamError is a failure of the generation service call.
type UpstreamError struct {
	Kind       UpstreamKind
	StatusCode int
	// WaitTime is the upstream's retry hint on 429, zero otherwise.
	WaitTime time.Duration
	Message  string
	Err      error
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s error (status %d): %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("upstream %s error: %s", e.Kind, msg)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// StreamParseError is a malformed event frame.
type StreamParseError struct {
	Frame string
	Err   error
}

func (e *StreamParseError) Error() string {
	return fmt.Sprintf("malformed stream frame: %v", e.Err)
}

func (e *StreamParseError) Unwrap() error { return e.Err }

// StreamAbortedError is an error frame sent by the generation service.
type StreamAbortedError struct {
	Message   string
	Retryable bool
}

func (e *StreamAbortedError) Error() string {
	return "stream aborted: " + e.Message
}

// StorageError is a session or message persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsTransient reports whether the backoff scheduler may retry err.
func IsTransient(err error) bool {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Kind == UpstreamTransient
	}
	return false
}

// IsRetryable is the signal exposed to callers for offering a retry action.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var (
		denied   *AdmissionDeniedError
		upstream *UpstreamError
		parse    *StreamParseError
		aborted  *StreamAbortedError
		storage  *StorageError
	)
	switch {
	case errors.As(err, &denied):
		return true
	case errors.As(err, &upstream):
		return upstream.Kind == UpstreamTransient
	case errors.As(err, &aborted):
		return aborted.Retryable
	case errors.As(err, &parse):
		return true
	case errors.As(err, &storage):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, ErrEmptyStream):
		return true
	}
	return false
}

// UserMessage renders err for display to the end user.
func UserMessage(err error) string {
	var (
		denied   *AdmissionDeniedError
		upstream *UpstreamError
		parse    *StreamParseError
		aborted  *StreamAbortedError
		storage  *StorageError
	)
	switch {
	case errors.As(err, &denied):
		seconds := int(math.Ceil(denied.WaitTime.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		return fmt.Sprintf("Too many requests. Please wait %d seconds before trying again.", seconds)
	case errors.As(err, &upstream):
		if upstream.Kind == UpstreamFatal {
			return "The assistant could not process this request."
		}
		return "The assistant is temporarily unavailable. Please try again in a moment."
	case errors.As(err, &aborted):
		if aborted.Message != "" {
			return aborted.Message
		}
		return "The response was interrupted."
	case errors.As(err, &parse), errors.Is(err, ErrEmptyStream):
		return "The response could not be read. Please try again."
	case errors.As(err, &storage):
		return "Your conversation could not be saved."
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	case errors.Is(err, ErrSendInProgress):
		return "Please wait for the current reply to finish."
	}
	return err.Error()
}
