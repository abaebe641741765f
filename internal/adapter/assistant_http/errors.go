package assistant_http

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"campus-assistant/internal/domain"
)

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
	// WaitTime is set on 429, in milliseconds.
	WaitTime int64 `json:"waitTime,omitempty"`
}

func statusFor(err error) int {
	var (
		denied     *domain.AdmissionDeniedError
		upstream   *domain.UpstreamError
		parse      *domain.StreamParseError
		aborted    *domain.StreamAbortedError
		storage    *domain.StorageError
		validation validator.ValidationErrors
		httpErr    *echo.HTTPError
	)
	switch {
	case errors.As(err, &denied):
		return http.StatusTooManyRequests
	case errors.As(err, &upstream):
		if upstream.Kind == domain.UpstreamFatal {
			return http.StatusBadGateway
		}
		return http.StatusServiceUnavailable
	case errors.As(err, &parse), errors.As(err, &aborted):
		return http.StatusBadGateway
	case errors.As(err, &storage):
		return http.StatusInternalServerError
	case errors.As(err, &validation), errors.Is(err, domain.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.As(err, &httpErr):
		return httpErr.Code
	case errors.Is(err, domain.ErrSendInProgress), errors.Is(err, domain.ErrNothingToRetry):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrUnverified), errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrEmptyStream):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

// writeError renders err as {error, retryable}.
func writeError(c echo.Context, err error) error {
	status := statusFor(err)
	body := errorResponse{
		Error:     messageFor(err),
		Retryable: domain.IsRetryable(err),
	}

	var denied *domain.AdmissionDeniedError
	if errors.As(err, &denied) {
		body.WaitTime = denied.WaitTime.Milliseconds()
		seconds := int(math.Ceil(denied.WaitTime.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	return c.JSON(status, body)
}

func messageFor(err error) string {
	var (
		validation validator.ValidationErrors
		httpErr    *echo.HTTPError
	)
	switch {
	case errors.As(err, &validation):
		fields := make([]string, 0, len(validation))
		for _, fe := range validation {
			fields = append(fields, fe.Field()+": "+fe.Tag())
		}
		return "invalid request: " + strings.Join(fields, ", ")
	case errors.As(err, &httpErr):
		if msg, ok := httpErr.Message.(string); ok {
			return msg
		}
		return http.StatusText(httpErr.Code)
	case errors.Is(err, domain.ErrUnauthenticated):
		return "authentication required"
	case errors.Is(err, domain.ErrUnverified), errors.Is(err, domain.ErrForbidden):
		return err.Error()
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrEmptyMessage), errors.Is(err, domain.ErrNothingToRetry):
		return err.Error()
	}
	return domain.UserMessage(err)
}
