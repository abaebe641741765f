package assistant_http

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"campus-assistant/internal/domain"
	"campus-assistant/internal/infra/logger"
)

const identityContextKey = "assistantIdentity"

// RequireIdentity authenticates the bearer token. Unverified identities are
// rejected with 403.
func RequireIdentity(provider domain.IdentityProvider) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
			if !ok {
				return writeError(c, domain.ErrUnauthenticated)
			}

			id, err := provider.Authenticate(c.Request().Context(), strings.TrimSpace(token))
			if err != nil {
				return writeError(c, err)
			}
			if !id.EmailVerified {
				return writeError(c, domain.ErrUnverified)
			}

			c.Set(identityContextKey, id)
			ctx := logger.WithIdentity(c.Request().Context(), id.Key)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// RequireAdmin rejects callers without administrator access with 403. It
// must run after RequireIdentity.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFrom(c)
			if !ok {
				return writeError(c, domain.ErrUnauthenticated)
			}
			if !id.Admin {
				return writeError(c, domain.ErrForbidden)
			}
			return next(c)
		}
	}
}

// IdentityFrom returns the identity attached by RequireIdentity.
func IdentityFrom(c echo.Context) (*domain.Identity, bool) {
	id, ok := c.Get(identityContextKey).(*domain.Identity)
	return id, ok
}

// OTelStatusMiddleware starts a server span per request and sets its status
// from the response code. 5xx responses mark the span as an error.
func OTelStatusMiddleware(serviceName string) echo.MiddlewareFunc {
	tracer := otel.Tracer(serviceName)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))

			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			ctx, span := tracer.Start(ctx, req.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(req.Method),
					semconv.HTTPRoute(route),
				))
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			err := next(c)

			status := c.Response().Status
			span.SetAttributes(semconv.HTTPResponseStatusCode(status))
			if status >= 500 {
				span.SetStatus(codes.Error, http.StatusText(status))
				if err != nil {
					span.RecordError(err)
				}
			}
			return err
		}
	}
}
