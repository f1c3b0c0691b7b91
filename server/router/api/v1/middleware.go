package v1

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/marketsense/server/auth"
	aierrors "github.com/hrygo/marketsense/server/internal/errors"
	"github.com/hrygo/marketsense/server/internal/observability"
)

const (
	userIDKey = "marketsense.user_id"
	// maxRequestIDLength bounds client supplied request ids.
	maxRequestIDLength = 64
)

// authMiddleware verifies the bearer token and attaches the request
// context carrying the user id.
func (s *APIV1Service) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := auth.ExtractBearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if !ok {
			return writeError(c, aierrors.Unauthorized("missing bearer token"))
		}
		userID, err := auth.ParseAccessToken(token, []byte(s.Secret))
		if err != nil {
			slog.Debug("rejected access token", slog.String("error", err.Error()))
			return writeError(c, aierrors.Unauthorized("invalid bearer token"))
		}

		var reqCtx *observability.RequestContext
		if requestID := c.Request().Header.Get(echo.HeaderXRequestID); requestID != "" && len(requestID) <= maxRequestIDLength {
			reqCtx = observability.NewRequestContextWithID(slog.Default(), requestID, userID)
		} else {
			reqCtx = observability.NewRequestContext(slog.Default(), userID)
		}
		c.Response().Header().Set(echo.HeaderXRequestID, reqCtx.RequestID)
		c.SetRequest(c.Request().WithContext(observability.WithRequestContext(c.Request().Context(), reqCtx)))
		c.Set(userIDKey, userID)
		return next(c)
	}
}

// rateLimitMiddleware applies the per-user token bucket.
func (s *APIV1Service) rateLimitMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.RateLimiter != nil && !s.RateLimiter.Allow(currentUserID(c)) {
			c.Response().Header().Set("Retry-After", "1")
			return writeError(c, aierrors.RateLimitExceeded("too many requests, slow down"))
		}
		return next(c)
	}
}

func (s *APIV1Service) metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.HTTPMetrics == nil {
			return next(c)
		}
		done := s.HTTPMetrics.Begin()
		err := next(c)

		status := c.Response().Status
		if err != nil {
			status = http.StatusInternalServerError
			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				status = httpErr.Code
			}
		}
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		done(route, c.Request().Method, status)
		return err
	}
}

func currentUserID(c echo.Context) string {
	userID, _ := c.Get(userIDKey).(string)
	return userID
}
