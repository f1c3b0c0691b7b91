package v1

import (
	"errors"

	"github.com/labstack/echo/v4"

	aierrors "github.com/hrygo/marketsense/server/internal/errors"
	"github.com/hrygo/marketsense/server/internal/observability"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// writeError maps err onto its HTTP status. Causes are logged, never sent.
func writeError(c echo.Context, err error) error {
	code := aierrors.GetCodeFromError(err, aierrors.ErrCodeInternal)
	message := "internal error"
	var aiErr *aierrors.AIError
	if errors.As(err, &aiErr) {
		message = aiErr.Message
	}
	status := aierrors.HTTPStatus(code)

	response := ErrorResponse{Code: string(code), Message: message}
	if reqCtx, ok := observability.FromContext(c.Request().Context()); ok {
		response.RequestID = reqCtx.RequestID
		if status >= 500 {
			reqCtx.Error("request failed", err)
		}
	}
	return c.JSON(status, response)
}
