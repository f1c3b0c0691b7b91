package v1

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	aierrors "github.com/hrygo/marketsense/server/internal/errors"
	"github.com/hrygo/marketsense/server/service/answer"
)

// IdempotencyKeyHeader may carry the idempotency key instead of the body.
const IdempotencyKeyHeader = "Idempotency-Key"

// Chat answers one question.
// POST /api/v1/chat
func (s *APIV1Service) Chat(c echo.Context) error {
	req := &answer.Request{}
	if err := json.NewDecoder(c.Request().Body).Decode(req); err != nil {
		return writeError(c, aierrors.InvalidArgument("request body must be a JSON chat request"))
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.Request().Header.Get(IdempotencyKeyHeader)
	}

	resp, err := s.Answer.Ask(c.Request().Context(), currentUserID(c), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}
