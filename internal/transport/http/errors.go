package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
	"github.com/vladislavdragonenkov/shopsync/internal/service/orders"
)

// Коды ошибок в теле ответа.
const (
	errCodeBadRequest      = "bad_request"
	errCodeValidation      = "validation_failed"
	errCodeNotFound        = "not_found"
	errCodeConflict        = "conflict"
	errCodeCodeUnavailable = "order_code_unavailable"
	errCodeIdempotency     = "idempotency_conflict"
	errCodeInternal        = "internal"
)

// retryAfterSeconds подсказывает клиенту, когда повторить оформление после исчерпания попыток.
const retryAfterSeconds = "1"

func statusForError(err error) (int, string) {
	var validation *orders.ValidationError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, errCodeValidation
	case errors.Is(err, domain.ErrUnknownState):
		return http.StatusBadRequest, errCodeValidation
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrCollectionNotFound):
		return http.StatusNotFound, errCodeNotFound
	case domain.IsStateConflict(err):
		return http.StatusConflict, errCodeConflict
	case domain.IsCodeUnavailable(err):
		return http.StatusServiceUnavailable, errCodeCodeUnavailable
	default:
		return http.StatusInternalServerError, errCodeInternal
	}
}

// errorBody строит ответ на ошибку. Внутренние ошибки логируются и не раскрываются клиенту.
func (h *Handler) errorBody(c *gin.Context, err error) (int, errorResponse) {
	status, code := statusForError(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		message = "internal error"
	}
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", retryAfterSeconds)
	}
	return status, errorResponse{Code: code, Message: message}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status, body := h.errorBody(c, err)
	c.JSON(status, body)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorResponse{Code: errCodeBadRequest, Message: message})
}
