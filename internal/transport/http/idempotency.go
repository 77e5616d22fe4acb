package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
)

const (
	idempotencyKeyHeader      = "Idempotency-Key"
	idempotencyReplayedHeader = "Idempotent-Replayed"
	defaultIdempotencyTTL     = 24 * time.Hour
	jsonContentType           = "application/json; charset=utf-8"
)

// handlerFunc выполняет запрос и возвращает HTTP статус и тело успешного ответа.
type handlerFunc func() (int, any, error)

// withIdempotency выполняет run не больше одного раза на Idempotency-Key.
// Повтор с тем же ключом и телом получает сохранённый ответ, с другим телом: 422.
// Без заголовка запрос выполняется как обычно.
func (h *Handler) withIdempotency(c *gin.Context, scope string, payload any, run handlerFunc) {
	key := strings.TrimSpace(c.GetHeader(idempotencyKeyHeader))
	if h.idempotency == nil || key == "" {
		status, body, err := run()
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(status, body)
		return
	}

	logger := h.logger.WithField("idempotency_key", key)

	hash, err := requestHash(scope, payload)
	if err != nil {
		logger.WithError(err).Warn("failed to build idempotency request hash")
		c.JSON(http.StatusInternalServerError, errorResponse{Code: errCodeInternal, Message: "failed to initialize idempotency request"})
		return
	}

	ctx := c.Request.Context()
	record, err := h.idempotency.CreateProcessing(ctx, key, hash, h.now().Add(h.idempotencyTTL))
	if err != nil {
		h.replay(c, err, record)
		return
	}

	status, body, runErr := run()
	if runErr != nil {
		var errBody errorResponse
		status, errBody = h.errorBody(c, runErr)
		data, _ := json.Marshal(errBody)
		if status == http.StatusServiceUnavailable {
			// 503 приглашает повторить запрос с тем же ключом, поэтому ответ не кэшируется
			if err := h.idempotency.Release(ctx, key); err != nil {
				logger.WithError(err).Warn("failed to release idempotency key")
			}
		} else if err := h.idempotency.MarkFailed(ctx, key, data, status); err != nil {
			logger.WithError(err).Warn("failed to store idempotency failure response")
		}
		c.Data(status, jsonContentType, data)
		return
	}

	data, err := json.Marshal(body)
	if err != nil {
		logger.WithError(err).Error("failed to encode response")
		c.JSON(http.StatusInternalServerError, errorResponse{Code: errCodeInternal, Message: "internal error"})
		return
	}
	if err := h.idempotency.MarkDone(ctx, key, data, status); err != nil {
		logger.WithError(err).Warn("failed to store idempotent success response")
	}
	c.Data(status, jsonContentType, data)
}

func (h *Handler) replay(c *gin.Context, createErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		c.JSON(http.StatusUnprocessableEntity, errorResponse{
			Code:    errCodeIdempotency,
			Message: "idempotency key is already used with different request payload",
		})
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		if !record.Replayable() {
			c.JSON(http.StatusConflict, errorResponse{
				Code:    errCodeIdempotency,
				Message: "request with the same idempotency key is already processing",
			})
			return
		}
		c.Header(idempotencyReplayedHeader, "true")
		c.Data(record.HTTPStatus, jsonContentType, record.ResponseBody)
	default:
		h.logger.WithError(createErr).Warn("failed to create idempotency record")
		c.JSON(http.StatusInternalServerError, errorResponse{Code: errCodeInternal, Message: "failed to initialize idempotency request"})
	}
}

func requestHash(scope string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	buf := make([]byte, 0, len(scope)+1+len(data))
	buf = append(buf, scope...)
	buf = append(buf, ':')
	buf = append(buf, data...)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}
