package domain

import (
	"fmt"
	"time"
)

// IdempotencyStatus: стадия обработки запроса с Idempotency-Key.
// processing переходит ровно в одно из конечных состояний: done или failed.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	IdempotencyStatusFailed     IdempotencyStatus = "failed"
)

func (s IdempotencyStatus) Valid() bool {
	return s == IdempotencyStatusProcessing || s.Terminal()
}

// Terminal: запрос завершён, повторная обработка не нужна.
func (s IdempotencyStatus) Terminal() bool {
	return s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// ParseIdempotencyStatus разбирает статус, прочитанный из хранилища.
func ParseIdempotencyStatus(raw string) (IdempotencyStatus, error) {
	status := IdempotencyStatus(raw)
	if !status.Valid() {
		return "", fmt.Errorf("invalid idempotency status %q", raw)
	}
	return status, nil
}

// IdempotencyRecord: сохранённый результат оформления заказа по ключу.
// RequestHash защищает от повторного использования ключа с другим телом.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired: срок хранения вышел к моменту now. Нулевой TTLAt не истекает.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.IsZero() && !r.TTLAt.After(now)
}

// Replayable: сохранённый ответ можно отдать повторно без выполнения запроса.
func (r IdempotencyRecord) Replayable() bool {
	return r.Status.Terminal() && r.HTTPStatus != 0
}
