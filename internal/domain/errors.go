package domain

import "errors"

var (
	// Ошибка отсутствующего покупателя.
	ErrCustomerRequired = errors.New("customer is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrLinesRequired = errors.New("order must contain at least one line")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("total must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrLineQtyInvalid = errors.New("line quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrLinePriceInvalid = errors.New("line price must be non-negative")
	// Ошибка отсутствующего SKU у варианта.
	ErrLineSKURequired = errors.New("line sku is required")
	// Ошибка несоответствия суммы заказа и сумм позиций с доставкой.
	ErrAmountMismatch = errors.New("order total does not match lines and shipping sum")
	// Ошибка неизвестного состояния заказа.
	ErrUnknownState = errors.New("unknown order state")
	// Ошибка отрицательной суммы платежа.
	ErrPaymentAmountNegative = errors.New("payment amount must be non-negative")
	// Ошибка отсутствующего платёжного метода.
	ErrPaymentMethodRequired = errors.New("payment method is required")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderCodeConflict: код заказа уже занят (проигранная гонка между проверкой и вставкой).
	ErrOrderCodeConflict = errors.New("order code already taken")
	// ErrInvalidTransition: переход между состояниями заказа запрещён.
	ErrInvalidTransition = errors.New("order state transition is not allowed")
	// ErrCodeGenerationExhausted: все попытки подобрать уникальный код заказа закончились коллизиями.
	ErrCodeGenerationExhausted = errors.New("couldn't generate a unique order code")
	// ErrCheckerRequired: генератор кодов создан без проверки уникальности.
	ErrCheckerRequired = errors.New("order code uniqueness checker is required")
	// ErrCollectionNotFound возвращается, если коллекция каталога не найдена.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrIdempotencyKeyRequired: пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired: пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists: ключ уже использовался с тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch: ключ использовался с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound: ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// IsCodeUnavailable сообщает, что заказу не удалось выдать код: попытки исчерпаны
// или код заняли между проверкой и вставкой. Клиенту имеет смысл повторить запрос.
func IsCodeUnavailable(err error) bool {
	return errors.Is(err, ErrCodeGenerationExhausted) || errors.Is(err, ErrOrderCodeConflict)
}

// IsStateConflict: запрошенный переход недопустим для текущего состояния
// или заказ успели изменить параллельно.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrOrderVersionConflict)
}
