package retailcrm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/shopsync/internal/retry"
)

// Ошибки конфигурации клиента.
var (
	ErrConfigMissingAccountName = errors.New("retailcrm: account name is required")
	ErrConfigMissingAPIKey      = errors.New("retailcrm: api key is required")
)

const (
	defaultTimeout            = 10 * time.Second
	defaultRateLimit          = 10
	defaultBreakerMaxFailures = 5
	defaultBreakerReset       = 30 * time.Second
)

// Config: параметры подключения к RetailCRM API v5.
type Config struct {
	AccountName string
	APIKey      string
	// BaseURL переопределяет https://{account}.retailcrm.ru/api/v5/.
	BaseURL string
	Timeout time.Duration
	// RateLimit: запросов в секунду, Burst, размер пачки.
	RateLimit float64
	Burst     int
	// LogRequests пишет путь и тело каждого запроса на уровне debug.
	LogRequests bool

	Retry              retry.Config
	BreakerMaxFailures int
	BreakerReset       time.Duration
}

// Validate проверяет обязательные поля и проставляет значения по умолчанию.
func (c *Config) Validate() error {
	c.AccountName = strings.TrimSpace(c.AccountName)
	c.APIKey = strings.TrimSpace(c.APIKey)

	if c.AccountName == "" && c.BaseURL == "" {
		return ErrConfigMissingAccountName
	}
	if c.APIKey == "" {
		return ErrConfigMissingAPIKey
	}

	if c.BaseURL == "" {
		c.BaseURL = fmt.Sprintf("https://%s.retailcrm.ru/api/v5/", c.AccountName)
	}
	if !strings.HasSuffix(c.BaseURL, "/") {
		c.BaseURL += "/"
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.RateLimit <= 0 {
		c.RateLimit = defaultRateLimit
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = retry.DefaultConfig()
	}
	if c.BreakerMaxFailures <= 0 {
		c.BreakerMaxFailures = defaultBreakerMaxFailures
	}
	if c.BreakerReset <= 0 {
		c.BreakerReset = defaultBreakerReset
	}
	return nil
}
