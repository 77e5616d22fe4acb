package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
	"github.com/vladislavdragonenkov/shopsync/internal/ordercode"
	"github.com/vladislavdragonenkov/shopsync/internal/service/crmsync"
)

// Поддерживаемые хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

const envPrefix = "SHOP"

// Форматы логов.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// CRMConfig: параметры выгрузки заказов в RetailCRM.
type CRMConfig struct {
	Enabled     bool
	AccountName string
	// ShopName: код магазина в CRM, передаётся как site.
	ShopName      string
	APIKey        string
	BaseURL       string
	Timeout       time.Duration
	RateLimit     float64
	LogRequests   bool
	OrderStatus   string
	PaymentStatus string
	CatalogMode   string
	Triggers      []string
	LedgerTTL     time.Duration
}

// Config описывает настройки запуска приложения.
type Config struct {
	LogLevel string
	// LogFormat: text или json.
	LogFormat string

	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresMaxConns    int

	OrderCodeVariant string

	KafkaBrokers        []string
	KafkaTopic          string
	KafkaGroupID        string
	KafkaDLQTopic       string
	KafkaOutboxDLQTopic string
	KafkaMaxRetries     int
	KafkaClientID       string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending: порог очереди outbox, выше которого /healthz отдаёт degraded.
	OutboxMaxPending int
	// OutboxRetention: сколько хранить обработанные сообщения outbox, 0 отключает очистку.
	OutboxRetention time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	CRM CRMConfig

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает настройки по умолчанию: память, без Kafka, Redis и CRM.
func DefaultConfig() Config {
	opts := crmsync.DefaultOptions()
	triggers := make([]string, 0, len(opts.Triggers))
	for _, state := range opts.Triggers {
		triggers = append(triggers, string(state))
	}

	return Config{
		LogLevel:                    "info",
		LogFormat:                   LogFormatText,
		HTTPAddr:                    ":8080",
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		PostgresMaxConns:            25,
		OrderCodeVariant:            ordercode.VariantDigits,
		KafkaTopic:                  "shop.order.events",
		KafkaGroupID:                "shopsync-crm",
		KafkaDLQTopic:               "shop.crm.dlq",
		KafkaOutboxDLQTopic:         "shop.outbox.dlq",
		KafkaMaxRetries:             3,
		KafkaClientID:               "shopsync",
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            100 * time.Millisecond,
		OutboxMaxPending:            1000,
		OutboxRetention:             72 * time.Hour,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Hour,
		IdempotencyCleanupBatchSize: 1000,
		CRM: CRMConfig{
			Timeout:       10 * time.Second,
			RateLimit:     10,
			OrderStatus:   opts.OrderStatus,
			PaymentStatus: opts.PaymentStatus,
			CatalogMode:   opts.CatalogMode,
			Triggers:      triggers,
			LedgerTTL:     opts.LedgerTTL,
		},
		ShutdownTimeout: 5 * time.Second,
	}
}

// LoadConfig читает config.yaml (если есть) и переменные окружения SHOP_*,
// например SHOP_HTTP_ADDR или SHOP_CRM_API_KEY.
func LoadConfig() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/shopsync")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	return configFromViper(v)
}

func configFromViper(v *viper.Viper) (Config, error) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	cfg := Config{
		LogLevel:                    v.GetString("log_level"),
		LogFormat:                   strings.ToLower(strings.TrimSpace(v.GetString("log_format"))),
		HTTPAddr:                    v.GetString("http_addr"),
		GRPCAddr:                    v.GetString("grpc_addr"),
		MetricsAddr:                 v.GetString("metrics_addr"),
		StorageDriver:               strings.ToLower(strings.TrimSpace(v.GetString("storage.driver"))),
		PostgresDSN:                 v.GetString("storage.postgres_dsn"),
		PostgresAutoMigrate:         v.GetBool("storage.auto_migrate"),
		PostgresMaxConns:            v.GetInt("storage.max_conns"),
		OrderCodeVariant:            v.GetString("order_code.variant"),
		KafkaBrokers:                splitList(v.GetStringSlice("kafka.brokers")),
		KafkaTopic:                  v.GetString("kafka.topic"),
		KafkaGroupID:                v.GetString("kafka.group_id"),
		KafkaDLQTopic:               v.GetString("kafka.dlq_topic"),
		KafkaOutboxDLQTopic:         v.GetString("kafka.outbox_dlq_topic"),
		KafkaMaxRetries:             v.GetInt("kafka.max_retries"),
		KafkaClientID:               v.GetString("kafka.client_id"),
		RedisAddr:                   v.GetString("redis.addr"),
		RedisPassword:               v.GetString("redis.password"),
		RedisDB:                     v.GetInt("redis.db"),
		OutboxPollInterval:          v.GetDuration("outbox.poll_interval"),
		OutboxBatchSize:             v.GetInt("outbox.batch_size"),
		OutboxMaxAttempts:           v.GetInt("outbox.max_attempts"),
		OutboxRetryDelay:            v.GetDuration("outbox.retry_delay"),
		OutboxMaxPending:            v.GetInt("outbox.max_pending"),
		OutboxRetention:             v.GetDuration("outbox.retention"),
		IdempotencyTTL:              v.GetDuration("idempotency.ttl"),
		IdempotencyCleanupInterval:  v.GetDuration("idempotency.cleanup_interval"),
		IdempotencyCleanupBatchSize: v.GetInt("idempotency.cleanup_batch_size"),
		CRM: CRMConfig{
			Enabled:       v.GetBool("crm.enabled"),
			AccountName:   v.GetString("crm.account_name"),
			ShopName:      v.GetString("crm.shop_name"),
			APIKey:        v.GetString("crm.api_key"),
			BaseURL:       v.GetString("crm.base_url"),
			Timeout:       v.GetDuration("crm.timeout"),
			RateLimit:     v.GetFloat64("crm.rate_limit"),
			LogRequests:   v.GetBool("crm.log_requests"),
			OrderStatus:   v.GetString("crm.order_status"),
			PaymentStatus: v.GetString("crm.payment_status"),
			CatalogMode:   v.GetString("crm.catalog_mode"),
			Triggers:      splitList(v.GetStringSlice("crm.triggers")),
			LedgerTTL:     v.GetDuration("crm.ledger_ttl"),
		},
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("http_addr", d.HTTPAddr)
	v.SetDefault("grpc_addr", d.GRPCAddr)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("storage.driver", d.StorageDriver)
	v.SetDefault("storage.postgres_dsn", d.PostgresDSN)
	v.SetDefault("storage.auto_migrate", d.PostgresAutoMigrate)
	v.SetDefault("storage.max_conns", d.PostgresMaxConns)
	v.SetDefault("order_code.variant", d.OrderCodeVariant)
	v.SetDefault("kafka.brokers", d.KafkaBrokers)
	v.SetDefault("kafka.topic", d.KafkaTopic)
	v.SetDefault("kafka.group_id", d.KafkaGroupID)
	v.SetDefault("kafka.dlq_topic", d.KafkaDLQTopic)
	v.SetDefault("kafka.outbox_dlq_topic", d.KafkaOutboxDLQTopic)
	v.SetDefault("kafka.max_retries", d.KafkaMaxRetries)
	v.SetDefault("kafka.client_id", d.KafkaClientID)
	v.SetDefault("redis.addr", d.RedisAddr)
	v.SetDefault("redis.password", d.RedisPassword)
	v.SetDefault("redis.db", d.RedisDB)
	v.SetDefault("outbox.poll_interval", d.OutboxPollInterval)
	v.SetDefault("outbox.batch_size", d.OutboxBatchSize)
	v.SetDefault("outbox.max_attempts", d.OutboxMaxAttempts)
	v.SetDefault("outbox.retry_delay", d.OutboxRetryDelay)
	v.SetDefault("outbox.max_pending", d.OutboxMaxPending)
	v.SetDefault("outbox.retention", d.OutboxRetention)
	v.SetDefault("idempotency.ttl", d.IdempotencyTTL)
	v.SetDefault("idempotency.cleanup_interval", d.IdempotencyCleanupInterval)
	v.SetDefault("idempotency.cleanup_batch_size", d.IdempotencyCleanupBatchSize)
	v.SetDefault("crm.enabled", d.CRM.Enabled)
	v.SetDefault("crm.account_name", d.CRM.AccountName)
	v.SetDefault("crm.shop_name", d.CRM.ShopName)
	v.SetDefault("crm.api_key", d.CRM.APIKey)
	v.SetDefault("crm.base_url", d.CRM.BaseURL)
	v.SetDefault("crm.timeout", d.CRM.Timeout)
	v.SetDefault("crm.rate_limit", d.CRM.RateLimit)
	v.SetDefault("crm.log_requests", d.CRM.LogRequests)
	v.SetDefault("crm.order_status", d.CRM.OrderStatus)
	v.SetDefault("crm.payment_status", d.CRM.PaymentStatus)
	v.SetDefault("crm.catalog_mode", d.CRM.CatalogMode)
	v.SetDefault("crm.triggers", d.CRM.Triggers)
	v.SetDefault("crm.ledger_ttl", d.CRM.LedgerTTL)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
}

// splitList раскрывает значения вида "a,b" из переменных окружения.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	switch c.LogFormat {
	case "", LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("unsupported log_format %q", c.LogFormat)
	}

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.New("postgres storage requires storage.postgres_dsn")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}

	if _, err := ordercode.ConfigForVariant(c.OrderCodeVariant); err != nil {
		return err
	}

	if c.CRM.Enabled {
		var missing []string
		if strings.TrimSpace(c.CRM.AccountName) == "" && strings.TrimSpace(c.CRM.BaseURL) == "" {
			missing = append(missing, "crm.account_name")
		}
		if strings.TrimSpace(c.CRM.ShopName) == "" {
			missing = append(missing, "crm.shop_name")
		}
		if strings.TrimSpace(c.CRM.APIKey) == "" {
			missing = append(missing, "crm.api_key")
		}
		if len(missing) > 0 {
			return fmt.Errorf("crm is enabled but %s not set", strings.Join(missing, ", "))
		}
		if _, err := c.crmOptions(); err != nil {
			return err
		}
	}
	return nil
}

// crmOptions собирает параметры выгрузки.
func (c Config) crmOptions() (crmsync.Options, error) {
	opts := crmsync.Options{
		Site:          c.CRM.ShopName,
		OrderStatus:   c.CRM.OrderStatus,
		PaymentStatus: c.CRM.PaymentStatus,
		CatalogMode:   c.CRM.CatalogMode,
		LedgerTTL:     c.CRM.LedgerTTL,
	}
	for _, trigger := range c.CRM.Triggers {
		state := domain.OrderState(trigger)
		if !state.Valid() {
			return crmsync.Options{}, fmt.Errorf("unknown crm trigger state %q", trigger)
		}
		opts.Triggers = append(opts.Triggers, state)
	}
	switch opts.CatalogMode {
	case "", crmsync.CatalogModeCreateMissing, crmsync.CatalogModeBatchEdit:
	default:
		return crmsync.Options{}, fmt.Errorf("unknown crm catalog mode %q", opts.CatalogMode)
	}
	return opts, nil
}
