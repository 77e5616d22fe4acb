// Package redis хранит журнал выгрузок заказов в Redis, чтобы несколько экземпляров
// сервиса не выгружали один заказ дважды.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
)

const defaultKeyPrefix = "shop:crm-sync:"

// Config параметры подключения к Redis.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// SyncLedger реализует domain.SyncLedger поверх SETNX.
type SyncLedger struct {
	client    *goredis.Client
	keyPrefix string
}

// NewSyncLedger подключается к Redis и проверяет соединение.
func NewSyncLedger(ctx context.Context, cfg Config) (*SyncLedger, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewSyncLedgerWithClient(client, cfg.KeyPrefix), nil
}

// NewSyncLedgerWithClient использует уже созданный клиент.
func NewSyncLedgerWithClient(client *goredis.Client, keyPrefix string) *SyncLedger {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &SyncLedger{client: client, keyPrefix: keyPrefix}
}

// Acquire атомарно ставит отметку. ttl <= 0 означает бессрочно.
func (l *SyncLedger) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	ok, err := l.client.SetNX(ctx, l.keyPrefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire sync ledger key %s: %w", key, err)
	}
	return ok, nil
}

// Release снимает отметку.
func (l *SyncLedger) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release sync ledger key %s: %w", key, err)
	}
	return nil
}

// Ping проверяет доступность Redis (используется health-чекером).
func (l *SyncLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close закрывает клиент.
func (l *SyncLedger) Close() error {
	return l.client.Close()
}

var _ domain.SyncLedger = (*SyncLedger)(nil)
