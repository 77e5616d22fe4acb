// Package postgres хранит заказы, каталог, outbox и ключи идемпотентности в PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"
)

const opTimeout = 5 * time.Second

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// PoolConfig ограничивает пул соединений database/sql.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// PingTimeout ограничивает проверку соединения при открытии и в Ping.
	PingTimeout time.Duration
}

// DefaultPoolConfig возвращает лимиты пула по умолчанию.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    25,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		PingTimeout:     5 * time.Second,
	}
}

// Option настраивает Store.
type Option func(*Store)

// WithPool задаёт лимиты пула. Нулевые поля берутся из DefaultPoolConfig.
func WithPool(pool PoolConfig) Option {
	return func(s *Store) {
		defaults := DefaultPoolConfig()
		if pool.MaxOpenConns <= 0 {
			pool.MaxOpenConns = defaults.MaxOpenConns
		}
		if pool.MaxIdleConns <= 0 {
			pool.MaxIdleConns = defaults.MaxIdleConns
		}
		if pool.ConnMaxLifetime <= 0 {
			pool.ConnMaxLifetime = defaults.ConnMaxLifetime
		}
		if pool.ConnMaxIdleTime <= 0 {
			pool.ConnMaxIdleTime = defaults.ConnMaxIdleTime
		}
		if pool.PingTimeout <= 0 {
			pool.PingTimeout = defaults.PingTimeout
		}
		s.pool = pool
	}
}

// WithLogger задаёт логгер хранилища и миграций.
func WithLogger(logger *log.Entry) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store оборачивает пул соединений с PostgreSQL.
type Store struct {
	db     *sql.DB
	pool   PoolConfig
	logger *log.Entry
}

func newStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		pool:   DefaultPoolConfig(),
		logger: log.WithField("component", "postgres"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open открывает пул через драйвер pgx и проверяет доступность базы.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	s := newStore(db, opts...)
	db.SetMaxOpenConns(s.pool.MaxOpenConns)
	db.SetMaxIdleConns(s.pool.MaxIdleConns)
	db.SetConnMaxLifetime(s.pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(s.pool.ConnMaxIdleTime)

	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s.logger.WithField("max_open_conns", s.pool.MaxOpenConns).Info("Connected to PostgreSQL")
	return s, nil
}

// NewStoreFromDB оборачивает уже открытое подключение, например sqlmock в тестах.
func NewStoreFromDB(db *sql.DB, opts ...Option) *Store {
	return newStore(db, opts...)
}

// DB возвращает *sql.DB для низкоуровневого доступа.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет соединение. Используется health-чекером storage.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.pool.PingTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema доводит схему до последней версии.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает пул. Повторный вызов и nil-Store безопасны.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
