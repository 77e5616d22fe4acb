// Package ordercode выдаёт короткие коды заказов вида R042917 с проверкой уникальности.
package ordercode

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
	"github.com/vladislavdragonenkov/shopsync/internal/metrics"
)

// CodeChecker считает заказы с указанным кодом.
// Вызов выполняется с контекстом, в котором открыта транзакция сохранения заказа.
type CodeChecker interface {
	CountByCode(ctx context.Context, code string) (int, error)
}

// Generator выдаёт коды заказов. Безопасен для конкурентного использования.
type Generator struct {
	checker  CodeChecker
	cfg      Config
	alphabet []rune
	random   RandomSource
	logger   *log.Entry
	metrics  *metrics.CodeMetrics
}

// Option настраивает Generator.
type Option func(*Generator)

// WithRandomSource подменяет источник случайности (crypto/rand по умолчанию).
func WithRandomSource(source RandomSource) Option {
	return func(g *Generator) {
		if source != nil {
			g.random = source
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics включает метрики коллизий.
func WithMetrics(m *metrics.CodeMetrics) Option {
	return func(g *Generator) {
		g.metrics = m
	}
}

// NewGenerator создаёт генератор. checker обязателен.
func NewGenerator(checker CodeChecker, cfg Config, opts ...Option) (*Generator, error) {
	if checker == nil {
		return nil, domain.ErrCheckerRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid order code config: %w", err)
	}

	g := &Generator{
		checker:  checker,
		cfg:      cfg,
		alphabet: []rune(cfg.Alphabet),
		random:   cryptoSource{},
		logger:   log.WithField("component", "order-code-generator"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Config возвращает конфигурацию генератора.
func (g *Generator) Config() Config {
	return g.cfg
}

// Generate возвращает код, которого ещё нет ни у одного заказа.
// После MaxAttempts коллизий подряд возвращает domain.ErrCodeGenerationExhausted.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		candidate, err := g.Candidate()
		if err != nil {
			return "", err
		}

		count, err := g.checker.CountByCode(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check order code %s: %w", candidate, err)
		}
		if count == 0 {
			g.metrics.RecordGenerated(attempt)
			return candidate, nil
		}

		g.metrics.RecordCollision()
		g.logger.WithFields(log.Fields{
			"code":    candidate,
			"attempt": attempt,
		}).Warn("Generated an already existing order code")
	}

	g.metrics.RecordExhausted(g.cfg.MaxAttempts)
	g.logger.WithField("attempts", g.cfg.MaxAttempts).Error("order code generation exhausted")
	return "", domain.ErrCodeGenerationExhausted
}

// Candidate возвращает код правильной формы без проверки уникальности.
func (g *Generator) Candidate() (string, error) {
	var b strings.Builder
	b.Grow(len(g.cfg.Prefix) + g.cfg.Length)
	b.WriteString(g.cfg.Prefix)

	for i := 0; i < g.cfg.Length; i++ {
		idx, err := g.random.Intn(len(g.alphabet))
		if err != nil {
			return "", fmt.Errorf("draw random symbol: %w", err)
		}
		b.WriteRune(g.alphabet[idx])
	}
	return b.String(), nil
}
