package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
)

// SyncLedger: in-memory реализация domain.SyncLedger для одного экземпляра сервиса.
type SyncLedger struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewSyncLedger создаёт пустой журнал выгрузок.
func NewSyncLedger() *SyncLedger {
	return &SyncLedger{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Acquire захватывает ключ на ttl. ttl <= 0 означает бессрочно.
func (l *SyncLedger) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expiresAt, ok := l.entries[key]; ok && (expiresAt.IsZero() || now.Before(expiresAt)) {
		return false, nil
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}
	l.entries[key] = expiresAt
	return true, nil
}

// Release снимает отметку.
func (l *SyncLedger) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, key)
	return nil
}

// DeleteExpired удаляет до limit отметок, срок которых истёк к before. Бессрочные отметки не трогает.
func (l *SyncLedger) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	deleted := 0
	for key, expiresAt := range l.entries {
		if limit > 0 && deleted >= limit {
			break
		}
		if expiresAt.IsZero() || expiresAt.After(before) {
			continue
		}
		delete(l.entries, key)
		deleted++
	}
	return deleted, nil
}

var _ domain.SyncLedger = (*SyncLedger)(nil)
