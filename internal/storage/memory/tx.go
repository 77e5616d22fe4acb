package memory

import (
	"context"
	"sync"
)

type txKey struct{}

// txState накапливает откаты изменений, сделанных внутри транзакции.
type txState struct {
	undo []func()
}

func undoFromContext(ctx context.Context, fn func()) {
	if state, ok := ctx.Value(txKey{}).(*txState); ok {
		state.undo = append(state.undo, fn)
	}
}

// Transactor сериализует транзакции in-memory хранилища и откатывает их изменения при ошибке.
type Transactor struct {
	mu sync.Mutex
}

// NewTransactor создаёт in-memory реализацию domain.Transactor.
func NewTransactor() *Transactor {
	return &Transactor{}
}

// WithinTx выполняет fn эксклюзивно. Если fn вернула ошибку, изменения репозиториев откатываются.
// Вложенный вызов переиспользует внешнюю транзакцию.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, nested := ctx.Value(txKey{}).(*txState); nested {
		return fn(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state := &txState{}
	defer func() {
		if p := recover(); p != nil {
			state.rollback()
			panic(p)
		}
		if err != nil {
			state.rollback()
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, state))
}

func (s *txState) rollback() {
	for i := len(s.undo) - 1; i >= 0; i-- {
		s.undo[i]()
	}
	s.undo = nil
}
