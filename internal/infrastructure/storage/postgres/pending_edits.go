package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"ehrsync/internal/domain/sync"
)

// tickLocker исключительная блокировка тика
type tickLocker interface {
	LockTickExclusive(ctx context.Context, tick sync.Tick) error
}

// WaitForPendingEdits ждет завершения всех транзакций, которые пометили строки
// тиком tick. Триггер тика держит разделяемую блокировку тика до конца
// транзакции (миграция 000003), поэтому исключительная блокировка выдается
// только после них. Учитываются писатели из любых процессов.
func (s *Storage) WaitForPendingEdits(ctx context.Context, tick sync.Tick, policy sync.WaitPolicy) error {
	return waitForPendingEdits(ctx, poolTickLocker{pool: s.pool}, tick, policy)
}

func waitForPendingEdits(ctx context.Context, l tickLocker, tick sync.Tick, policy sync.WaitPolicy) error {
	if tick < 0 {
		return nil
	}
	return policy.Wait(ctx, func(ctx context.Context) error {
		return l.LockTickExclusive(ctx, tick)
	})
}

// poolTickLocker берет блокировку в отдельной транзакции и сразу ее отпускает.
// Транзакция из контекста не используется: блокировка не должна жить дольше ожидания.
type poolTickLocker struct {
	pool *pgxpool.Pool
}

func (l poolTickLocker) LockTickExclusive(ctx context.Context, tick sync.Tick) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", int64(tick)); err != nil {
		return fmt.Errorf("lock sync tick %d: %w", tick, err)
	}
	return nil
}
