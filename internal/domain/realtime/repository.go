package realtime

import "context"

type Repository interface {
	// InTx выполняет fn в транзакции, переданной через контекст
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	// Lock блокирует запись до конца транзакции, в том числе еще не созданную
	Lock(ctx context.Context, recordType, id string) error

	// Find возвращает ErrNotFound, если записи нет
	Find(ctx context.Context, recordType, id string) (*Record, error)
	Save(ctx context.Context, recordType string, record Record) error
	Delete(ctx context.Context, recordType, id string) error
}
