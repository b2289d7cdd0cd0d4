package central

import (
	"context"
	"time"

	"ehrsync/internal/domain/sync"
)

// Repository хранилище центрального сервера
type Repository interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	// TickTock сдвигает глобальные часы на два и возвращает оба значения:
	// tick уникален для запросившего, tock получают изменения, сделанные после.
	TickTock(ctx context.Context) (tick, tock sync.Tick, err error)

	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	CompleteSession(ctx context.Context, id string, at time.Time) error
	MarkSessionErrored(ctx context.Context, id, message string) error
	SetPullWindow(ctx context.Context, id string, since, until sync.Tick) error
	SetPersistCompleted(ctx context.Context, id string, at time.Time) error
	// DeleteLapsedSessions удаляет незавершенные сессии без подключений с before
	DeleteLapsedSessions(ctx context.Context, before time.Time) (int, error)

	// InsertIncomingChanges складывает страницу отправки сессии, повтор записи заменяет прежнюю
	InsertIncomingChanges(ctx context.Context, sessionID string, changes []sync.Change) error
	// PersistIncomingChanges переносит отправленные изменения в журнал с тиком tock
	PersistIncomingChanges(ctx context.Context, sessionID string, tock sync.Tick) (int, error)
	// SnapshotOutgoingChanges фиксирует окно изменений (since, until] для сессии,
	// исключая изменения, пришедшие от нее самой
	SnapshotOutgoingChanges(ctx context.Context, sessionID string, since, until sync.Tick) (int, error)
	FetchOutgoingChanges(ctx context.Context, sessionID string, offset, limit int) ([]sync.Change, error)
	DeleteSessionChanges(ctx context.Context, sessionID string) error
}
