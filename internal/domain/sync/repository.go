package sync

import (
	"context"
)

// Remote контракт центрального сервера синхронизации
type Remote interface {
	StartSyncSession(ctx context.Context) (*Session, error)
	EndSyncSession(ctx context.Context, sessionID string) error
	// MarkSessionErrored сообщает центральному серверу о локальной ошибке прогона
	MarkSessionErrored(ctx context.Context, sessionID, message string) error

	Push(ctx context.Context, sessionID string, changes []Change, progress PushProgress) error
	CompletePush(ctx context.Context, sessionID string) error

	InitiatePull(ctx context.Context, sessionID string, since Tick) (*PullWindow, error)
	Pull(ctx context.Context, sessionID string, offset, limit int) ([]Change, error)
}

// FactRepository хранилище фактов локальной базы
type FactRepository interface {
	GetTick(ctx context.Context, key string) (Tick, error)
	SetTick(ctx context.Context, key string, tick Tick) error
}

// Transactor управляет транзакциями хранилища. Транзакция передается через контекст.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	// WithDeferredSyncSafeguards выполняет fn с отложенной проверкой внешних ключей
	WithDeferredSyncSafeguards(ctx context.Context, fn func(ctx context.Context) error) error
}

// IncomingStore таблица сессии, куда складываются полученные страницы
type IncomingStore interface {
	InsertIncomingChanges(ctx context.Context, sessionID string, changes []Change) error
}

// SnapshotRepository снимки исходящих изменений и применение входящих
type SnapshotRepository interface {
	IncomingStore

	// SnapshotOutgoingChanges читает изменения моделей с тиком больше since
	SnapshotOutgoingChanges(ctx context.Context, models []Model, since Tick) ([]Change, error)

	DropAllSnapshotTables(ctx context.Context) error
	CreateSnapshotTable(ctx context.Context, sessionID string) error
	DropSnapshotTable(ctx context.Context, sessionID string) error

	// CountRecordsUpdatedAfter считает полученные записи, локальная копия которых
	// изменена на тике tick или позже
	CountRecordsUpdatedAfter(ctx context.Context, sessionID string, models []Model, tick Tick) (int, error)

	// SaveIncomingChanges применяет содержимое таблицы сессии к рабочим таблицам.
	// Вызывается внутри транзакции.
	SaveIncomingChanges(ctx context.Context, sessionID string, models []Model) error
}

// PendingEdits ожидание транзакций, которые пишут строки под прежним тиком
type PendingEdits interface {
	// WaitForPendingEdits возвращается, когда все транзакции, проставившие тик
	// tick, завершились
	WaitForPendingEdits(ctx context.Context, tick Tick, policy WaitPolicy) error
}

// RemoteError ошибка, полученная от центрального сервера. Сессию по ней не
// отмечают: сервер сам вернул ошибку и знает о ней.
type RemoteError interface {
	error
	RemoteStatus() int
}

// Store локальное хранилище учреждения в целом
type Store interface {
	FactRepository
	Transactor
	SnapshotRepository
	PendingEdits
}
