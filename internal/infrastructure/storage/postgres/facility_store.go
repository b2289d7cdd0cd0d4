package postgres

import (
	"golang.org/x/exp/slog"

	"ehrsync/internal/domain/sync"
)

// FacilityStore хранилище учреждения для менеджера синхронизации
type FacilityStore struct {
	*Storage
	*FactRepository
	*SnapshotRepository
}

var _ sync.Store = (*FacilityStore)(nil)

func NewFacilityStore(db *Storage, log *slog.Logger) *FacilityStore {
	return &FacilityStore{
		Storage:            db,
		FactRepository:     NewFactRepository(db),
		SnapshotRepository: NewSnapshotRepository(db, log),
	}
}
