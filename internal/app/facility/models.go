package facility

import (
	"ehrsync/internal/domain/sync"
)

// DefaultModels таблицы учреждения, участвующие в синхронизации
func DefaultModels() (*sync.Registry, error) {
	return sync.NewRegistry(
		sync.Model{Table: "patients", Direction: sync.DirectionBidirectional},
		sync.Model{
			Table:     "encounters",
			Direction: sync.DirectionBidirectional,
			// идентификатор устройства значим только локально
			ExcludedColumns: []string{"device_id"},
		},
		sync.Model{Table: "reference_data", Direction: sync.DirectionPullFromCentral},
	)
}
