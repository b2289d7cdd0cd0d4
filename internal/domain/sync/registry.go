package sync

import (
	"fmt"
	"sort"
	"sync"
)

// ColumnUpdatedAtSyncTick служебная колонка с тиком последнего изменения строки
const ColumnUpdatedAtSyncTick = "updated_at_sync_tick"

// Model регистрация синхронизируемой таблицы
type Model struct {
	// Table имя таблицы, оно же recordType в изменениях
	Table     string
	Direction Direction
	// ExcludedColumns колонки, которые не покидают базу
	ExcludedColumns []string
}

// Excludes проверяет, исключена ли колонка из передаваемых данных
func (m Model) Excludes(column string) bool {
	if column == ColumnUpdatedAtSyncTick {
		return true
	}
	for _, c := range m.ExcludedColumns {
		if c == column {
			return true
		}
	}
	return false
}

// Registry набор моделей, участвующих в синхронизации
type Registry struct {
	mu     sync.RWMutex
	models map[string]Model
}

func NewRegistry(models ...Model) (*Registry, error) {
	r := &Registry{models: make(map[string]Model, len(models))}
	for _, m := range models {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(m Model) error {
	if m.Table == "" {
		return fmt.Errorf("%w: empty table name", ErrInvalidConfig)
	}
	if !m.Direction.Valid() {
		return fmt.Errorf("%w: model %s has direction %q", ErrInvalidConfig, m.Table, m.Direction)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[m.Table]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, m.Table)
	}
	r.models[m.Table] = m
	return nil
}

func (r *Registry) Get(table string) (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[table]
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrUnknownModel, table)
	}
	return m, nil
}

// ForPush модели, изменения которых отправляются на центральный сервер
func (r *Registry) ForPush() []Model {
	return r.filter(func(d Direction) bool { return d.Pushes() })
}

// ForPull модели, изменения которых принимаются с центрального сервера
func (r *Registry) ForPull() []Model {
	return r.filter(func(d Direction) bool { return d.Pulls() })
}

func (r *Registry) filter(keep func(Direction) bool) []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Model, 0, len(r.models))
	for _, m := range r.models {
		if keep(m.Direction) {
			out = append(out, m)
		}
	}
	// стабильный порядок важен для снимков и логов
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out
}
