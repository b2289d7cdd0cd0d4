package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"ehrsync/internal/domain/sync"
)

// FactRepository курсоры синхронизации в local_system_facts
type FactRepository struct {
	db *Storage
}

func NewFactRepository(db *Storage) *FactRepository {
	return &FactRepository{db: db}
}

func (r *FactRepository) GetTick(ctx context.Context, key string) (sync.Tick, error) {
	var value *string
	err := r.db.conn(ctx).QueryRow(ctx,
		`SELECT value FROM local_system_facts WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sync.NoTick, nil
		}
		return sync.NoTick, fmt.Errorf("get fact %s: %w", key, err)
	}
	if value == nil {
		return sync.NoTick, nil
	}
	return sync.ParseTick(*value)
}

func (r *FactRepository) SetTick(ctx context.Context, key string, tick sync.Tick) error {
	_, err := r.db.conn(ctx).Exec(ctx,
		`INSERT INTO local_system_facts (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, tick.String())
	if err != nil {
		return fmt.Errorf("set fact %s: %w", key, err)
	}
	return nil
}
