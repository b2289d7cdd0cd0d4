package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"ehrsync/internal/domain/realtime"
)

// RealtimeRepository записи канала реального времени
type RealtimeRepository struct {
	db *Storage
}

var _ realtime.Repository = (*RealtimeRepository)(nil)

func NewRealtimeRepository(db *Storage) *RealtimeRepository {
	return &RealtimeRepository{db: db}
}

func (r *RealtimeRepository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.InTx(ctx, fn)
}

// Lock берет advisory-блокировку записи до конца транзакции. Строки может еще
// не быть, поэтому SELECT ... FOR UPDATE здесь не подходит.
func (r *RealtimeRepository) Lock(ctx context.Context, recordType, id string) error {
	tx, ok := txFromContext(ctx)
	if !ok {
		return ErrNoTransaction
	}
	if _, err := tx.Exec(ctx, realtimeLockSQL, recordType, id); err != nil {
		return fmt.Errorf("lock %s/%s: %w", recordType, id, err)
	}
	return nil
}

const realtimeLockSQL = `SELECT pg_advisory_xact_lock(hashtextextended('realtime_records/' || $1 || '/' || $2, 0))`

func (r *RealtimeRepository) Find(ctx context.Context, recordType, id string) (*realtime.Record, error) {
	rec := realtime.Record{ID: id}
	err := r.db.conn(ctx).QueryRow(ctx, `
		SELECT fields, modified
		FROM realtime_records
		WHERE record_type = $1 AND id = $2
		FOR UPDATE`, recordType, id).Scan(&rec.Fields, &rec.Modified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, realtime.ErrNotFound
		}
		return nil, fmt.Errorf("find %s/%s: %w", recordType, id, err)
	}
	return &rec, nil
}

func (r *RealtimeRepository) Save(ctx context.Context, recordType string, rec realtime.Record) error {
	modified := rec.Modified
	if modified == nil {
		modified = map[string]int64{}
	}
	_, err := r.db.conn(ctx).Exec(ctx, `
		INSERT INTO realtime_records (record_type, id, fields, modified)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (record_type, id) DO UPDATE SET
			fields = EXCLUDED.fields,
			modified = EXCLUDED.modified`,
		recordType, rec.ID, rec.Fields, modified)
	if err != nil {
		return fmt.Errorf("save %s/%s: %w", recordType, rec.ID, err)
	}
	return nil
}

func (r *RealtimeRepository) Delete(ctx context.Context, recordType, id string) error {
	tag, err := r.db.conn(ctx).Exec(ctx,
		`DELETE FROM realtime_records WHERE record_type = $1 AND id = $2`, recordType, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", recordType, id, err)
	}
	if tag.RowsAffected() == 0 {
		return realtime.ErrNotFound
	}
	return nil
}
