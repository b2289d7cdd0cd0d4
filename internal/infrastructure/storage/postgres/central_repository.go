package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/exp/slog"

	"ehrsync/internal/domain/central"
	"ehrsync/internal/domain/sync"
)

// CentralRepository журнал изменений и сессии центрального сервера
type CentralRepository struct {
	db  *Storage
	log *slog.Logger
}

var _ central.Repository = (*CentralRepository)(nil)

func NewCentralRepository(db *Storage, log *slog.Logger) *CentralRepository {
	return &CentralRepository{
		db:  db,
		log: log.With("component", "central_repository"),
	}
}

func (r *CentralRepository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.InTx(ctx, fn)
}

func (r *CentralRepository) TickTock(ctx context.Context) (sync.Tick, sync.Tick, error) {
	var tock int64
	err := r.db.conn(ctx).QueryRow(ctx, `
		UPDATE local_system_facts
		SET value = (value::bigint + 2)::text
		WHERE key = $1
		RETURNING value::bigint`, sync.FactCurrentSyncTick).Scan(&tock)
	if err != nil {
		return sync.NoTick, sync.NoTick, fmt.Errorf("tick tock: %w", err)
	}
	return sync.Tick(tock - 1), sync.Tick(tock), nil
}

func (r *CentralRepository) CreateSession(ctx context.Context, s *central.Session) error {
	_, err := r.db.conn(ctx).Exec(ctx, `
		INSERT INTO sync_sessions (id, start_time, last_connection_time, started_at_tick, pull_since, pull_until)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.StartTime, s.LastConnectionTime,
		int64(s.StartedAtTick), int64(s.PullSince), int64(s.PullUntil),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *CentralRepository) GetSession(ctx context.Context, id string) (*central.Session, error) {
	var (
		s                  central.Session
		started, since, to int64
	)
	err := r.db.conn(ctx).QueryRow(ctx, `
		SELECT id, start_time, last_connection_time, started_at_tick, pull_since, pull_until,
		       persist_completed_at, completed_at, errors
		FROM sync_sessions
		WHERE id = $1`, id).Scan(
		&s.ID,
		&s.StartTime,
		&s.LastConnectionTime,
		&started,
		&since,
		&to,
		&s.PersistCompletedAt,
		&s.CompletedAt,
		&s.Errors,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", central.ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	s.StartedAtTick, s.PullSince, s.PullUntil = sync.Tick(started), sync.Tick(since), sync.Tick(to)
	return &s, nil
}

// updateSession выполняет UPDATE одной сессии и сообщает, если ее нет
func (r *CentralRepository) updateSession(ctx context.Context, id, query string, args ...any) error {
	tag, err := r.db.conn(ctx).Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", central.ErrSessionNotFound, id)
	}
	return nil
}

func (r *CentralRepository) TouchSession(ctx context.Context, id string, at time.Time) error {
	return r.updateSession(ctx, id,
		`UPDATE sync_sessions SET last_connection_time = $2 WHERE id = $1`, at)
}

func (r *CentralRepository) CompleteSession(ctx context.Context, id string, at time.Time) error {
	return r.updateSession(ctx, id,
		`UPDATE sync_sessions SET completed_at = $2 WHERE id = $1`, at)
}

func (r *CentralRepository) MarkSessionErrored(ctx context.Context, id, message string) error {
	return r.updateSession(ctx, id,
		`UPDATE sync_sessions SET errors = array_append(errors, $2) WHERE id = $1`, message)
}

func (r *CentralRepository) SetPullWindow(ctx context.Context, id string, since, until sync.Tick) error {
	return r.updateSession(ctx, id,
		`UPDATE sync_sessions SET pull_since = $2, pull_until = $3 WHERE id = $1`,
		int64(since), int64(until))
}

func (r *CentralRepository) SetPersistCompleted(ctx context.Context, id string, at time.Time) error {
	return r.updateSession(ctx, id,
		`UPDATE sync_sessions SET persist_completed_at = $2 WHERE id = $1`, at)
}

func (r *CentralRepository) DeleteLapsedSessions(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.db.conn(ctx).Exec(ctx, `
		DELETE FROM sync_sessions
		WHERE completed_at IS NULL AND last_connection_time < $1`, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *CentralRepository) InsertIncomingChanges(ctx context.Context, sessionID string, changes []sync.Change) error {
	if len(changes) == 0 {
		return nil
	}

	const query = `
		INSERT INTO sync_session_records (session_id, direction, record_type, record_id, is_deleted, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, direction, record_type, record_id)
		DO UPDATE SET is_deleted = EXCLUDED.is_deleted, data = EXCLUDED.data`

	batch := &pgx.Batch{}
	for _, c := range changes {
		batch.Queue(query, sessionID, string(sync.ChangeIncoming), c.RecordType, c.RecordID, c.IsDeleted, c.Data)
	}

	br := r.db.conn(ctx).SendBatch(ctx, batch)
	for i := range changes {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert change %s/%s: %w", changes[i].RecordType, changes[i].RecordID, err)
		}
	}
	return br.Close()
}

func (r *CentralRepository) PersistIncomingChanges(ctx context.Context, sessionID string, tock sync.Tick) (int, error) {
	tag, err := r.db.conn(ctx).Exec(ctx, `
		INSERT INTO sync_changes (record_type, record_id, is_deleted, data, updated_at_sync_tick, last_session_id)
		SELECT record_type, record_id, is_deleted, data, $2::bigint, session_id
		FROM sync_session_records
		WHERE session_id = $1 AND direction = $3
		ON CONFLICT (record_type, record_id) DO UPDATE SET
			is_deleted = EXCLUDED.is_deleted,
			data = EXCLUDED.data,
			updated_at_sync_tick = EXCLUDED.updated_at_sync_tick,
			last_session_id = EXCLUDED.last_session_id`,
		sessionID, int64(tock), string(sync.ChangeIncoming))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *CentralRepository) SnapshotOutgoingChanges(ctx context.Context, sessionID string, since, until sync.Tick) (int, error) {
	q := r.db.conn(ctx)
	if _, err := q.Exec(ctx,
		`DELETE FROM sync_session_records WHERE session_id = $1 AND direction = $2`,
		sessionID, string(sync.ChangeOutgoing)); err != nil {
		return 0, fmt.Errorf("clear previous snapshot: %w", err)
	}

	tag, err := q.Exec(ctx, `
		INSERT INTO sync_session_records (session_id, direction, record_type, record_id, is_deleted, data)
		SELECT $1::text, $2::text, record_type, record_id, is_deleted, data
		FROM sync_changes
		WHERE updated_at_sync_tick > $3 AND updated_at_sync_tick <= $4
		  AND last_session_id IS DISTINCT FROM $1::text
		ORDER BY updated_at_sync_tick, record_type, record_id`,
		sessionID, string(sync.ChangeOutgoing), int64(since), int64(until))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *CentralRepository) FetchOutgoingChanges(ctx context.Context, sessionID string, offset, limit int) ([]sync.Change, error) {
	rows, err := r.db.conn(ctx).Query(ctx, `
		SELECT record_type, record_id, is_deleted, data
		FROM sync_session_records
		WHERE session_id = $1 AND direction = $2
		ORDER BY seq
		OFFSET $3 LIMIT $4`,
		sessionID, string(sync.ChangeOutgoing), offset, limit)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (sync.Change, error) {
		var c sync.Change
		err := row.Scan(&c.RecordType, &c.RecordID, &c.IsDeleted, &c.Data)
		return c, err
	})
}

func (r *CentralRepository) DeleteSessionChanges(ctx context.Context, sessionID string) error {
	_, err := r.db.conn(ctx).Exec(ctx,
		`DELETE FROM sync_session_records WHERE session_id = $1`, sessionID)
	return err
}
