package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/jackc/pgx/v5"
	"golang.org/x/exp/slog"

	"ehrsync/internal/domain/sync"
)

const snapshotSchema = "sync_snapshots"

// SnapshotRepository снимки исходящих изменений и таблицы сессий для входящих
type SnapshotRepository struct {
	db  *Storage
	log *slog.Logger
}

func NewSnapshotRepository(db *Storage, log *slog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		db:  db,
		log: log.With("component", "snapshot_repository"),
	}
}

// SnapshotOutgoingChanges читает все модели в одной транзакции REPEATABLE READ,
// чтобы родительская и дочерняя записи не разошлись по разным снимкам.
func (r *SnapshotRepository) SnapshotOutgoingChanges(ctx context.Context, models []sync.Model, since sync.Tick) ([]sync.Change, error) {
	var changes []sync.Change
	err := r.db.ReadSnapshot(ctx, func(ctx context.Context) error {
		for _, m := range models {
			modelChanges, err := r.snapshotModel(ctx, m, since)
			if err != nil {
				return fmt.Errorf("snapshot %s: %w", m.Table, err)
			}
			changes = append(changes, modelChanges...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Debug("outgoing snapshot taken", "since", since, "changes", len(changes))
	return changes, nil
}

func (r *SnapshotRepository) snapshotModel(ctx context.Context, m sync.Model, since sync.Tick) ([]sync.Change, error) {
	query := fmt.Sprintf(`
		SELECT t.id::text, (to_jsonb(t.*) ->> 'deleted_at') IS NOT NULL, to_jsonb(t.*)
		FROM %s t
		WHERE t.%s > $1
		ORDER BY t.%s, t.id`,
		pgx.Identifier{m.Table}.Sanitize(),
		sync.ColumnUpdatedAtSyncTick,
		sync.ColumnUpdatedAtSyncTick,
	)

	rows, err := r.db.conn(ctx).Query(ctx, query, int64(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sync.Change
	for rows.Next() {
		var (
			id      string
			deleted bool
			raw     []byte
		)
		if err := rows.Scan(&id, &deleted, &raw); err != nil {
			return nil, err
		}
		data, err := sanitizeData(m, raw)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", id, err)
		}
		out = append(out, sync.Change{
			RecordType: m.Table,
			RecordID:   id,
			IsDeleted:  deleted,
			Data:       data,
		})
	}
	return out, rows.Err()
}

// sanitizeData убирает из строки исключенные колонки модели
func sanitizeData(m sync.Model, raw []byte) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	for k := range fields {
		if m.Excludes(k) {
			delete(fields, k)
		}
	}
	return json.Marshal(fields)
}

// snapshotTableName имя таблицы сессии, безопасное для любого sessionID
func snapshotTableName(sessionID string) string {
	var b strings.Builder
	b.WriteString("session_")
	for _, r := range strings.ToLower(sessionID) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func snapshotTable(sessionID string) pgx.Identifier {
	return pgx.Identifier{snapshotSchema, snapshotTableName(sessionID)}
}

// DropAllSnapshotTables удаляет таблицы прерванных прогонов
func (r *SnapshotRepository) DropAllSnapshotTables(ctx context.Context) error {
	schema := pgx.Identifier{snapshotSchema}.Sanitize()
	_, err := r.db.conn(ctx).Exec(ctx,
		fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE; CREATE SCHEMA %s", schema, schema))
	if err != nil {
		return fmt.Errorf("reset snapshot schema: %w", err)
	}
	return nil
}

func (r *SnapshotRepository) CreateSnapshotTable(ctx context.Context, sessionID string) error {
	query := fmt.Sprintf(`
		CREATE SCHEMA IF NOT EXISTS %s;
		CREATE TABLE %s (
			id          BIGSERIAL PRIMARY KEY,
			record_type TEXT    NOT NULL,
			record_id   TEXT    NOT NULL,
			is_deleted  BOOLEAN NOT NULL DEFAULT FALSE,
			data        JSONB   NOT NULL
		);
		CREATE INDEX ON %s (record_type, record_id);`,
		pgx.Identifier{snapshotSchema}.Sanitize(),
		snapshotTable(sessionID).Sanitize(),
		snapshotTable(sessionID).Sanitize(),
	)
	if _, err := r.db.conn(ctx).Exec(ctx, query); err != nil {
		return fmt.Errorf("create snapshot table for %s: %w", sessionID, err)
	}
	return nil
}

func (r *SnapshotRepository) DropSnapshotTable(ctx context.Context, sessionID string) error {
	query := fmt.Sprintf("DROP TABLE IF EXISTS %s", snapshotTable(sessionID).Sanitize())
	if _, err := r.db.conn(ctx).Exec(ctx, query); err != nil {
		return fmt.Errorf("drop snapshot table for %s: %w", sessionID, err)
	}
	return nil
}

func (r *SnapshotRepository) InsertIncomingChanges(ctx context.Context, sessionID string, changes []sync.Change) error {
	if len(changes) == 0 {
		return nil
	}
	_, err := r.db.conn(ctx).CopyFrom(ctx,
		snapshotTable(sessionID),
		[]string{"record_type", "record_id", "is_deleted", "data"},
		pgx.CopyFromSlice(len(changes), func(i int) ([]any, error) {
			c := changes[i]
			return []any{c.RecordType, c.RecordID, c.IsDeleted, c.Data}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy %d incoming changes: %w", len(changes), err)
	}
	return nil
}

// CountRecordsUpdatedAfter считает полученные записи, локальная копия которых
// изменена на тике tick или позже
func (r *SnapshotRepository) CountRecordsUpdatedAfter(ctx context.Context, sessionID string, models []sync.Model, tick sync.Tick) (int, error) {
	total := 0
	for _, m := range models {
		query := fmt.Sprintf(`
			SELECT count(*)
			FROM %s t
			JOIN %s s ON s.record_type = $1 AND s.record_id = t.id::text
			WHERE t.%s >= $2`,
			pgx.Identifier{m.Table}.Sanitize(),
			snapshotTable(sessionID).Sanitize(),
			sync.ColumnUpdatedAtSyncTick,
		)
		var n int
		if err := r.db.conn(ctx).QueryRow(ctx, query, m.Table, int64(tick)).Scan(&n); err != nil {
			return 0, fmt.Errorf("count updated %s: %w", m.Table, err)
		}
		total += n
	}
	return total, nil
}

// SaveIncomingChanges применяет таблицу сессии к рабочим таблицам. Записи помечаются
// как входящие, и триггер ставит им тик -1, поэтому обратно они не отправляются.
func (r *SnapshotRepository) SaveIncomingChanges(ctx context.Context, sessionID string, models []sync.Model) error {
	if _, ok := txFromContext(ctx); !ok {
		return ErrNoTransaction
	}
	q := r.db.conn(ctx)

	if _, err := q.Exec(ctx, `SELECT set_config('sync.applying_incoming', 'on', true)`); err != nil {
		return fmt.Errorf("mark incoming apply: %w", err)
	}

	for _, m := range models {
		columns, err := r.columns(ctx, m)
		if err != nil {
			return err
		}
		tag, err := q.Exec(ctx, upsertFromSnapshotSQL(m.Table, snapshotTable(sessionID), columns), m.Table)
		if err != nil {
			return fmt.Errorf("apply incoming %s: %w", m.Table, err)
		}
		r.log.Debug("incoming changes applied", "table", m.Table, "rows", tag.RowsAffected())
	}

	if _, err := q.Exec(ctx, `SELECT set_config('sync.applying_incoming', 'off', true)`); err != nil {
		return fmt.Errorf("unmark incoming apply: %w", err)
	}
	return nil
}

// columns колонки таблицы, которые переносятся при применении входящих изменений
func (r *SnapshotRepository) columns(ctx context.Context, m sync.Model) ([]string, error) {
	rows, err := r.db.conn(ctx).Query(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`, m.Table)
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", m.Table, err)
	}
	all, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", m.Table, err)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: table %s has no columns", sync.ErrUnknownModel, m.Table)
	}

	out := all[:0]
	for _, c := range all {
		if !m.Excludes(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// upsertFromSnapshotSQL вставляет последнюю версию каждой записи модели из таблицы сессии
func upsertFromSnapshotSQL(table string, snapshot pgx.Identifier, columns []string) string {
	target := pgx.Identifier{table}.Sanitize()

	quoted := make([]string, len(columns))
	selected := make([]string, len(columns))
	var updates []string
	for i, c := range columns {
		quoted[i] = pgx.Identifier{c}.Sanitize()
		selected[i] = "r." + quoted[i]
		if c != "id" {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", quoted[i], quoted[i]))
		}
	}

	conflict := "DO NOTHING"
	if len(updates) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(updates, ", ")
	}

	return fmt.Sprintf(`
		INSERT INTO %s (%s)
		SELECT %s
		FROM (
			SELECT DISTINCT ON (record_id) data
			FROM %s
			WHERE record_type = $1
			ORDER BY record_id, id DESC
		) s, jsonb_populate_record(NULL::%s, s.data) r
		ON CONFLICT (id) %s`,
		target, strings.Join(quoted, ", "),
		strings.Join(selected, ", "),
		snapshot.Sanitize(),
		target,
		conflict,
	)
}
