package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// constraintSwitch переключает режим проверки ограничений в текущей транзакции
type constraintSwitch interface {
	DeferrableImmediate(ctx context.Context) ([]string, error)
	SetConstraints(ctx context.Context, names []string, mode string) error
}

const (
	constraintsDeferred  = "DEFERRED"
	constraintsImmediate = "IMMEDIATE"
)

// WithDeferredSyncSafeguards откладывает до коммита проверку внешних ключей, которые
// объявлены DEFERRABLE, но сейчас проверяются немедленно. Так записи, ссылающиеся
// друг на друга, можно вставлять в любом порядке. Требует транзакцию в контексте.
func (s *Storage) WithDeferredSyncSafeguards(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, ok := txFromContext(ctx)
	if !ok {
		return ErrNoTransaction
	}
	return withDeferredConstraints(ctx, txConstraints{tx: tx}, fn)
}

func withDeferredConstraints(ctx context.Context, c constraintSwitch, fn func(ctx context.Context) error) error {
	names, err := c.DeferrableImmediate(ctx)
	if err != nil {
		return fmt.Errorf("list deferrable constraints: %w", err)
	}
	if len(names) == 0 {
		return fn(ctx)
	}

	if err := c.SetConstraints(ctx, names, constraintsDeferred); err != nil {
		return fmt.Errorf("defer constraints: %w", err)
	}

	opErr := fn(ctx)
	resetErr := c.SetConstraints(ctx, names, constraintsImmediate)
	if opErr != nil {
		// транзакция все равно откатится, ошибка сброса вторична
		return opErr
	}
	if resetErr != nil {
		return fmt.Errorf("check deferred constraints: %w", resetErr)
	}
	return nil
}

type txConstraints struct {
	tx pgx.Tx
}

func (c txConstraints) DeferrableImmediate(ctx context.Context) ([]string, error) {
	const query = `
		SELECT format('%I.%I', n.nspname, c.conname)
		FROM pg_constraint c
		JOIN pg_namespace n ON n.oid = c.connamespace
		WHERE c.contype = 'f' AND c.condeferrable AND NOT c.condeferred
		ORDER BY 1`

	rows, err := c.tx.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (c txConstraints) SetConstraints(ctx context.Context, names []string, mode string) error {
	_, err := c.tx.Exec(ctx, setConstraintsSQL(names, mode))
	return err
}

// names уже экранированы запросом format('%I.%I')
func setConstraintsSQL(names []string, mode string) string {
	return fmt.Sprintf("SET CONSTRAINTS %s %s", strings.Join(names, ", "), mode)
}
