package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// outerTx транзакция, уже открытая вызывающим
type outerTx struct {
	pgx.Tx
}

func withOuterTx(ctx context.Context) context.Context {
	return context.WithValue(ctx, txKey{}, pgx.Tx(outerTx{}))
}

func TestTxFromContext(t *testing.T) {
	_, ok := txFromContext(context.Background())
	assert.False(t, ok)

	tx, ok := txFromContext(withOuterTx(context.Background()))
	assert.True(t, ok)
	assert.Equal(t, outerTx{}, tx)
}

func TestStorage_InTxJoinsOuterTransaction(t *testing.T) {
	s := &Storage{}
	ctx := withOuterTx(context.Background())

	var joined bool
	err := s.InTx(ctx, func(inner context.Context) error {
		tx, ok := txFromContext(inner)
		joined = ok && tx == (outerTx{})
		return nil
	})

	require.NoError(t, err)
	assert.True(t, joined)
}

func TestStorage_InTxNestedErrorPropagates(t *testing.T) {
	s := &Storage{}
	boom := errors.New("boom")

	err := s.ReadSnapshot(withOuterTx(context.Background()), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestRealtimeRepository_LockRequiresTx(t *testing.T) {
	r := NewRealtimeRepository(&Storage{})
	err := r.Lock(context.Background(), "patients", "p1")
	assert.ErrorIs(t, err, ErrNoTransaction)
}
