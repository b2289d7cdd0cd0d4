package postgres

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ehrsync/internal/domain/sync"
)

// heldLock исключительная блокировка, которую не выдают, пока не вызван release
type heldLock struct {
	mu      gosync.Mutex
	ticks   []sync.Tick
	release chan struct{}
}

func (l *heldLock) LockTickExclusive(ctx context.Context, tick sync.Tick) error {
	l.mu.Lock()
	l.ticks = append(l.ticks, tick)
	l.mu.Unlock()

	select {
	case <-l.release:
		return nil
	case <-ctx.Done():
		return errors.New("canceling statement due to user request")
	}
}

func TestWaitForPendingEdits_WaitsForWriters(t *testing.T) {
	l := &heldLock{release: make(chan struct{})}

	waited := make(chan error, 1)
	go func() {
		waited <- waitForPendingEdits(context.Background(), l, 6, sync.WaitPolicy{})
	}()

	select {
	case err := <-waited:
		t.Fatalf("wait returned while tick 6 was still locked: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(l.release)

	select {
	case err := <-waited:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not return after the writer committed")
	}
	assert.Equal(t, []sync.Tick{6}, l.ticks)
}

func TestWaitForPendingEdits_Timeout(t *testing.T) {
	l := &heldLock{release: make(chan struct{})}

	err := waitForPendingEdits(context.Background(), l, 6, sync.WaitPolicy{Timeout: 20 * time.Millisecond})
	assert.ErrorIs(t, err, sync.ErrPendingEditsWait)
}

func TestWaitForPendingEdits_NoTick(t *testing.T) {
	l := &heldLock{release: make(chan struct{})}

	require.NoError(t, waitForPendingEdits(context.Background(), l, sync.NoTick, sync.WaitPolicy{}))
	assert.Empty(t, l.ticks)
}
