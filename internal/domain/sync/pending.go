package sync

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WaitPolicy ограничение ожидания незавершенных транзакций.
// Нулевой Timeout означает ожидание без ограничения.
type WaitPolicy struct {
	Timeout time.Duration
}

// Wait выполняет блокирующее ожидание wait с учетом Timeout. Истечение Timeout
// возвращается как ErrPendingEditsWait, отмена ctx как есть.
func (p WaitPolicy) Wait(ctx context.Context, wait func(ctx context.Context) error) error {
	waitCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	err := wait(waitCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: still open after %s", ErrPendingEditsWait, p.Timeout)
	}
	if cerr := ctx.Err(); cerr != nil && !errors.Is(err, cerr) {
		return fmt.Errorf("%w: %v", cerr, err)
	}
	return err
}
