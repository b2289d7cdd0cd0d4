package sync

import (
	"context"
	"fmt"
	"time"
)

// PullIncomingChanges запрашивает окно изменений после since и загружает его страницами
// в таблицу сессии. Смещение растет на число реально полученных записей.
func PullIncomingChanges(ctx context.Context, remote Remote, store IncomingStore, sessionID string, since Tick, cfg LimiterConfig) (*PullResult, error) {
	window, err := remote.InitiatePull(ctx, sessionID, since)
	if err != nil {
		return nil, fmt.Errorf("initiate pull: %w", err)
	}

	total := window.TotalToPull
	limit := CalculatePageLimit(cfg, 0, 0)
	offset := 0

	for offset < total {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		started := time.Now()
		page, err := remote.Pull(ctx, sessionID, offset, limit)
		if err != nil {
			return nil, fmt.Errorf("pull page at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			return nil, fmt.Errorf("%w: got %d of %d", ErrPullIncomplete, offset, total)
		}

		if err := store.InsertIncomingChanges(ctx, sessionID, page); err != nil {
			return nil, fmt.Errorf("store pulled page at offset %d: %w", offset, err)
		}

		offset += len(page)
		limit = CalculatePageLimit(cfg, limit, time.Since(started))
	}

	return &PullResult{TotalPulled: offset, PullUntil: window.PullUntil}, nil
}
