package sync

import (
	"context"
	"fmt"
	"time"
)

// PushOutgoingChanges отправляет изменения страницами, размер которых подстраивается
// под время ответа центрального сервера. Страницы идут по порядку и не пересекаются.
// Пустой набор изменений не порождает ни одного вызова Push.
func PushOutgoingChanges(ctx context.Context, remote Remote, sessionID string, changes []Change, cfg LimiterConfig) error {
	total := len(changes)
	limit := CalculatePageLimit(cfg, 0, 0)

	for pushed := 0; pushed < total; {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(pushed+limit, total)
		page := changes[pushed:end]

		started := time.Now()
		err := remote.Push(ctx, sessionID, page, PushProgress{PushedSoFar: pushed, TotalToPush: total})
		if err != nil {
			return fmt.Errorf("push page [%d, %d) of %d: %w", pushed, end, total, err)
		}

		pushed = end
		limit = CalculatePageLimit(cfg, limit, time.Since(started))
	}
	return nil
}
