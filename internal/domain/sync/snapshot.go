package sync

import (
	"context"
	"fmt"
)

// SnapshotOutgoingChanges собирает исходящие изменения моделей после since.
// В режиме только для чтения база не читается, отправлять нечего.
func SnapshotOutgoingChanges(ctx context.Context, repo SnapshotRepository, models []Model, since Tick, readOnly bool) ([]Change, error) {
	if readOnly || len(models) == 0 {
		return []Change{}, nil
	}

	changes, err := repo.SnapshotOutgoingChanges(ctx, models, since)
	if err != nil {
		return nil, fmt.Errorf("snapshot outgoing changes since %s: %w", since, err)
	}
	for i := range changes {
		changes[i].Direction = ChangeOutgoing
	}
	return changes, nil
}
