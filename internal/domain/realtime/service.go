package realtime

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/exp/slog"
)

// Servicer обработка сообщений канала реального времени
type Servicer interface {
	// Handle применяет сообщение и возвращает сообщение для рассылки остальным клиентам
	Handle(ctx context.Context, msg Message) (*Message, error)
}

type Service struct {
	repo Repository
	log  *slog.Logger
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With("component", "realtime"),
	}
}

func (s *Service) Handle(ctx context.Context, msg Message) (*Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	switch msg.Action {
	case ActionSave:
		return s.save(ctx, msg)
	case ActionRemove:
		if err := s.repo.Delete(ctx, msg.RecordType, msg.RecordID); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("remove %s/%s: %w", msg.RecordType, msg.RecordID, err)
		}
		s.log.Debug("record removed", "record_type", msg.RecordType, "record_id", msg.RecordID)
		return &msg, nil
	}
	return nil, ErrUnknownAction
}

// save объединяет запись с сохраненной. Чтение и запись идут под блокировкой
// записи, иначе параллельные SAVE теряют изменения друг друга.
func (s *Service) save(ctx context.Context, msg Message) (*Message, error) {
	var (
		merged  Record
		existed bool
	)
	err := s.repo.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Lock(ctx, msg.RecordType, msg.Record.ID); err != nil {
			return fmt.Errorf("lock %s/%s: %w", msg.RecordType, msg.Record.ID, err)
		}

		current, err := s.repo.Find(ctx, msg.RecordType, msg.Record.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("find %s/%s: %w", msg.RecordType, msg.Record.ID, err)
		}
		existed = current != nil

		merged = Merge(current, *msg.Record)
		if err := s.repo.Save(ctx, msg.RecordType, merged); err != nil {
			return fmt.Errorf("save %s/%s: %w", msg.RecordType, merged.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("record saved", "record_type", msg.RecordType, "record_id", merged.ID, "existed", existed)
	return &Message{
		Action:     ActionSave,
		RecordType: msg.RecordType,
		RecordID:   merged.ID,
		Record:     &merged,
	}, nil
}
