package central

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"ehrsync/internal/domain/sync"
)

// Servicer серверная сторона протокола синхронизации
type Servicer interface {
	StartSession(ctx context.Context) (*sync.Session, error)
	EndSession(ctx context.Context, sessionID string) error
	MarkErrored(ctx context.Context, sessionID, message string) error
	AddIncomingChanges(ctx context.Context, sessionID string, changes []sync.Change, progress sync.PushProgress) error
	CompletePush(ctx context.Context, sessionID string) error
	InitiatePull(ctx context.Context, sessionID string, since sync.Tick) (*sync.PullWindow, error)
	OutgoingChanges(ctx context.Context, sessionID string, offset, limit int) ([]sync.Change, error)
	PurgeLapsedSessions(ctx context.Context) (int, error)
}

type Service struct {
	repo  Repository
	log   *slog.Logger
	cfg   Config
	now   func() time.Time
	newID func() string
}

func NewService(repo Repository, log *slog.Logger, cfg Config) *Service {
	return &Service{
		repo:  repo,
		log:   log.With("component", "central_sync"),
		cfg:   cfg,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// StartSession открывает сессию. Каждая сессия получает собственный тик глобальных часов.
func (s *Service) StartSession(ctx context.Context) (*sync.Session, error) {
	tick, _, err := s.repo.TickTock(ctx)
	if err != nil {
		return nil, fmt.Errorf("tick global clock: %w", err)
	}

	now := s.now()
	session := &Session{
		ID:                 s.newID(),
		StartTime:          now,
		LastConnectionTime: now,
		StartedAtTick:      tick,
		PullSince:          sync.NoTick,
		PullUntil:          sync.NoTick,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.log.Info("session started", "session_id", session.ID, "tick", tick)
	return &sync.Session{ID: session.ID, StartedAtTick: tick}, nil
}

// connect проверяет, что сессия жива, и отмечает подключение
func (s *Service) connect(ctx context.Context, sessionID string) (*Session, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if s.cfg.SessionTimeout > 0 && !session.Errored() && now.Sub(session.StartTime) > s.cfg.SessionTimeout {
		msg := fmt.Sprintf("sync session %s timed out", sessionID)
		if err := s.repo.MarkSessionErrored(ctx, sessionID, msg); err != nil {
			return nil, fmt.Errorf("mark timed out session: %w", err)
		}
		return nil, fmt.Errorf("%w: %s", ErrSessionTimedOut, sessionID)
	}
	if session.Errored() {
		return nil, fmt.Errorf("%w: session %s: %s", ErrSessionErrored, sessionID, session.LastError())
	}
	if session.CompletedAt != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionCompleted, sessionID)
	}

	if err := s.repo.TouchSession(ctx, sessionID, now); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	session.LastConnectionTime = now
	return session, nil
}

func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	session, err := s.connect(ctx, sessionID)
	if err != nil {
		return err
	}

	err = s.repo.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CompleteSession(ctx, sessionID, s.now()); err != nil {
			return err
		}
		return s.repo.DeleteSessionChanges(ctx, sessionID)
	})
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}

	s.log.Info("session completed", "session_id", sessionID, "duration", s.now().Sub(session.StartTime))
	return nil
}

func (s *Service) MarkErrored(ctx context.Context, sessionID, message string) error {
	if _, err := s.repo.GetSession(ctx, sessionID); err != nil {
		return err
	}
	if err := s.repo.MarkSessionErrored(ctx, sessionID, message); err != nil {
		return fmt.Errorf("mark session errored: %w", err)
	}
	s.log.Warn("session marked errored", "session_id", sessionID, "message", message)
	return nil
}

func (s *Service) AddIncomingChanges(ctx context.Context, sessionID string, changes []sync.Change, progress sync.PushProgress) error {
	if _, err := s.connect(ctx, sessionID); err != nil {
		return err
	}
	if err := s.repo.InsertIncomingChanges(ctx, sessionID, changes); err != nil {
		return fmt.Errorf("insert incoming changes: %w", err)
	}
	s.log.Debug("incoming changes added",
		"session_id", sessionID,
		"count", len(changes),
		"pushed_so_far", progress.PushedSoFar,
		"total_to_push", progress.TotalToPush,
	)
	return nil
}

// CompletePush сохраняет отправленные изменения в журнал под тиком tock, после чего
// еще раз сдвигает часы, чтобы последующие изменения получили больший тик.
func (s *Service) CompletePush(ctx context.Context, sessionID string) error {
	if _, err := s.connect(ctx, sessionID); err != nil {
		return err
	}

	var persisted int
	err := s.repo.InTx(ctx, func(ctx context.Context) error {
		_, tock, err := s.repo.TickTock(ctx)
		if err != nil {
			return err
		}
		persisted, err = s.repo.PersistIncomingChanges(ctx, sessionID, tock)
		return err
	})
	if err != nil {
		s.markErrored(ctx, sessionID, err)
		return fmt.Errorf("persist incoming changes: %w", err)
	}

	if _, _, err := s.repo.TickTock(ctx); err != nil {
		return fmt.Errorf("tick global clock: %w", err)
	}
	if err := s.repo.SetPersistCompleted(ctx, sessionID, s.now()); err != nil {
		return fmt.Errorf("set persist completed: %w", err)
	}

	s.log.Info("push persisted", "session_id", sessionID, "persisted", persisted)
	return nil
}

// InitiatePull фиксирует окно изменений после since для сессии
func (s *Service) InitiatePull(ctx context.Context, sessionID string, since sync.Tick) (*sync.PullWindow, error) {
	if _, err := s.connect(ctx, sessionID); err != nil {
		return nil, err
	}

	var window sync.PullWindow
	err := s.repo.InTx(ctx, func(ctx context.Context) error {
		tick, _, err := s.repo.TickTock(ctx)
		if err != nil {
			return err
		}
		total, err := s.repo.SnapshotOutgoingChanges(ctx, sessionID, since, tick)
		if err != nil {
			return err
		}
		if err := s.repo.SetPullWindow(ctx, sessionID, since, tick); err != nil {
			return err
		}
		window = sync.PullWindow{TotalToPull: total, PullUntil: tick}
		return nil
	})
	if err != nil {
		s.markErrored(ctx, sessionID, err)
		return nil, fmt.Errorf("snapshot outgoing changes: %w", err)
	}

	s.log.Info("pull initiated", "session_id", sessionID, "since", since, "until", window.PullUntil, "total", window.TotalToPull)
	return &window, nil
}

func (s *Service) OutgoingChanges(ctx context.Context, sessionID string, offset, limit int) ([]sync.Change, error) {
	if offset < 0 || limit < 1 {
		return nil, fmt.Errorf("%w: offset %d limit %d", ErrInvalidPage, offset, limit)
	}
	if s.cfg.MaxPageSize > 0 && limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}

	session, err := s.connect(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.PullUntil == sync.NoTick {
		return nil, fmt.Errorf("%w: pull was not initiated for %s", ErrInvalidPage, sessionID)
	}

	changes, err := s.repo.FetchOutgoingChanges(ctx, sessionID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch outgoing changes: %w", err)
	}
	return changes, nil
}

// PurgeLapsedSessions удаляет сессии, к которым давно не подключались
func (s *Service) PurgeLapsedSessions(ctx context.Context) (int, error) {
	if s.cfg.LapsedAfter <= 0 {
		return 0, nil
	}
	n, err := s.repo.DeleteLapsedSessions(ctx, s.now().Add(-s.cfg.LapsedAfter))
	if err != nil {
		return 0, fmt.Errorf("delete lapsed sessions: %w", err)
	}
	if n > 0 {
		s.log.Info("lapsed sessions purged", "count", n)
	}
	return n, nil
}

func (s *Service) markErrored(ctx context.Context, sessionID string, cause error) {
	if err := s.repo.MarkSessionErrored(context.WithoutCancel(ctx), sessionID, cause.Error()); err != nil {
		s.log.Error("failed to mark session errored", "session_id", sessionID, "error", err)
	}
}
