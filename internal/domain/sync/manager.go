package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slog"
	"golang.org/x/sync/singleflight"
)

// Config настройки менеджера синхронизации учреждения
type Config struct {
	Enabled  bool
	ReadOnly bool
	// AssertIfPulledRecordsUpdatedAfterPushSnapshot прерывает прогон, если полученная
	// запись локально изменилась после снимка отправки
	AssertIfPulledRecordsUpdatedAfterPushSnapshot bool
	Limiter                                       LimiterConfig
	WaitPolicy                                    WaitPolicy
}

// Manager оркестратор синхронизации учреждения с центральным сервером
type Manager struct {
	cfg    Config
	remote Remote
	store  Store
	models *Registry
	log    *slog.Logger

	group singleflight.Group

	mu     sync.Mutex
	status Status
	now    func() time.Time
}

func NewManager(cfg Config, remote Remote, store Store, models *Registry, log *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		remote: remote,
		store:  store,
		models: models,
		log:    log.With("component", "sync_manager"),
		now:    time.Now,
	}
}

// Status возвращает текущее состояние менеджера
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// TriggerSync запускает прогон синхронизации. Если прогон уже идет, вызывающий
// дожидается его и получает тот же результат. Прогон не зависит от отмены ctx
// отдельного вызывающего: отмена прекращает только его ожидание.
func (m *Manager) TriggerSync(ctx context.Context, reason string) (*RunResult, error) {
	if !m.cfg.Enabled {
		m.log.Debug("sync disabled, skipping", "reason", reason)
		return &RunResult{Enabled: false}, nil
	}

	runCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan("sync", func() (any, error) {
		return m.runTracked(runCtx, reason)
	})

	select {
	case r := <-ch:
		if r.Shared {
			m.log.Debug("joined in-flight sync", "reason", reason)
		}
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*RunResult), nil
	case <-ctx.Done():
		m.log.Debug("stopped waiting for sync", "reason", reason, "error", ctx.Err())
		return nil, ctx.Err()
	}
}

func (m *Manager) runTracked(ctx context.Context, reason string) (*RunResult, error) {
	started := m.now()
	m.mu.Lock()
	m.status.Running = true
	m.status.Reason = reason
	m.status.CurrentStart = started
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.status.Running = false
		m.status.Reason = ""
		m.status.CurrentStart = time.Time{}
		m.mu.Unlock()
	}()

	m.log.Info("sync started", "reason", reason)
	res, err := m.RunSync(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.status.LastDuration = res.Duration
	m.status.LastCompletedAt = m.now()
	m.mu.Unlock()

	m.log.Info("sync completed",
		"session_id", res.SessionID,
		"pushed", res.Pushed,
		"pulled", res.Pulled,
		"duration", res.Duration,
	)
	return res, nil
}

// RunSync выполняет один полный прогон: сессия, смена тика, отправка, получение,
// применение и закрытие сессии. Курсоры сдвигаются только после успеха своей фазы.
func (m *Manager) RunSync(ctx context.Context) (*RunResult, error) {
	started := m.now()
	res := &RunResult{Enabled: true, Ran: true}

	// таблицы прерванных прогонов
	if err := m.store.DropAllSnapshotTables(ctx); err != nil {
		return nil, m.fail(ctx, "", PhaseStart, fmt.Errorf("drop stale snapshot tables: %w", err))
	}

	session, err := m.remote.StartSyncSession(ctx)
	if err != nil {
		return nil, m.fail(ctx, "", PhaseStart, fmt.Errorf("start session: %w", err))
	}
	if session == nil || session.ID == "" {
		return nil, m.fail(ctx, "", PhaseStart, ErrNoSession)
	}
	res.SessionID = session.ID
	log := m.log.With("session_id", session.ID)

	previousTick, err := m.advanceTick(ctx, session.StartedAtTick)
	if err != nil {
		return nil, m.fail(ctx, session.ID, PhaseStart, err)
	}
	log.Debug("sync tick advanced", "previous", previousTick, "current", session.StartedAtTick)

	// строки под прежним тиком должны быть зафиксированы до снимка
	if err := m.store.WaitForPendingEdits(ctx, previousTick, m.cfg.WaitPolicy); err != nil {
		return nil, m.fail(ctx, session.ID, PhaseStart, err)
	}

	res.Pushed, err = m.pushOutgoing(ctx, session.ID, previousTick)
	if err != nil {
		return nil, m.fail(ctx, session.ID, PhasePush, err)
	}
	log.Debug("push finished", "pushed", res.Pushed)

	if err := m.store.CreateSnapshotTable(ctx, session.ID); err != nil {
		return nil, m.fail(ctx, session.ID, PhasePull, fmt.Errorf("create snapshot table: %w", err))
	}
	defer func() {
		if err := m.store.DropSnapshotTable(context.WithoutCancel(ctx), session.ID); err != nil {
			log.Warn("failed to drop snapshot table", "error", err)
		}
	}()

	pulled, err := m.pullIncoming(ctx, session)
	if err != nil {
		return nil, m.fail(ctx, session.ID, PhasePull, err)
	}
	res.Pulled = pulled.TotalPulled
	log.Debug("pull finished", "pulled", pulled.TotalPulled, "pull_until", pulled.PullUntil)

	if err := m.applyIncoming(ctx, session.ID, pulled); err != nil {
		return nil, m.fail(ctx, session.ID, PhaseApply, err)
	}

	if err := m.remote.EndSyncSession(ctx, session.ID); err != nil {
		return nil, m.fail(ctx, session.ID, PhaseEnd, fmt.Errorf("end session: %w", err))
	}

	res.Duration = m.now().Sub(started)
	return res, nil
}

// advanceTick сохраняет новый тик. Возвращает прежний тик.
func (m *Manager) advanceTick(ctx context.Context, tick Tick) (Tick, error) {
	previous, err := m.store.GetTick(ctx, FactCurrentSyncTick)
	if err != nil {
		return NoTick, fmt.Errorf("read current sync tick: %w", err)
	}
	if err := m.store.SetTick(ctx, FactCurrentSyncTick, tick); err != nil {
		return NoTick, fmt.Errorf("set current sync tick: %w", err)
	}
	return previous, nil
}

func (m *Manager) pushOutgoing(ctx context.Context, sessionID string, previousTick Tick) (int, error) {
	since, err := m.store.GetTick(ctx, FactLastSuccessfulSyncPush)
	if err != nil {
		return 0, fmt.Errorf("read push cursor: %w", err)
	}

	changes, err := SnapshotOutgoingChanges(ctx, m.store, m.models.ForPush(), since, m.cfg.ReadOnly)
	if err != nil {
		return 0, err
	}

	if err := PushOutgoingChanges(ctx, m.remote, sessionID, changes, m.cfg.Limiter); err != nil {
		return 0, err
	}
	if err := m.remote.CompletePush(ctx, sessionID); err != nil {
		return 0, fmt.Errorf("complete push: %w", err)
	}

	if err := m.store.SetTick(ctx, FactLastSuccessfulSyncPush, previousTick); err != nil {
		return 0, fmt.Errorf("set push cursor: %w", err)
	}
	return len(changes), nil
}

func (m *Manager) pullIncoming(ctx context.Context, session *Session) (*PullResult, error) {
	since, err := m.store.GetTick(ctx, FactLastSuccessfulSyncPull)
	if err != nil {
		return nil, fmt.Errorf("read pull cursor: %w", err)
	}

	pulled, err := PullIncomingChanges(ctx, m.remote, m.store, session.ID, since, m.cfg.Limiter)
	if err != nil {
		return nil, err
	}

	if m.cfg.AssertIfPulledRecordsUpdatedAfterPushSnapshot && pulled.TotalPulled > 0 {
		n, err := m.store.CountRecordsUpdatedAfter(ctx, session.ID, m.models.ForPull(), session.StartedAtTick)
		if err != nil {
			return nil, fmt.Errorf("check pulled records: %w", err)
		}
		if n > 0 {
			return nil, fmt.Errorf("%w: %d records", ErrPulledRecordsUpdatedAfterPushSnapshot, n)
		}
	}
	return pulled, nil
}

func (m *Manager) applyIncoming(ctx context.Context, sessionID string, pulled *PullResult) error {
	return m.store.InTx(ctx, func(ctx context.Context) error {
		if pulled.TotalPulled > 0 {
			err := m.store.WithDeferredSyncSafeguards(ctx, func(ctx context.Context) error {
				return m.store.SaveIncomingChanges(ctx, sessionID, m.models.ForPull())
			})
			if err != nil {
				return fmt.Errorf("save incoming changes: %w", err)
			}
		}
		if err := m.store.SetTick(ctx, FactLastSuccessfulSyncPull, pulled.PullUntil); err != nil {
			return fmt.Errorf("set pull cursor: %w", err)
		}
		return nil
	})
}

// fail оборачивает ошибку фазы и сообщает центральному серверу о локальной
// ошибке, если сессия открыта
func (m *Manager) fail(ctx context.Context, sessionID string, phase Phase, err error) error {
	m.log.Error("sync failed", "session_id", sessionID, "phase", phase, "error", err)

	var remoteErr RemoteError
	if sessionID != "" && !errors.Is(err, context.Canceled) && !errors.As(err, &remoteErr) {
		markCtx := context.WithoutCancel(ctx)
		if merr := m.remote.MarkSessionErrored(markCtx, sessionID, err.Error()); merr != nil {
			m.log.Warn("failed to mark session errored", "session_id", sessionID, "error", merr)
		}
	}
	return &PhaseError{SessionID: sessionID, Phase: phase, Err: err}
}
