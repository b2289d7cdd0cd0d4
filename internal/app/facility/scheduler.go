package facility

import (
	"context"
	gosync "sync"
	"time"

	"golang.org/x/exp/slog"

	"ehrsync/internal/domain/sync"
)

// Trigger запуск прогона синхронизации
type Trigger interface {
	TriggerSync(ctx context.Context, reason string) (*sync.RunResult, error)
}

// Scheduler периодически запускает синхронизацию
type Scheduler struct {
	trigger  Trigger
	interval time.Duration
	log      *slog.Logger

	mu      gosync.Mutex
	running bool
	stopCh  chan struct{}
	wg      gosync.WaitGroup
}

func NewScheduler(trigger Trigger, interval time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		trigger:  trigger,
		interval: interval,
		log:      log.With("component", "sync_scheduler"),
	}
}

// Start запускает первый прогон сразу, следующие по таймеру. Повторный Start ничего не делает.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx, stopCh)

	s.log.Info("sync scheduler started", "interval", s.interval)
}

// Stop останавливает таймер и ждет завершения текущего прогона
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("sync scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	s.run(ctx, "startup")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.run(ctx, "scheduled")
		}
	}
}

func (s *Scheduler) run(ctx context.Context, reason string) {
	res, err := s.trigger.TriggerSync(ctx, reason)
	if err != nil {
		s.log.Error("scheduled sync failed", "reason", reason, "error", err)
		return
	}
	if res != nil && res.Ran {
		s.log.Info("scheduled sync finished",
			"reason", reason,
			"session_id", res.SessionID,
			"pushed", res.Pushed,
			"pulled", res.Pulled,
			"duration", res.Duration,
		)
	}
}
