package facility

import (
	"context"
	"fmt"

	"golang.org/x/exp/slog"

	"ehrsync/internal/app/facility/remote"
	"ehrsync/internal/config"
	"ehrsync/internal/domain/sync"
	"ehrsync/internal/infrastructure/storage/postgres"
)

// App сервер синхронизации учреждения
type App struct {
	cfg       *config.Config
	log       *slog.Logger
	storage   *postgres.Storage
	store     *postgres.FacilityStore
	manager   *sync.Manager
	scheduler *Scheduler
}

// Facts курсоры синхронизации из локальной базы
type Facts struct {
	CurrentSyncTick        sync.Tick `json:"current_sync_tick"`
	LastSuccessfulSyncPush sync.Tick `json:"last_successful_sync_push"`
	LastSuccessfulSyncPull sync.Tick `json:"last_successful_sync_pull"`
}

func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	models, err := DefaultModels()
	if err != nil {
		return nil, fmt.Errorf("register models: %w", err)
	}

	storage, err := postgres.New(ctx, cfg.DB, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	store := postgres.NewFacilityStore(storage, log)

	central, err := remote.NewHTTPClient(cfg.Central, log)
	if err != nil {
		storage.Close()
		return nil, err
	}

	manager := sync.NewManager(cfg.SyncManagerConfig(), central, store, models, log)

	return &App{
		cfg:       cfg,
		log:       log,
		storage:   storage,
		store:     store,
		manager:   manager,
		scheduler: NewScheduler(manager, cfg.Sync.Interval, log),
	}, nil
}

// Run синхронизирует по расписанию до отмены ctx
func (a *App) Run(ctx context.Context) error {
	a.scheduler.Start(ctx)
	<-ctx.Done()
	a.scheduler.Stop()
	return nil
}

// SyncOnce выполняет один прогон синхронизации
func (a *App) SyncOnce(ctx context.Context, reason string) (*sync.RunResult, error) {
	return a.manager.TriggerSync(ctx, reason)
}

func (a *App) Status() sync.Status {
	return a.manager.Status()
}

func (a *App) Facts(ctx context.Context) (*Facts, error) {
	var (
		f   Facts
		err error
	)
	if f.CurrentSyncTick, err = a.store.GetTick(ctx, sync.FactCurrentSyncTick); err != nil {
		return nil, err
	}
	if f.LastSuccessfulSyncPush, err = a.store.GetTick(ctx, sync.FactLastSuccessfulSyncPush); err != nil {
		return nil, err
	}
	if f.LastSuccessfulSyncPull, err = a.store.GetTick(ctx, sync.FactLastSuccessfulSyncPull); err != nil {
		return nil, err
	}
	return &f, nil
}

func (a *App) Close() error {
	return a.storage.Close()
}
