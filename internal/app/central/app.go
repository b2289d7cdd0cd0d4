package central

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/exp/slog"

	"ehrsync/internal/app/central/api"
	"ehrsync/internal/config"
	"ehrsync/internal/domain/central"
	"ehrsync/internal/domain/realtime"
	"ehrsync/internal/infrastructure/storage/postgres"
)

// Purger удаление брошенных сессий
type Purger interface {
	PurgeLapsedSessions(ctx context.Context) (int, error)
}

// App центральный сервер синхронизации
type App struct {
	cfg      *config.Config
	log      *slog.Logger
	storage  *postgres.Storage
	service  *central.Service
	server   *http.Server
	handlers *api.Handlers
}

func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	storage, err := postgres.New(ctx, cfg.CentralDB(), log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	service := central.NewService(postgres.NewCentralRepository(storage, log), log, cfg.CentralConfig())
	rt := realtime.NewService(postgres.NewRealtimeRepository(storage), log)

	mux, handlers := api.New(api.Deps{DB: storage, Sync: service, Realtime: rt}, log)

	return &App{
		cfg:      cfg,
		log:      log,
		storage:  storage,
		service:  service,
		handlers: handlers,
		server: &http.Server{
			Addr:         cfg.Server.RunAddress,
			Handler:      mux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}, nil
}

// Run обслуживает HTTP до отмены ctx, после чего останавливает сервер
func (a *App) Run(ctx context.Context) error {
	go RunPurger(ctx, a.service, a.cfg.Central.PurgeInterval, a.log)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("central server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	a.handlers.Realtime.Close()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	a.log.Info("central server stopped")
	return nil
}

func (a *App) Close() error {
	return a.storage.Close()
}

// RunPurger периодически удаляет сессии, к которым давно не подключались
func RunPurger(ctx context.Context, p Purger, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PurgeLapsedSessions(ctx); err != nil && ctx.Err() == nil {
				log.Error("purge lapsed sessions failed", "error", err)
			}
		}
	}
}
