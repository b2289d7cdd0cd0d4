// Центральный сервер синхронизации:
//POST   /api/sync                              # Открыть сессию
//DELETE /api/sync/{sessionId}                  # Завершить сессию
//POST   /api/sync/{sessionId}/errored          # Ошибка на стороне учреждения
//POST   /api/sync/{sessionId}/push             # Страница исходящих изменений учреждения
//POST   /api/sync/{sessionId}/push/complete    # Сохранить отправленное в журнал
//POST   /api/sync/{sessionId}/pull/initiate    # Подготовить окно входящих
//GET    /api/sync/{sessionId}/pull             # Страница входящих
//GET    /api/v1/health                         # Проверка доступности
//GET    /api/realtime                          # Канал реального времени (websocket)

package api

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"

	healthAPI "ehrsync/internal/app/central/api/http/health"
	"ehrsync/internal/app/central/api/http/middleware/logger"
	realtimeAPI "ehrsync/internal/app/central/api/http/realtime"
	syncAPI "ehrsync/internal/app/central/api/http/sync"
	"ehrsync/internal/domain/central"
	"ehrsync/internal/domain/realtime"
)

type Handlers struct {
	Health   *healthAPI.Handler
	Sync     *syncAPI.Handler
	Realtime *realtimeAPI.Handler
}

// Deps сервисы, которые обслуживает API
type Deps struct {
	DB       healthAPI.Pinger
	Sync     central.Servicer
	Realtime realtime.Servicer
}

// New создает *chi.Mux со всеми операциями. Канал реального времени
// регистрируется напрямую в chi, так как это не REST операция.
func New(deps Deps, log *slog.Logger) (*chi.Mux, *Handlers) {
	mux := chi.NewMux()

	config := huma.DefaultConfig("EHR Sync Central API", "1.0.0")
	API := humachi.New(mux, config)

	h := handlers(deps, log)
	h.Health.SetupRoutes(API)
	h.Sync.SetupRoutes(API)
	mux.Handle("/api/realtime", h.Realtime)

	return mux, h
}

func handlers(deps Deps, log *slog.Logger) *Handlers {
	loggerMW := logger.New(log)

	return &Handlers{
		Health:   healthAPI.NewHandler(deps.DB, log, huma.Middlewares{loggerMW.Middleware()}),
		Sync:     syncAPI.NewHandler(deps.Sync, log, huma.Middlewares{loggerMW.Middleware()}),
		Realtime: realtimeAPI.NewHandler(deps.Realtime, log),
	}
}
