package sync

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) startSessionOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-start-session",
		Method:      http.MethodPost,
		Path:        "/api/sync",
		Summary:     "Открыть сессию синхронизации",
		Description: "Сдвигает глобальные часы и возвращает идентификатор сессии с ее тиком",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) endSessionOp() huma.Operation {
	return huma.Operation{
		OperationID:   "sync-end-session",
		Method:        http.MethodDelete,
		Path:          "/api/sync/{sessionId}",
		Summary:       "Завершить сессию синхронизации",
		Tags:          []string{"sync"},
		DefaultStatus: http.StatusNoContent,
		Middlewares:   h.middleware,
	}
}

func (h *Handler) markErroredOp() huma.Operation {
	return huma.Operation{
		OperationID:   "sync-mark-errored",
		Method:        http.MethodPost,
		Path:          "/api/sync/{sessionId}/errored",
		Summary:       "Сообщить об ошибке прогона",
		Description:   "Учреждение сообщает о локальной ошибке, сессия больше не принимает запросы",
		Tags:          []string{"sync"},
		DefaultStatus: http.StatusNoContent,
		Middlewares:   h.middleware,
	}
}

func (h *Handler) pushOp() huma.Operation {
	return huma.Operation{
		OperationID:   "sync-push",
		Method:        http.MethodPost,
		Path:          "/api/sync/{sessionId}/push",
		Summary:       "Отправить страницу изменений",
		Description:   "Повторная отправка записи в рамках сессии заменяет прежнюю",
		Tags:          []string{"sync"},
		DefaultStatus: http.StatusNoContent,
		Middlewares:   h.middleware,
	}
}

func (h *Handler) completePushOp() huma.Operation {
	return huma.Operation{
		OperationID:   "sync-complete-push",
		Method:        http.MethodPost,
		Path:          "/api/sync/{sessionId}/push/complete",
		Summary:       "Завершить отправку",
		Description:   "Сохраняет отправленные изменения в журнал центрального сервера",
		Tags:          []string{"sync"},
		DefaultStatus: http.StatusNoContent,
		Middlewares:   h.middleware,
	}
}

func (h *Handler) initiatePullOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-initiate-pull",
		Method:      http.MethodPost,
		Path:        "/api/sync/{sessionId}/pull/initiate",
		Summary:     "Подготовить входящие изменения",
		Description: "Фиксирует окно изменений после since и возвращает его размер",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) pullOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-pull",
		Method:      http.MethodGet,
		Path:        "/api/sync/{sessionId}/pull",
		Summary:     "Получить страницу изменений",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}
