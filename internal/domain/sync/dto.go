package sync

// DTO (Data Transfer Objects) протокола синхронизации между учреждением и центральным сервером

// StartSessionResponse ответ на открытие сессии
type StartSessionResponse struct {
	SessionID string `json:"sessionId" doc:"Идентификатор сессии"`
	Tick      Tick   `json:"tick" doc:"Тик начала сессии"`
}

// PushRequest страница исходящих изменений
type PushRequest struct {
	Changes     []Change `json:"changes"`
	PushedSoFar int      `json:"pushedSoFar" minimum:"0"`
	TotalToPush int      `json:"totalToPush" minimum:"0"`
}

// InitiatePullRequest запрос на подготовку окна входящих изменений
type InitiatePullRequest struct {
	Since Tick `json:"since" doc:"Последний успешно полученный тик"`
}

// InitiatePullResponse размер окна и его верхняя граница
type InitiatePullResponse struct {
	TotalToPull int  `json:"totalToPull"`
	PullUntil   Tick `json:"pullUntil"`
}

// PullResponse страница входящих изменений
type PullResponse struct {
	Changes []Change `json:"changes"`
}

// ErroredRequest описание ошибки прогона на стороне учреждения
type ErroredRequest struct {
	Message string `json:"message"`
}
