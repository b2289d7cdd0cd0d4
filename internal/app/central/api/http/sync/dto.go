package sync

import (
	"ehrsync/internal/domain/sync"
)

// Тики передаются строками, см. sync.Tick

type startSessionInput struct{}

type startSessionOutput struct {
	Body StartSessionResponse
}

type StartSessionResponse struct {
	SessionID string `json:"sessionId" doc:"Идентификатор сессии"`
	Tick      string `json:"tick" example:"41" doc:"Тик начала сессии"`
}

type sessionInput struct {
	SessionID string `path:"sessionId" minLength:"1"`
}

type erroredInput struct {
	SessionID string `path:"sessionId" minLength:"1"`
	Body      sync.ErroredRequest
}

type pushInput struct {
	SessionID string `path:"sessionId" minLength:"1"`
	Body      PushRequest
}

// PushRequest страница исходящих изменений учреждения
type PushRequest struct {
	Changes     []sync.Change `json:"changes"`
	PushedSoFar int           `json:"pushedSoFar" minimum:"0"`
	TotalToPush int           `json:"totalToPush" minimum:"0"`
}

type initiatePullInput struct {
	SessionID string `path:"sessionId" minLength:"1"`
	Body      InitiatePullRequest
}

type InitiatePullRequest struct {
	Since string `json:"since" example:"-1" doc:"Последний успешно полученный тик"`
}

type initiatePullOutput struct {
	Body InitiatePullResponse
}

type InitiatePullResponse struct {
	TotalToPull int    `json:"totalToPull"`
	PullUntil   string `json:"pullUntil" example:"58"`
}

type pullInput struct {
	SessionID string `path:"sessionId" minLength:"1"`
	Offset    int    `query:"offset" minimum:"0" default:"0"`
	Limit     int    `query:"limit" minimum:"1" default:"100"`
}

type pullOutput struct {
	Body sync.PullResponse
}
