package central

import (
	"time"

	"ehrsync/internal/domain/sync"
)

// Session сессия синхронизации на стороне центрального сервера
type Session struct {
	ID                 string
	StartTime          time.Time
	LastConnectionTime time.Time
	StartedAtTick      sync.Tick
	PullSince          sync.Tick
	PullUntil          sync.Tick
	PersistCompletedAt *time.Time
	CompletedAt        *time.Time
	Errors             []string
}

func (s *Session) Errored() bool {
	return len(s.Errors) > 0
}

func (s *Session) LastError() string {
	if len(s.Errors) == 0 {
		return ""
	}
	return s.Errors[len(s.Errors)-1]
}

// Config настройки центрального сервера синхронизации
type Config struct {
	// SessionTimeout срок жизни сессии, после которого она считается ошибочной. 0 без ограничения.
	SessionTimeout time.Duration
	// LapsedAfter через сколько без подключений сессия удаляется
	LapsedAfter time.Duration
	// MaxPageSize верхняя граница limit при выдаче страниц
	MaxPageSize int
}

func DefaultConfig() Config {
	return Config{
		SessionTimeout: 0,
		LapsedAfter:    20 * time.Minute,
		MaxPageSize:    40000,
	}
}
