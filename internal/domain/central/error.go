package central

import (
	"errors"

	"ehrsync/internal/domain/sync"
)

var (
	ErrSessionNotFound  = sync.ErrSessionNotFound
	ErrSessionErrored   = errors.New("sync session encountered an error")
	ErrSessionCompleted = errors.New("sync session is already completed")
	ErrSessionTimedOut  = errors.New("sync session timed out")
	ErrInvalidPage      = errors.New("invalid page parameters")
)
