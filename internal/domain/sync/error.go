package sync

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTick       = errors.New("invalid sync tick")
	ErrInvalidConfig     = errors.New("invalid sync config")
	ErrUnknownModel      = errors.New("model is not registered for sync")
	ErrPullIncomplete    = errors.New("pull ended before all changes were received")
	ErrPendingEditsWait  = errors.New("timed out waiting for pending edits")
	ErrNoSession         = errors.New("central server did not open a sync session")
	ErrSessionNotFound   = errors.New("sync session not found")
	ErrAlreadyRegistered = errors.New("model already registered")

	// ErrPulledRecordsUpdatedAfterPushSnapshot: локальная копия полученной записи
	// изменилась после снимка отправки, применять ее нельзя.
	ErrPulledRecordsUpdatedAfterPushSnapshot = errors.New("pulled records were updated locally after the push snapshot")
)

// Phase этап прогона синхронизации
type Phase string

const (
	PhaseStart Phase = "start"
	PhasePush  Phase = "push"
	PhasePull  Phase = "pull"
	PhaseApply Phase = "apply"
	PhaseEnd   Phase = "end"
)

// PhaseError ошибка прогона с указанием сессии и этапа
type PhaseError struct {
	SessionID string
	Phase     Phase
	Err       error
}

func (e *PhaseError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("sync %s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("sync session %s %s: %v", e.SessionID, e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}
