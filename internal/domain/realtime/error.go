package realtime

import "errors"

var (
	ErrNotFound       = errors.New("record not found")
	ErrInvalidMessage = errors.New("invalid realtime message")
	ErrUnknownAction  = errors.New("unknown realtime action")
)
