package sync

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Tick логическое время синхронизации. Передается строкой, так как значения
// выходят за пределы безопасных целых чисел JS-клиентов.
type Tick int64

// NoTick значение курсора, который еще ни разу не сохранялся
const NoTick Tick = -1

// ParseTick разбирает строковое представление тика. Пустая строка дает NoTick.
func ParseTick(s string) (Tick, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return NoTick, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return NoTick, fmt.Errorf("%w: %q", ErrInvalidTick, s)
	}
	return Tick(v), nil
}

func (t Tick) String() string {
	return strconv.FormatInt(int64(t), 10)
}

func (t Tick) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts both "123" and 123.
func (t *Tick) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidTick, string(b))
		}
		*t = Tick(n)
		return nil
	}
	v, err := ParseTick(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Ключи фактов локальной базы
const (
	FactCurrentSyncTick        = "currentSyncTick"
	FactLastSuccessfulSyncPush = "lastSuccessfulSyncPush"
	FactLastSuccessfulSyncPull = "lastSuccessfulSyncPull"
)

// Direction направление синхронизации модели
type Direction string

const (
	DirectionPushToCentral   Direction = "push_to_central"
	DirectionPullFromCentral Direction = "pull_from_central"
	DirectionBidirectional   Direction = "bidirectional"
	DirectionDoNotSync       Direction = "do_not_sync"
)

// Pushes сообщает, отправляются ли изменения модели на центральный сервер
func (d Direction) Pushes() bool {
	return d == DirectionPushToCentral || d == DirectionBidirectional
}

// Pulls сообщает, принимаются ли изменения модели с центрального сервера
func (d Direction) Pulls() bool {
	return d == DirectionPullFromCentral || d == DirectionBidirectional
}

func (d Direction) Valid() bool {
	switch d {
	case DirectionPushToCentral, DirectionPullFromCentral, DirectionBidirectional, DirectionDoNotSync:
		return true
	}
	return false
}

// ChangeDirection направление конкретного изменения при передаче
type ChangeDirection string

const (
	ChangeOutgoing ChangeDirection = "outgoing"
	ChangeIncoming ChangeDirection = "incoming"
)

// Change единица передачи при синхронизации
type Change struct {
	RecordType string          `json:"recordType"`
	RecordID   string          `json:"recordId"`
	IsDeleted  bool            `json:"isDeleted"`
	Data       json.RawMessage `json:"data"`
	SessionID  string          `json:"sessionId,omitempty"`
	Direction  ChangeDirection `json:"direction,omitempty"`
}

// Session сессия синхронизации, открытая на центральном сервере
type Session struct {
	ID            string `json:"sessionId"`
	StartedAtTick Tick   `json:"tick"`
}

// PullWindow окно изменений, подготовленное центральным сервером для сессии
type PullWindow struct {
	TotalToPull int  `json:"totalToPull"`
	PullUntil   Tick `json:"pullUntil"`
}

// PushProgress прогресс отправки, передается вместе с каждой страницей
type PushProgress struct {
	PushedSoFar int `json:"pushedSoFar"`
	TotalToPush int `json:"totalToPush"`
}

// PullResult итог загрузки входящих изменений
type PullResult struct {
	TotalPulled int
	PullUntil   Tick
}

// RunResult итог одного прогона синхронизации
type RunResult struct {
	Enabled   bool          `json:"enabled"`
	Ran       bool          `json:"ran"`
	SessionID string        `json:"session_id,omitempty"`
	Pushed    int           `json:"pushed"`
	Pulled    int           `json:"pulled"`
	Duration  time.Duration `json:"duration"`
}

// Status состояние менеджера синхронизации
type Status struct {
	Running         bool          `json:"running"`
	Reason          string        `json:"reason,omitempty"`
	CurrentStart    time.Time     `json:"current_start,omitempty"`
	LastDuration    time.Duration `json:"last_duration"`
	LastCompletedAt time.Time     `json:"last_completed_at,omitempty"`
}
