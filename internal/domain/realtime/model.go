package realtime

// Action действие сообщения канала реального времени
type Action string

const (
	ActionSave   Action = "SAVE"
	ActionRemove Action = "REMOVE"
)

// Record запись с отметками времени изменения каждого поля (мс)
type Record struct {
	ID       string           `json:"id"`
	Fields   map[string]any   `json:"fields"`
	Modified map[string]int64 `json:"modified,omitempty"`
}

// Message сообщение от клиента канала реального времени
type Message struct {
	Action     Action  `json:"action"`
	RecordType string  `json:"recordType"`
	RecordID   string  `json:"recordId"`
	Record     *Record `json:"record,omitempty"`
}

func (m Message) Validate() error {
	if m.RecordType == "" {
		return ErrInvalidMessage
	}
	switch m.Action {
	case ActionSave:
		if m.Record == nil || m.Record.ID == "" {
			return ErrInvalidMessage
		}
	case ActionRemove:
		if m.RecordID == "" {
			return ErrInvalidMessage
		}
	default:
		return ErrUnknownAction
	}
	return nil
}
