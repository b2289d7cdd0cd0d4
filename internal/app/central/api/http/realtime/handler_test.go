package realtime

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"ehrsync/internal/domain/realtime"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Handle(ctx context.Context, msg realtime.Message) (*realtime.Message, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*realtime.Message), args.Error(1)
}

func dial(t *testing.T, ctx context.Context, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestHandler_BroadcastsMergedRecord(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	incoming := realtime.Message{
		Action:     realtime.ActionSave,
		RecordType: "patients",
		Record: &realtime.Record{
			ID:       "p1",
			Fields:   map[string]any{"name": "Ann"},
			Modified: map[string]int64{"name": 200},
		},
	}
	merged := &realtime.Message{
		Action:     realtime.ActionSave,
		RecordType: "patients",
		RecordID:   "p1",
		Record: &realtime.Record{
			ID:       "p1",
			Fields:   map[string]any{"name": "Ann", "dob": "1990-01-01"},
			Modified: map[string]int64{"name": 200, "dob": 100},
		},
	}
	svc := new(MockService)
	svc.On("Handle", mock.Anything, incoming).Return(merged, nil)

	h := NewHandler(svc, slog.Default())
	srv := httptest.NewServer(h)
	defer srv.Close()

	sender := dial(t, ctx, srv)
	watcher := dial(t, ctx, srv)
	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, wsjson.Write(ctx, sender, incoming))

	for _, c := range []*websocket.Conn{sender, watcher} {
		var got realtime.Message
		require.NoError(t, wsjson.Read(ctx, c, &got))
		assert.Equal(t, "p1", got.RecordID)
		assert.Equal(t, "1990-01-01", got.Record.Fields["dob"])
	}
}

func TestHandler_RejectsInvalidMessage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc := new(MockService)
	svc.On("Handle", mock.Anything, mock.Anything).Return(nil, realtime.ErrUnknownAction)

	h := NewHandler(svc, slog.Default())
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, ctx, srv)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{not json")))
	var reply errorMessage
	require.NoError(t, wsjson.Read(ctx, conn, &reply))
	assert.Equal(t, realtime.ErrInvalidMessage.Error(), reply.Error)

	require.NoError(t, wsjson.Write(ctx, conn, realtime.Message{Action: "PATCH", RecordType: "patients"}))
	require.NoError(t, wsjson.Read(ctx, conn, &reply))
	assert.Equal(t, realtime.ErrUnknownAction.Error(), reply.Error)
}

func TestHandler_RemovesClientOnClose(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := NewHandler(new(MockService), slog.Default())
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, time.Millisecond)
}
