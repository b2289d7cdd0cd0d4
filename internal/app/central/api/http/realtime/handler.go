package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	gosync "sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/exp/slog"

	"ehrsync/internal/domain/realtime"
)

const writeTimeout = 5 * time.Second

// errorMessage ответ отправителю, если сообщение не применилось
type errorMessage struct {
	Error string `json:"error"`
}

// Handler канал реального времени: принимает SAVE/REMOVE от клиента и рассылает
// результат всем подключенным клиентам
type Handler struct {
	service realtime.Servicer
	log     *slog.Logger

	mu      gosync.RWMutex
	clients map[*websocket.Conn]struct{}
}

func NewHandler(service realtime.Servicer, log *slog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With("component", "realtime_ws"),
		clients: make(map[*websocket.Conn]struct{}),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn("websocket accept failed", "error", err)
		return
	}

	h.addClient(conn)
	defer h.removeClient(conn)

	h.readLoop(r.Context(), conn)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				h.log.Debug("websocket read failed", "error", err)
			}
			return
		}

		var msg realtime.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(ctx, conn, errorMessage{Error: realtime.ErrInvalidMessage.Error()})
			continue
		}

		out, err := h.service.Handle(ctx, msg)
		if err != nil {
			h.log.Warn("realtime message rejected",
				"action", msg.Action,
				"record_type", msg.RecordType,
				"error", err,
			)
			h.reply(ctx, conn, errorMessage{Error: err.Error()})
			continue
		}
		h.Broadcast(ctx, *out)
	}
}

// Broadcast рассылает сообщение всем клиентам. Запись идет вне блокировки.
func (h *Handler) Broadcast(ctx context.Context, msg realtime.Message) {
	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.reply(ctx, c, msg)
	}
}

func (h *Handler) reply(ctx context.Context, conn *websocket.Conn, v any) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, conn, v); err != nil {
		h.log.Debug("websocket write failed", "error", err)
	}
}

func (h *Handler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Handler) addClient(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("realtime client connected", "clients", n)
}

func (h *Handler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	n := len(h.clients)
	h.mu.Unlock()
	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.log.Debug("realtime client disconnected", "clients", n)
}

// Close закрывает все соединения при остановке сервера
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, c)
	}
}
