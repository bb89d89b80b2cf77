package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/storefront/internal/notify"
)

const (
	eventsWriteWait    = 10 * time.Second
	eventsPingInterval = 30 * time.Second
)

// EventSource は変更通知の購読を提供する。notify.Hubが実装する。
type EventSource interface {
	Subscribe() (<-chan notify.Event, func())
}

// EventsHandler は変更通知をWebSocketで配信する。
// クライアントは通知を受けたら対応するビューを読み直す。
type EventsHandler struct {
	events       EventSource
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	logger       *slog.Logger
}

// NewEventsHandler はEventsHandlerを生成する。
// Originヘッダーを持つ接続はallowedOriginからのもののみ受け付ける。
func NewEventsHandler(events EventSource, allowedOrigin string, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		events: events,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
		pingInterval: eventsPingInterval,
		logger:       logger,
	}
}

// ServeHTTP は接続をアップグレードし、切断されるまで通知を送り続ける。
// GET /view/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	events, cancel := h.events.Subscribe()
	defer cancel()

	// クライアントからのメッセージは読み捨て、切断の検出のみに使う。
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.write(conn, notify.Event{Topic: "connected", At: time.Now()}); err != nil {
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := h.write(conn, ev); err != nil {
				h.logger.Debug("websocket write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *EventsHandler) write(conn *websocket.Conn, ev notify.Event) error {
	conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
	return conn.WriteJSON(ev)
}
