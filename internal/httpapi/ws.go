package httpapi

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"recap/internal/events"
	"recap/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// The API binds loopback and the desktop shell connects with an app
// origin, so origin checks stay open.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleEvents streams progress events over a WebSocket. An optional
// run_id query parameter restricts the stream to one run.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", "error", err)
		return
	}

	runID := r.URL.Query().Get("run_id")
	sub := s.deps.Events.Subscribe(256)

	go s.writeEvents(conn, sub, runID)
	s.readUntilClose(conn, sub)
}

// readUntilClose consumes frames until the peer goes away, then tears
// the subscription down so the writer stops.
func (s *Server) readUntilClose(conn *websocket.Conn, sub *events.Subscription) {
	defer sub.Unsubscribe()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeEvents(conn *websocket.Conn, sub *events.Subscription, runID string) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if runID != "" && ev.RunID != runID {
				continue
			}
			data, err := sonic.Marshal(ev)
			if err != nil {
				logging.Warn("failed to marshal event", "type", ev.Type, "error", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
