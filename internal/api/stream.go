package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shiwa/balancer/internal/logger"
)

const writeWait = time.Second

// handleStream отправляет Status каждые s.interval, пока клиент на связи.
// Входящие сообщения читаются только для обнаружения закрытия.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("api: websocket upgrade: %v", err)
		return
	}
	defer ws.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteJSON(NewStatus(s.ctl)); err != nil {
			logger.Debug("api: websocket write: %v", err)
			return
		}
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		case <-ticker.C:
		}
	}
}
