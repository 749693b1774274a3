package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const streamWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// streamStatus upgrades to a websocket and pushes the status JSON right away
// and then every stream interval until the client goes away or the server
// closes.
func (s *Server) streamStatus(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logf("websocket upgrade: %v", err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logf("warning: failed to close websocket: %v", err)
		}
	}()

	// The client never sends anything useful; reading detects disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(s.statusResponse()); err != nil {
			return
		}

		timer := s.clock.NewTimer(s.streamInterval)
		select {
		case <-timer.C():
		case <-gone:
			timer.Stop()
			return
		case <-s.done:
			timer.Stop()
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}
