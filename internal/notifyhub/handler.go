package notifyhub

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // served on localhost only
	},
}

// Handler upgrades the request to WebSocket and registers the connection
// with the hub. When snapshot is set its result is sent first.
func Handler(hub *Hub, snapshot func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Debug("Websocket upgrade failed", "err", err)
			return
		}
		defer conn.Close()

		hub.Register(conn)
		defer hub.Unregister(conn)

		if snapshot != nil {
			if err := hub.Send(conn, snapshot()); err != nil {
				return
			}
		}

		// Read loop to detect client close
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}
}
