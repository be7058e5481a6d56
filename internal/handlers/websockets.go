package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	wshub "webcamd/internal/services/websocket"
)

var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler registers a viewer with the hub. Viewers only
// receive; anything they send is read and dropped to service pongs.
func ViewWebsocketHandler(hub *wshub.HubService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("WebSocket upgrade error")
			return
		}
		connection.SetReadLimit(512)
		connection.SetReadDeadline(time.Now().Add(60 * time.Second))
		connection.SetPongHandler(func(appData string) error {
			connection.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		defer connection.Close()

		hub.Register(connection)
		defer hub.Unregister(connection)

		log.Debug().Str("remote", r.RemoteAddr).Msg("Viewer connected")

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				log.Debug().Err(err).Msg("Viewer disconnected")
				break
			}
		}
	}
}
