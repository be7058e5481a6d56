package handlers

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type healthResponse struct {
	Status  string    `json:"status"`
	Cameras int       `json:"cameras"`
	Viewers int       `json:"viewers"`
	Time    time.Time `json:"time"`
}

// ClientCounter reports connected websocket viewers.
type ClientCounter interface {
	GetClientCount() int
}

func HealthHandler(cameras int, viewers ClientCounter, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Cameras: cameras, Time: time.Now().UTC()}
		if viewers != nil {
			resp.Viewers = viewers.GetClientCount()
		}
		writeJSON(w, http.StatusOK, resp, log)
	}
}
