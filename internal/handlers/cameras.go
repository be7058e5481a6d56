package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"webcamd/internal/config"
	"webcamd/internal/dto"
	"webcamd/internal/model"
	"webcamd/internal/repository"
	"webcamd/internal/services/acquisition"
	"webcamd/internal/services/storage"
)

// CamerasHandler lists every configured camera with its persisted state.
func CamerasHandler(cfg *config.Config, states repository.StateRepository, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cams := cfg.Cameras()
		out := make([]dto.CameraInfo, 0, len(cams))
		for _, cam := range cams {
			state, err := states.Get(cam.ID())
			if err != nil {
				log.Error().Err(err).Str("camera", cam.ID()).Msg("Failed to load camera state")
				writeError(w, http.StatusInternalServerError, "state unavailable", log)
				return
			}
			out = append(out, dto.NewCameraInfo(cam, acquisition.KindOf(cam), state))
		}
		writeJSON(w, http.StatusOK, out, log)
	}
}

// HistoryHandler returns a page of a camera's archive. The sqlite index is
// consulted first; the archive directory answers when the index fails.
func HistoryHandler(cfg *config.Config, index repository.FrameIndex, history *storage.HistoryStore, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		camIndex, err := strconv.Atoi(chi.URLParam(r, "cam"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "camera index must be a number", log)
			return
		}
		cam, err := cfg.Camera(chi.URLParam(r, "airport"), camIndex)
		if err != nil {
			if errors.Is(err, config.ErrCameraNotFound) {
				writeError(w, http.StatusNotFound, err.Error(), log)
				return
			}
			writeError(w, http.StatusInternalServerError, "camera lookup failed", log)
			return
		}

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		frames, err := listFrames(cam, index, history)
		if err != nil {
			log.Error().Err(err).Str("camera", cam.ID()).Msg("Failed to list history")
			writeError(w, http.StatusInternalServerError, "history unavailable", log)
			return
		}
		writeJSON(w, http.StatusOK, dto.Paginate(cam.ID(), frames, page, limit), log)
	}
}

func listFrames(cam model.Camera, index repository.FrameIndex, history *storage.HistoryStore) ([]model.HistoryFrame, error) {
	if index != nil {
		frames, err := index.List(cam.ID(), 0)
		if err == nil && len(frames) > 0 {
			return frames, nil
		}
	}
	if history == nil {
		return nil, nil
	}
	return history.Frames(cam.ID())
}
