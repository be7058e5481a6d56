package dto

import "webcamd/internal/model"

// HistoryPage is one page of a camera's archive, newest first.
type HistoryPage struct {
	Camera      string               `json:"camera"`
	Frames      []model.HistoryFrame `json:"frames"`
	Length      int                  `json:"length"`
	TotalPages  int                  `json:"total_pages"`
	CurrentPage int                  `json:"current_page"`
	Limit       int                  `json:"page_size"`
}

// Paginate slices frames into the requested page. Out-of-range pages yield
// an empty frame list.
func Paginate(camera string, frames []model.HistoryFrame, page, limit int) HistoryPage {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}

	start := (page - 1) * limit
	end := start + limit
	if start > len(frames) {
		start = len(frames)
	}
	if end > len(frames) {
		end = len(frames)
	}

	return HistoryPage{
		Camera:      camera,
		Frames:      frames[start:end],
		Length:      len(frames),
		TotalPages:  (len(frames) + limit - 1) / limit,
		CurrentPage: page,
		Limit:       limit,
	}
}
