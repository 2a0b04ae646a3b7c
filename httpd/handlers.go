package httpd

import (
	"encoding/json"
	"net/http"
	"strconv"

	"cryogon/pleezer/player"
	"cryogon/pleezer/store"
)

type Server struct {
	Player     *player.Player
	Store      *store.Store
	DeviceName string
}

type trackInfo struct {
	ID     int64  `json:"id"`
	Type   string `json:"type"`
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist"`
}

type statusResponse struct {
	Device   string     `json:"device"`
	Playing  bool       `json:"playing"`
	Track    *trackInfo `json:"track,omitempty"`
	Progress float64    `json:"progress"`
	Duration int64      `json:"duration"`
	Volume   float64    `json:"volume"`
	Repeat   string     `json:"repeat"`
	Shuffle  bool       `json:"shuffle"`
	Position int        `json:"position"`
	Queue    int        `json:"queue_length"`
}

func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := s.Player.Status()
		resp := statusResponse{
			Device:   s.DeviceName,
			Playing:  status.Playing,
			Progress: status.Progress,
			Duration: int64(status.Duration.Seconds()),
			Volume:   status.Volume,
			Repeat:   status.Repeat.String(),
			Shuffle:  status.Shuffled,
			Position: status.Position,
			Queue:    len(s.Player.Queue()),
		}
		if t := status.Track; t != nil {
			resp.Track = &trackInfo{
				ID:     t.ID,
				Type:   t.Type.String(),
				Title:  t.Title,
				Artist: t.Artist,
			}
		}
		respondWithJSON(w, http.StatusOK, resp)
	}
}

type historyEntry struct {
	TrackID  int64  `json:"track_id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	PlayedAt string `json:"played_at"`
}

func (s *Server) handleHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "bad limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		plays, err := s.Store.RecentPlays(limit)
		if err != nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		entries := make([]historyEntry, 0, len(plays))
		for _, p := range plays {
			entries = append(entries, historyEntry{
				TrackID:  p.TrackID,
				Type:     p.TrackType,
				Title:    p.Title,
				Artist:   p.Artist,
				PlayedAt: p.PlayedAt.Format("2006-01-02T15:04:05Z07:00"),
			})
		}
		respondWithJSON(w, http.StatusOK, entries)
	}
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
