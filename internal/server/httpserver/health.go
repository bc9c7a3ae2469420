package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/yndnr/jalsync-go/internal/infra/buildinfo"
)

// HealthFunc reports the number of running sessions.
type HealthFunc func() int

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Sessions int    `json:"sessions"`
	Uptime   string `json:"uptime"`
}

func healthHandler(sessions HealthFunc, started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:  "ok",
			Version: buildinfo.Version,
			Uptime:  time.Since(started).Truncate(time.Second).String(),
		}
		if sessions != nil {
			resp.Sessions = sessions()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
