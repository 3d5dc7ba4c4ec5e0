package api

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Services  healthServices `json:"services"`
}

type healthServices struct {
	Scheduler string `json:"scheduler"`
	LastRun   string `json:"lastRun"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sched := "stopped"
	if s.sched != nil && s.sched.Running() {
		sched = "running"
	}
	last := "none"
	if run, ok := s.runs.Latest(); ok {
		last = "failed"
		if run.Succeeded {
			last = "succeeded"
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  healthServices{Scheduler: sched, LastRun: last},
	})
}
