package server

import (
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"spotline/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const streamInterval = time.Second

// registerStream mounts the websocket progress feed directly on the chi
// router; it bypasses the OpenAPI layer.
func (s *server) registerStream(router chi.Router, basePath string) {
	router.Get(path.Join(basePath, "projects/{project_id}/progress/ws"), s.handleProgressStream)
}

// handleProgressStream pushes a progress snapshot every second until the
// pipeline reaches a terminal stage or the client goes away.
func (s *server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	if _, err := s.engine.GetProject(r.Context(), projectID); err != nil {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Drain control frames so pings and close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	var lastOverall = -1
	var lastStage string
	for {
		p, rep, err := s.engine.Progress(r.Context(), projectID)
		if err != nil {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "progress unavailable"))
			return
		}
		if rep.Overall != lastOverall || p.Stage != lastStage {
			lastOverall, lastStage = rep.Overall, p.Stage
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(progressResponse(p, rep)); err != nil {
				return
			}
		}
		if p.Stage == domain.StageCompleted || p.Stage == domain.StageFailed {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, p.Stage))
			return
		}
		select {
		case <-ticker.C:
		case <-r.Context().Done():
			return
		}
	}
}
