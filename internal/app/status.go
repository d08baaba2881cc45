package app

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/dolmetscher/internal/health"
	"github.com/MrWong99/dolmetscher/internal/session"
	"github.com/MrWong99/dolmetscher/internal/transcript"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	session.Status

	Session      *SessionInfo    `json:"session,omitempty"`
	PartialUser  string          `json:"partial_user,omitempty"`
	PartialModel string          `json:"partial_model,omitempty"`
	InputLevel   float32         `json:"input_level"`
	LastEvent    *time.Time      `json:"last_event,omitempty"`
	Messages     []StatusMessage `json:"messages"`
}

// StatusMessage is a finalized transcript message as served by /status.
type StatusMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func (a *App) statusMux() *http.ServeMux {
	mux := http.NewServeMux()
	health.New(
		health.SessionChecker(a.coord),
		health.PipelineChecker(a.coord),
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /status", a.handleStatus)
	mux.HandleFunc("POST /session/start", a.handleStart)
	mux.HandleFunc("POST /session/stop", a.handleStop)
	return mux
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Status:       a.coord.Status(),
		PartialUser:  a.coord.Display(transcript.RoleUser),
		PartialModel: a.coord.Display(transcript.RoleModel),
		InputLevel:   a.coord.InputLevel(),
	}
	if a.sessions.IsActive() {
		info := a.sessions.Info()
		resp.Session = &info
	}
	if seen := a.coord.LastSeen(); !seen.IsZero() {
		resp.LastEvent = &seen
	}

	msgs := a.history.Messages()
	resp.Messages = make([]StatusMessage, len(msgs))
	for i, m := range msgs {
		resp.Messages[i] = StatusMessage{ID: m.ID, Role: m.Role.String(), Text: m.Text, Timestamp: m.Timestamp}
	}
	health.WriteJSON(w, http.StatusOK, resp)
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Start(r.Context()); err != nil {
		health.WriteJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	health.WriteJSON(w, http.StatusAccepted, a.sessions.Info())
}

func (a *App) handleStop(w http.ResponseWriter, r *http.Request) {
	err := a.sessions.Stop(r.Context())
	switch {
	case errors.Is(err, ErrNoActiveSession):
		health.WriteJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case err != nil:
		health.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
