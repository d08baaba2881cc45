// Package health provides the liveness and readiness handlers of the status
// server.
//
//   - /healthz is a liveness probe and always returns 200 OK.
//   - /readyz returns 200 only when every registered [Checker] passes. The
//     translation client is ready when its audio pipeline is up and a
//     provider session is connected.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/dolmetscher/internal/session"
)

const checkTimeout = 2 * time.Second

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates checkers concurrently on each
// /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 only when every checker passes within checkTimeout.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			err := c.Check(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// WriteJSON encodes v as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusSource reports the coordinator's connection status.
type StatusSource interface {
	Status() session.Status
}

var (
	errPipelineDown = errors.New("audio pipeline not acquired")
	errNotConnected = errors.New("session not connected")
)

// PipelineChecker passes while the audio pipeline is acquired.
func PipelineChecker(src StatusSource) Checker {
	return Checker{Name: "pipeline", Check: func(context.Context) error {
		if !src.Status().PipelineUp {
			return errPipelineDown
		}
		return nil
	}}
}

// SessionChecker passes while a provider session is connected. The failure
// message carries the connection state and its last error.
func SessionChecker(src StatusSource) Checker {
	return Checker{Name: "session", Check: func(context.Context) error {
		st := src.Status()
		if st.State == session.StateConnected {
			return nil
		}
		if st.Err != "" {
			return errors.New(st.State.String() + ": " + st.Err)
		}
		return errors.New(st.State.String() + ": " + errNotConnected.Error())
	}}
}
