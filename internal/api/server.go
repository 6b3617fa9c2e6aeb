// Package api exposes the control surface over HTTP: fades, immediate
// apply, the scene catalog and progress reporting.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fadectl/internal/eventbus"
	"github.com/dokzlo13/fadectl/internal/fade"
	"github.com/dokzlo13/fadectl/internal/light"
	"github.com/dokzlo13/fadectl/internal/scene"
)

// Server is the HTTP control server.
type Server struct {
	addr       string
	ctrl       *fade.Controller
	scenes     *scene.Store
	bus        *eventbus.Bus
	httpServer *http.Server
}

// NewServer creates a control server. The bus may be nil; scene_applied
// events are then not published.
func NewServer(host string, port int, ctrl *fade.Controller, scenes *scene.Store, bus *eventbus.Bus) *Server {
	return &Server{
		addr:   fmt.Sprintf("%s:%d", host, port),
		ctrl:   ctrl,
		scenes: scenes,
		bus:    bus,
	}
}

// Run starts the server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/progress", s.handleProgress)
	mux.HandleFunc("/current", s.handleCurrent)
	mux.HandleFunc("/fade", s.handleFade)
	mux.HandleFunc("/apply", s.handleApply)
	mux.HandleFunc("/abort", s.handleAbort)
	mux.HandleFunc("/scenes", s.handleScenes)
	mux.HandleFunc("/scenes/", s.handleScene)

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// fadeRequest is the body of POST /fade.
type fadeRequest struct {
	Target     light.State `json:"target"`
	DurationMS int64       `json:"duration_ms"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	p := s.ctrl.Progress()
	writeJSON(w, http.StatusOK, map[string]any{
		"state":      p.State.String(),
		"current":    p.Current,
		"elapsed_ms": p.Elapsed.Milliseconds(),
		"total_ms":   p.Total.Milliseconds(),
		"percent":    p.Percent,
	})
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Current())
}

func (s *Server) handleFade(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req fadeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	err := s.ctrl.Start(&fade.Params{
		Target:   req.Target,
		Duration: time.Duration(req.DurationMS) * time.Millisecond,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "fading"})
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var target light.State
	if err := json.NewDecoder(r.Body).Decode(&target); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	if err := s.ctrl.ApplyImmediate(target); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "applied"})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.ctrl.Abort()
	writeJSON(w, http.StatusOK, map[string]any{"status": "aborted"})
}

func (s *Server) handleScenes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	scenes, err := s.scenes.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, scenes)
}

// handleScene serves /scenes/{name} and /scenes/{name}/apply.
func (s *Server) handleScene(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/scenes/")
	name, action, _ := strings.Cut(rest, "/")
	if name == "" {
		http.NotFound(w, r)
		return
	}

	if action == "apply" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.applyScene(w, r, name)
		return
	}
	if action != "" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		sc, err := s.scenes.Get(name)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, sc)

	case http.MethodPut:
		var sc scene.Scene
		if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
		sc.Name = name
		if err := s.scenes.Save(sc); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "saved"})

	case http.MethodDelete:
		if err := s.scenes.Delete(name); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})

	default:
		methodNotAllowed(w)
	}
}

// sceneApplyRequest optionally overrides the scene's stored fade time.
type sceneApplyRequest struct {
	DurationMS *int64 `json:"duration_ms"`
}

func (s *Server) applyScene(w http.ResponseWriter, r *http.Request, name string) {
	sc, err := s.scenes.Get(name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	duration := sc.FadeTime
	var req sceneApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.DurationMS != nil {
		duration = time.Duration(*req.DurationMS) * time.Millisecond
	}

	if err := s.ctrl.Start(&fade.Params{Target: sc.State, Duration: duration}); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeSceneApplied,
			Data: map[string]any{
				"scene":       sc.Name,
				"target":      sc.State,
				"duration_ms": duration.Milliseconds(),
				"source":      "api",
			},
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "fading", "scene": sc.Name})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, scene.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scene.ErrCatalogFull):
		return http.StatusConflict
	case errors.Is(err, fade.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, fade.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode API response")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
