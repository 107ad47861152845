package webserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/agusx1211/grotto/internal/daemon"
	"github.com/agusx1211/grotto/internal/debug"
	"github.com/agusx1211/grotto/internal/session"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		debug.LogKV("webserver", "failed to encode json response", "status", status, "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func sessionNotFound(id string) string {
	return fmt.Sprintf("Session '%s' not found", id)
}

type registerRequest struct {
	ID  string `json:"id"`
	Dir string `json:"dir"`
}

type sessionStatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (srv *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, srv.daemon.List(r.Context()))
}

func (srv *Server) handleRegisterSession(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	req.Dir = strings.TrimSpace(req.Dir)
	if req.ID == "" || req.Dir == "" {
		writeError(w, http.StatusBadRequest, "id and dir are required")
		return
	}

	entry, err := srv.daemon.Register(req.ID, req.Dir)
	if err != nil {
		if errors.Is(err, daemon.ErrNoSessionState) {
			writeError(w, http.StatusBadRequest, "No .grotto directory found at specified path")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, sessionStatusResponse{ID: entry.ID, Status: "registered"})
}

func (srv *Server) handleUnregisterSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := srv.daemon.Unregister(id); err != nil {
		if errors.Is(err, daemon.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, sessionNotFound(id))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionStatusResponse{ID: id, Status: "unregistered"})
}

func (srv *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, err := srv.daemon.Events(id)
	if err != nil {
		writeError(w, http.StatusNotFound, sessionNotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleSessionSnapshot returns the same snapshot message a WebSocket
// subscriber receives first.
func (srv *Server) handleSessionSnapshot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := srv.daemon.Snapshot(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, sessionNotFound(id))
		return
	}
	data, err := session.Encode(snap)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
