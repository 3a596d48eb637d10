package server

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// defaultHistoryLimit caps history responses when no limit is given.
const defaultHistoryLimit = 50

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	// Readiness means the store answers; a cheap read proves it.
	if _, err := s.service.Overview(r.Context()); err != nil {
		s.logger.Error("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")

	snapshot, err := s.service.Snapshot(r.Context(), identity)
	if err != nil {
		s.logger.Error("usage snapshot failed", "identity", identity, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := s.service.History(r.Context(), identity, limit)
	if err != nil {
		s.logger.Error("usage history failed", "identity", identity, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity": identity,
		"entries":  entries,
	})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.Overview(r.Context())
	if err != nil {
		s.logger.Error("records overview failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load records")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleBehavior(w http.ResponseWriter, r *http.Request) {
	device := r.PathValue("device")
	writeJSON(w, http.StatusOK, map[string]any{
		"device":     device,
		"suspicious": s.service.IsSuspicious(device),
		"activities": s.service.Activities(device),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
