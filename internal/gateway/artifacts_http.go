package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/conclave-ai/conclave/internal/artifacts"
)

// handleArtifactsList serves GET /api/v1/artifacts, filtered by the query
// parameters session_id, type, and limit.
func (s *Server) handleArtifactsList(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticateHTTP(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.artifactRepo == nil {
		http.Error(w, "artifact storage not configured", http.StatusNotFound)
		return
	}

	filter := artifacts.Filter{
		SessionID: r.URL.Query().Get("session_id"),
		Type:      r.URL.Query().Get("type"),
		Limit:     50,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 && limit <= 500 {
			filter.Limit = limit
		}
	}

	list, err := s.artifactRepo.ListArtifacts(r.Context(), filter)
	if err != nil {
		s.logger.Error("artifact list failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"artifacts": list,
		"at":        time.Now(),
	})
}

// handleArtifactGet serves GET /api/v1/artifacts/{id}, streaming the
// artifact data with its stored MIME type. Artifacts the redaction policy
// matches are withheld.
func (s *Server) handleArtifactGet(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticateHTTP(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.artifactRepo == nil {
		http.Error(w, "artifact storage not configured", http.StatusNotFound)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/artifacts/")
	if id == "" {
		http.Error(w, "missing artifact id", http.StatusBadRequest)
		return
	}

	artifact, data, err := s.artifactRepo.GetArtifact(r.Context(), id)
	if err != nil {
		http.Error(w, "artifact not found", http.StatusNotFound)
		return
	}
	defer data.Close()

	if s.artifactRedactor != nil && s.artifactRedactor.ShouldRedact(artifact) {
		http.Error(w, "artifact withheld by redaction policy", http.StatusForbidden)
		return
	}

	if artifact.MimeType != "" {
		w.Header().Set("Content-Type", artifact.MimeType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	if artifact.Filename != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+artifact.Filename+`"`)
	}
	if _, err := io.Copy(w, data); err != nil && s.logger != nil {
		s.logger.Debug("artifact stream interrupted", "id", id, "error", err)
	}
}
