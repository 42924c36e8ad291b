package server

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/models"
)

type searchResponse struct {
	Success   bool                  `json:"success"`
	Query     string                `json:"query"`
	Results   []*models.QueryResult `json:"results"`
	Count     int                   `json:"count"`
	QueryTime int64                 `json:"query_time_ms"`
}

type statsResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	Stats   *models.Stats `json:"stats"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("top_k", query.TopK), zap.String("mode", string(query.Mode)))
	response, err := s.service.Do(r.Context(), &query)
	if err != nil {
		s.respondFailure(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, searchResponse{
		Success:   true,
		Query:     response.Query,
		Results:   response.Results,
		Count:     response.Count,
		QueryTime: response.QueryTime,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		s.respondFailure(w, "stats failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, statsResponse{Success: true, Stats: stats})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("rebuild request")
	// A rebuild clears the collection first, so it runs to completion even if the client
	// goes away or the request times out.
	ctx := context.WithoutCancel(r.Context())
	if _, err := s.service.Rebuild(ctx); err != nil {
		s.respondFailure(w, "rebuild failed", err)
		return
	}
	stats, err := s.service.Stats(ctx)
	if err != nil {
		s.respondFailure(w, "stats failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, statsResponse{Success: true, Message: "knowledge base rebuilt", Stats: stats})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "knowledge_service"})
}

// statusFor maps an error kind to an HTTP status code.
func statusFor(err error) int {
	switch models.ErrorKind(err) {
	case models.KindInvalidInput:
		return http.StatusBadRequest
	case models.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case models.KindPrecondition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondFailure(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
