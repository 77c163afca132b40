// Package api exposes the screen time service over JSON HTTP. It is
// outer glue only; every decision is made in the service layer and
// below.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/screenwise/screenwise/internal/ledger"
	"github.com/screenwise/screenwise/internal/override"
	"github.com/screenwise/screenwise/internal/service"
	"github.com/screenwise/screenwise/internal/storage"
)

// Server is the API HTTP server.
type Server struct {
	service  *service.Service
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates the API server bound to addr.
func NewServer(addr string, svc *service.Service, logger zerolog.Logger) *Server {
	s := &Server{
		service: svc,
		logger:  logger.With().Str("component", "api").Logger(),
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/usage", s.handleRecordUsage).Methods(http.MethodPost)
	v1.HandleFunc("/usage", s.handleGetDay).Methods(http.MethodGet)
	v1.HandleFunc("/limits", s.handleSetLimit).Methods(http.MethodPost)
	v1.HandleFunc("/limits/daily", s.handleSetDailyLimit).Methods(http.MethodPost)
	v1.HandleFunc("/breaks", s.handleRecordBreak).Methods(http.MethodPost)
	v1.HandleFunc("/focus-sessions", s.handleRecordFocusSession).Methods(http.MethodPost)
	v1.HandleFunc("/override/evaluate", s.handleEvaluateOverride).Methods(http.MethodPost)
	v1.HandleFunc("/override/resolve", s.handleResolveOverride).Methods(http.MethodPost)
	v1.HandleFunc("/trust-score", s.handleTrustScore).Methods(http.MethodGet)
	v1.HandleFunc("/patterns", s.handlePatterns).Methods(http.MethodGet)
	v1.HandleFunc("/coach", s.handleCoach).Methods(http.MethodPost)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting API server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type usageRequest struct {
	UserID   string `json:"user_id"`
	App      string `json:"app"`
	Category string `json:"category"`
	Date     string `json:"date"`
	Minutes  int    `json:"minutes"`
	Hour     *int   `json:"hour"`
}

func (s *Server) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	var req usageRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" || req.App == "" {
		writeError(w, http.StatusBadRequest, "user_id and app are required")
		return
	}
	hour := -1
	if req.Hour != nil {
		hour = *req.Hour
	}
	err := s.service.RecordUsage(r.Context(), req.UserID, req.App, storage.ParseCategory(req.Category), req.Date, req.Minutes, hour)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleGetDay(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().Format(storage.DateFormat)
	}
	records, err := s.service.GetDay(r.Context(), userID, date)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type limitRequest struct {
	UserID  string `json:"user_id"`
	App     string `json:"app"`
	Date    string `json:"date"`
	Minutes int    `json:"minutes"`
}

func (s *Server) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	var req limitRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" || req.App == "" {
		writeError(w, http.StatusBadRequest, "user_id and app are required")
		return
	}
	if err := s.service.SetLimit(r.Context(), req.UserID, req.App, req.Date, req.Minutes); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleSetDailyLimit(w http.ResponseWriter, r *http.Request) {
	var req limitRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if err := s.service.SetDailyLimit(r.Context(), req.UserID, req.Date, req.Minutes); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

type dayRequest struct {
	UserID string `json:"user_id"`
	Date   string `json:"date"`
}

func (s *Server) handleRecordBreak(w http.ResponseWriter, r *http.Request) {
	var req dayRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if err := s.service.RecordBreak(r.Context(), req.UserID, req.Date); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleRecordFocusSession(w http.ResponseWriter, r *http.Request) {
	var req dayRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if err := s.service.RecordFocusSession(r.Context(), req.UserID, req.Date); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

type evaluateRequest struct {
	UserID           string `json:"user_id"`
	App              string `json:"app"`
	Category         string `json:"category"`
	RequestedMinutes int    `json:"requested_minutes"`
	Reason           string `json:"reason"`
	Date             string `json:"date"`
	Hour             *int   `json:"hour"`
}

func (s *Server) handleEvaluateOverride(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !decode(w, r, &req) {
		return
	}
	hour := -1
	if req.Hour != nil {
		hour = *req.Hour
	}
	decision, err := s.service.EvaluateOverride(r.Context(), override.Request{
		UserID:           req.UserID,
		App:              req.App,
		Category:         storage.ParseCategory(req.Category),
		RequestedMinutes: req.RequestedMinutes,
		Reason:           req.Reason,
		Date:             req.Date,
		Hour:             hour,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

type resolveRequest struct {
	DecisionID string `json:"decision_id"`
	Accept     bool   `json:"accept"`
}

func (s *Server) handleResolveOverride(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decode(w, r, &req) {
		return
	}
	if req.DecisionID == "" {
		writeError(w, http.StatusBadRequest, "decision_id is required")
		return
	}
	if err := s.service.ResolveOverride(r.Context(), req.DecisionID, req.Accept); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleTrustScore(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	score, err := s.service.GetTrustScore(r.Context(), userID, r.URL.Query().Get("date"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &days); err != nil {
			writeError(w, http.StatusBadRequest, "days must be an integer")
			return
		}
	}
	p, err := s.service.GetUsagePatterns(r.Context(), userID, r.URL.Query().Get("date"), days)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type coachRequest struct {
	UserID string `json:"user_id"`
	Date   string `json:"date"`
	Input  string `json:"input"`
}

func (s *Server) handleCoach(w http.ResponseWriter, r *http.Request) {
	var req coachRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	resp, err := s.service.Coach(r.Context(), req.UserID, req.Date, req.Input)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeServiceError maps domain errors onto HTTP status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, service.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, override.ErrInvalidRequest),
		errors.Is(err, ledger.ErrNegativeDelta),
		errors.Is(err, service.ErrDeltaTooLarge):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrConflict), errors.Is(err, override.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	if data == nil {
		w.WriteHeader(statusCode)
		return
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}
