package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"marketplace-repricer/internal/monitor"
	"marketplace-repricer/internal/pricing"
	"marketplace-repricer/internal/registry"
	"marketplace-repricer/internal/storage"
)

const defaultListLimit = 50

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, errorResponse{Error: msg})
}

// serviceError maps domain sentinels onto HTTP statuses.
func (s *Server) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, monitor.ErrNotMonitored):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, monitor.ErrNotPending):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, monitor.ErrNoCompetitors), errors.Is(err, monitor.ErrInvalidSubscription):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrAttemptNotFound), errors.Is(err, storage.ErrSettingsNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrAlreadyResolved):
		s.respondError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error().Err(err).Msg("request failed")
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func limitParam(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return limit
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.svc.Registry().List())
}

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := s.attempts.ListRecentAttempts(r.Context(), limitParam(r))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, attempts)
}

func (s *Server) handleProductAttempts(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	attempts, err := s.attempts.ListAttemptsByProduct(r.Context(), productID, limitParam(r))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, attempts)
}

type competitorPayload struct {
	CompetitorID string          `json:"competitor_id"`
	Price        decimal.Decimal `json:"price"`
}

type startMonitoringRequest struct {
	Name         string              `json:"name"`
	CurrentPrice decimal.Decimal     `json:"current_price"`
	Competitors  []competitorPayload `json:"competitors"`
	Strategy     pricing.Strategy    `json:"strategy"`
}

func (s *Server) handleStartMonitoring(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	var req startMonitoringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !req.CurrentPrice.IsPositive() {
		s.respondError(w, http.StatusBadRequest, "current_price must be positive")
		return
	}

	now := time.Now().UTC()
	observations := make([]pricing.Observation, 0, len(req.Competitors))
	for _, c := range req.Competitors {
		observations = append(observations, pricing.Observation{
			CompetitorID: c.CompetitorID,
			Price:        c.Price,
			ObservedAt:   now,
		})
	}

	product := registry.Product{
		ID:           productID,
		Name:         req.Name,
		CurrentPrice: req.CurrentPrice,
	}
	if err := s.svc.StartMonitoring(r.Context(), product, observations, req.Strategy); err != nil {
		// Validation problems are the client's; anything else (settings
		// store, registry) is ours.
		s.serviceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"product_id": productID, "status": "monitoring"})
}

func (s *Server) handleStopMonitoring(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	if err := s.svc.StopMonitoring(r.Context(), productID); err != nil {
		s.serviceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"product_id": productID, "status": "stopped"})
}

type applyPriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

func (s *Server) handleApplyManual(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	var req applyPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !req.Price.IsPositive() {
		s.respondError(w, http.StatusBadRequest, "price must be positive")
		return
	}

	attempt, err := s.svc.ApplyManual(r.Context(), productID, req.Price)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, attempt)
}

func (s *Server) handleConfirmAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attemptID")
	attempt, err := s.svc.ConfirmAttempt(r.Context(), attemptID)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, attempt)
}

func (s *Server) handleRejectAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attemptID")
	attempt, err := s.svc.RejectAttempt(r.Context(), attemptID)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, attempt)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	settings, err := s.settings.GetSettings(r.Context(), productID)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, settings)
}

type putSettingsRequest struct {
	Mode                      storage.ApplyMode `json:"mode"`
	MonitoringIntervalMinutes int               `json:"monitoring_interval_minutes"`
	MaxPriceChangePercent     decimal.Decimal   `json:"max_price_change_percent"`
	MaxDailyChanges           int               `json:"max_daily_changes"`
	MinMinutesBetweenChanges  int               `json:"min_minutes_between_changes"`
}

func (req putSettingsRequest) validate() error {
	switch req.Mode {
	case storage.ModeManual, storage.ModeAutoConfirm, storage.ModeAuto:
	default:
		return errors.New("mode must be manual, auto_confirm, or auto")
	}
	if !req.MaxPriceChangePercent.IsPositive() || req.MaxPriceChangePercent.GreaterThan(decimal.NewFromInt(100)) {
		return errors.New("max_price_change_percent must be in (0, 100]")
	}
	if req.MaxDailyChanges < 1 {
		return errors.New("max_daily_changes must be at least 1")
	}
	if req.MinMinutesBetweenChanges < 0 {
		return errors.New("min_minutes_between_changes cannot be negative")
	}
	if req.MonitoringIntervalMinutes < 1 {
		return errors.New("monitoring_interval_minutes must be at least 1")
	}
	return nil
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	var req putSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	settings := storage.AutomationSettings{
		ProductID:                 productID,
		Mode:                      req.Mode,
		MonitoringIntervalMinutes: req.MonitoringIntervalMinutes,
		MaxPriceChangePercent:     req.MaxPriceChangePercent,
		MaxDailyChanges:           req.MaxDailyChanges,
		MinMinutesBetweenChanges:  req.MinMinutesBetweenChanges,
		UpdatedAt:                 now,
	}
	if existing, err := s.settings.GetSettings(r.Context(), productID); err == nil {
		settings.CreatedAt = existing.CreatedAt
	} else {
		settings.CreatedAt = now
	}

	if err := s.settings.UpsertSettings(r.Context(), settings); err != nil {
		s.serviceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, settings)
}
