package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"tradeledger/src/auth"
	"tradeledger/src/model"
	"tradeledger/src/risk"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
)

type breakerService interface {
	Reset(ctx context.Context, entityType model.EntityType, entityID, resetByUserID uint, reason string) (*model.CircuitBreakerState, error)
	Status(ctx context.Context, entityType model.EntityType, entityID uint) (risk.Status, error)
	History(ctx context.Context, entityType model.EntityType, entityID uint, limit int) ([]model.CircuitBreakerState, error)
}

type resetPayload struct {
	Reason string `json:"reason"`
}

func breakerEntity(r *http.Request) (model.EntityType, uint, bool) {
	entityType, err := model.ParseEntityType(chi.URLParam(r, "entityType"))
	if err != nil {
		return "", 0, false
	}
	entityID, ok := uintParam(r, "entityID")
	if !ok {
		return "", 0, false
	}
	return entityType, entityID, true
}

// ResetCircuitBreakerHandler clears a tripped breaker on behalf of the
// authenticated operator.
func ResetCircuitBreakerHandler(svc breakerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		operator, ok := auth.GetOperatorFromContext(r.Context())
		if !ok || operator == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		entityType, entityID, ok := breakerEntity(r)
		if !ok {
			http.Error(w, "invalid entity", http.StatusBadRequest)
			return
		}

		var payload resetPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil || strings.TrimSpace(payload.Reason) == "" {
			http.Error(w, "reason is required", http.StatusBadRequest)
			return
		}

		state, err := svc.Reset(r.Context(), entityType, entityID, operator.UserID, strings.TrimSpace(payload.Reason))
		if err != nil {
			if errors.Is(err, model.ErrNotTripped) {
				http.Error(w, "circuit breaker is not tripped", http.StatusConflict)
				return
			}
			logger.WithError(err).Error("failed to reset circuit breaker")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, state)
	}
}

type breakerStatusResponse struct {
	risk.Status
	History []model.CircuitBreakerState `json:"history"`
}

// CircuitBreakerStatusHandler returns the active trip, if any, and recent history.
func CircuitBreakerStatusHandler(svc breakerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entityType, entityID, ok := breakerEntity(r)
		if !ok {
			http.Error(w, "invalid entity", http.StatusBadRequest)
			return
		}

		status, err := svc.Status(r.Context(), entityType, entityID)
		if err != nil {
			logger.WithError(err).Error("failed to load circuit breaker status")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		history, err := svc.History(r.Context(), entityType, entityID, 20)
		if err != nil {
			logger.WithError(err).Error("failed to load circuit breaker history")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, breakerStatusResponse{Status: status, History: history})
	}
}
