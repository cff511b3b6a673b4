package handler

import (
	"context"
	"net/http"
	"strconv"

	"tradeledger/src/ledger"
	"tradeledger/src/model"
	"tradeledger/src/utils"

	logger "github.com/sirupsen/logrus"
)

type ledgerReader interface {
	Equity(ctx context.Context, owner model.Owner) (ledger.EquityBreakdown, error)
	Drawdown(ctx context.Context, owner model.Owner) (ledger.DrawdownReport, error)
	ProfitSeries(ctx context.Context, owner model.Owner, period utils.Period, limit int) ([]ledger.ProfitBucket, error)
	VerifyIntegrity(ctx context.Context, owner model.Owner) (ledger.IntegrityReport, error)
	Reconcile(ctx context.Context, owner model.Owner) (ledger.ReconcileReport, error)
}

type summaryResponse struct {
	Owner    string                 `json:"owner"`
	Equity   ledger.EquityBreakdown `json:"equity"`
	Drawdown ledger.DrawdownReport  `json:"drawdown"`
}

// LedgerSummaryHandler returns equity and drawdown for a user, or one of its
// bots when botId is given.
func LedgerSummaryHandler(svc ledgerReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFromRequest(r)
		if !ok {
			http.Error(w, "invalid owner", http.StatusBadRequest)
			return
		}

		equity, err := svc.Equity(r.Context(), owner)
		if err != nil {
			logger.WithFields(owner.Fields()).WithError(err).Error("failed to compute equity")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		drawdown, err := svc.Drawdown(r.Context(), owner)
		if err != nil {
			logger.WithFields(owner.Fields()).WithError(err).Error("failed to compute drawdown")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, summaryResponse{Owner: owner.String(), Equity: equity, Drawdown: drawdown})
	}
}

// ProfitSeriesHandler supports period (minute, hour, day, week, month;
// default day) and limit (default 30).
func ProfitSeriesHandler(svc ledgerReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFromRequest(r)
		if !ok {
			http.Error(w, "invalid owner", http.StatusBadRequest)
			return
		}

		period := utils.PeriodDay
		if periodParam := r.URL.Query().Get("period"); periodParam != "" {
			parsed, err := utils.ParsePeriod(periodParam)
			if err != nil {
				http.Error(w, "invalid period", http.StatusBadRequest)
				return
			}
			period = parsed
		}

		limit := 30
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		buckets, err := svc.ProfitSeries(r.Context(), owner, period, limit)
		if err != nil {
			logger.WithFields(owner.Fields()).WithError(err).Error("failed to build profit series")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if buckets == nil {
			buckets = []ledger.ProfitBucket{}
		}

		writeJSON(w, http.StatusOK, buckets)
	}
}

type integrityResponse struct {
	Integrity ledger.IntegrityReport `json:"integrity"`
	Reconcile ledger.ReconcileReport `json:"reconcile"`
}

// IntegrityHandler runs the integrity checks and the legacy balance
// reconciliation. A failed check is still a 200: the body carries the findings.
func IntegrityHandler(svc ledgerReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFromRequest(r)
		if !ok {
			http.Error(w, "invalid owner", http.StatusBadRequest)
			return
		}

		integrity, err := svc.VerifyIntegrity(r.Context(), owner)
		if err != nil {
			logger.WithFields(owner.Fields()).WithError(err).Error("failed to verify ledger integrity")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		reconcile, err := svc.Reconcile(r.Context(), owner)
		if err != nil {
			logger.WithFields(owner.Fields()).WithError(err).Error("failed to reconcile ledger")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, integrityResponse{Integrity: integrity, Reconcile: reconcile})
	}
}
