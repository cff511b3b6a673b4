package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"tradeledger/src/auth"
	"tradeledger/src/handler"
	"tradeledger/src/ledger"
	"tradeledger/src/risk"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"
)

// NewRouter wires the public probes and the operator-only admin and ledger routes.
func NewRouter(breaker *risk.CircuitBreaker, ledgerSvc *ledger.Service, authenticator *auth.Authenticator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/healthcheck error")
		}
	})
	r.Handle("/metrics", promhttp.Handler())

	// Operator routes
	r.Group(func(r chi.Router) {
		r.Use(authenticator.Middleware)

		r.Route("/admin/circuit-breakers/{entityType}/{entityID}", func(r chi.Router) {
			r.Get("/", handler.CircuitBreakerStatusHandler(breaker))
			r.Post("/reset", handler.ResetCircuitBreakerHandler(breaker))
		})

		r.Route("/ledger/users/{userID}", func(r chi.Router) {
			r.Get("/summary", handler.LedgerSummaryHandler(ledgerSvc))
			r.Get("/profit", handler.ProfitSeriesHandler(ledgerSvc))
			r.Get("/integrity", handler.IntegrityHandler(ledgerSvc))
		})
	})

	return r
}

// StartServer serves h on port until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func StartServer(ctx context.Context, port string, h http.Handler, shutdownTimeout time.Duration) error {
	addr := ":" + port
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("Server crashed")
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		return err
	}
	return nil
}
