package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradeledger/cmd/services"
	"tradeledger/src/database"
	"tradeledger/src/executors"
	"tradeledger/src/server"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Serve struct{}

// Start runs the admin server, the pending-order sweeper and the optional
// price stream until SIGINT or SIGTERM.
func (s *Serve) Start() error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to main database")
		return err
	}

	// Initialize read-only database
	if err := database.InitReadOnlyDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to read-only database")
		return err
	}

	svc, err := services.New(database.MainDB, database.Reporting())
	if err != nil {
		return err
	}
	authenticator, err := services.Authenticator()
	if err != nil {
		logrus.WithError(err).Error("Invalid ADMIN_OPERATORS")
		return err
	}
	if authenticator.Len() == 0 {
		logrus.Warn("No operators configured, admin routes will refuse every request")
	}

	serverConfig := server.GetConfig()
	sweepConfig := executors.GetConfig()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		router := server.NewRouter(svc.Breaker, svc.Reports, authenticator)
		return server.StartServer(ctx, serverConfig.Port, router, serverConfig.ShutdownTimeout)
	})
	g.Go(func() error {
		return executors.StartSweepLoop(ctx, svc.Pipeline, sweepConfig)
	})
	if svc.Stream != nil {
		g.Go(func() error {
			svc.Stream.RunForever(ctx, 5*time.Second)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logrus.WithError(err).Error("serve stopped with error")
		return err
	}
	logrus.Info("serve stopped")
	return nil
}
