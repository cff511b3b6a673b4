package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"tradeledger/cmd/serve"
	"tradeledger/cmd/services"
	"tradeledger/src/database"
	"tradeledger/src/executors"
	"tradeledger/src/model"
	"tradeledger/src/utils"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var Version string

func SetupLogger() {
	level, err := logrus.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		_, _ = fmt.Fprintln(os.Stderr, err)
	}
	SetupLogger()

	app := cli.NewApp()
	app.Name = "tradeledger"
	app.Usage = "Trade ledger, order admission and circuit breaker"
	app.Version = Version

	app.Commands = []cli.Command{
		serveCMD,
		migrateCMD,
		sweepCMD,
		resetBreakerCMD,
		reportCMD,
		verifyCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var ownerFlags = []cli.Flag{
	cli.UintFlag{Name: "user", Usage: "user id"},
	cli.UintFlag{Name: "bot", Usage: "bot id, all bots of the user when omitted"},
}

var (
	serveCMD = cli.Command{
		Name:        "serve",
		Usage:       "run the admin server and the pending order sweeper",
		Action:      serveAction,
		Description: `Serve the admin HTTP API, expire stale pending orders and stream mark prices`,
	}
	migrateCMD = cli.Command{
		Name:        "migrate",
		Usage:       "run schema and data migrations",
		Action:      migrateAction,
		Description: `Auto-migrate tables, install append-only triggers and backfill legacy balances`,
	}
	sweepCMD = cli.Command{
		Name:        "sweep",
		Usage:       "expire stale pending orders once",
		Action:      sweepAction,
		Description: `Expire pending orders past their TTL and purge terminal orders past retention`,
	}
	resetBreakerCMD = cli.Command{
		Name:   "reset-breaker",
		Usage:  "reset a tripped circuit breaker",
		Action: resetBreakerAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "entity", Value: "bot", Usage: "bot or user"},
			cli.UintFlag{Name: "id", Usage: "entity id"},
			cli.UintFlag{Name: "operator", Usage: "user id of the operator doing the reset"},
			cli.StringFlag{Name: "password", EnvVar: "OPERATOR_PASSWORD", Usage: "operator password, checked against ADMIN_OPERATORS"},
			cli.StringFlag{Name: "reason", Usage: "why the breaker can be cleared"},
		},
		Description: `Privileged, audited reset of a bot or user circuit breaker. The operator must be listed in ADMIN_OPERATORS`,
	}
	reportCMD = cli.Command{
		Name:   "report",
		Usage:  "print equity, drawdown and profit series as JSON",
		Action: reportAction,
		Flags: append([]cli.Flag{
			cli.StringFlag{Name: "period", Value: "day", Usage: "minute, hour, day, week or month"},
			cli.IntFlag{Name: "limit", Value: 30, Usage: "number of buckets"},
		}, ownerFlags...),
	}
	verifyCMD = cli.Command{
		Name:        "verify",
		Usage:       "check ledger integrity and reconcile legacy balances",
		Action:      verifyAction,
		Flags:       ownerFlags,
		Description: `Exits non-zero when an integrity violation is found`,
	}
)

func serveAction(_ *cli.Context) error {
	logrus.Info("Starting serve CMD")
	defer handlePanic()

	s := &serve.Serve{}
	if err := s.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func migrateAction(_ *cli.Context) error {
	logrus.Info("Starting migrate CMD")
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to migrate database")
		return err
	}
	return nil
}

// openServices connects MainDB and, for the report commands, the read-only
// replica.
func openServices(withReplica bool) (*services.Services, error) {
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to main database")
		return nil, err
	}
	if !withReplica {
		return services.New(database.MainDB, nil)
	}
	if err := database.InitReadOnlyDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to read-only database")
		return nil, err
	}
	return services.New(database.MainDB, database.Reporting())
}

func sweepAction(_ *cli.Context) error {
	svc, err := openServices(false)
	if err != nil {
		return err
	}
	return executors.SweepOnce(context.Background(), svc.Pipeline, executors.GetConfig().Retention)
}

func resetBreakerAction(c *cli.Context) error {
	entityType, err := model.ParseEntityType(c.String("entity"))
	if err != nil {
		return err
	}
	if c.Uint("id") == 0 {
		return errors.New("--id is required")
	}

	authenticator, err := services.Authenticator()
	if err != nil {
		return err
	}
	operator, err := authenticator.Authenticate(c.Uint("operator"), c.String("password"))
	if err != nil {
		return err
	}

	svc, err := openServices(false)
	if err != nil {
		return err
	}
	state, err := svc.Breaker.Reset(context.Background(), entityType, c.Uint("id"), operator.UserID, c.String("reason"))
	if err != nil {
		return err
	}
	return printJSON(state)
}

func ownerFromFlags(c *cli.Context) (model.Owner, error) {
	if c.Uint("user") == 0 {
		return model.Owner{}, errors.New("--user is required")
	}
	if c.Uint("bot") == 0 {
		return model.UserOwner(c.Uint("user")), nil
	}
	return model.BotOwner(c.Uint("user"), c.Uint("bot")), nil
}

func reportAction(c *cli.Context) error {
	owner, err := ownerFromFlags(c)
	if err != nil {
		return err
	}
	period, err := utils.ParsePeriod(c.String("period"))
	if err != nil {
		return err
	}

	svc, err := openServices(true)
	if err != nil {
		return err
	}
	ctx := context.Background()

	equity, err := svc.Reports.Equity(ctx, owner)
	if err != nil {
		return err
	}
	drawdown, err := svc.Reports.Drawdown(ctx, owner)
	if err != nil {
		return err
	}
	series, err := svc.Reports.ProfitSeries(ctx, owner, period, c.Int("limit"))
	if err != nil {
		return err
	}

	return printJSON(map[string]interface{}{
		"owner":    owner.String(),
		"equity":   equity,
		"drawdown": drawdown,
		"profit":   series,
	})
}

func verifyAction(c *cli.Context) error {
	owner, err := ownerFromFlags(c)
	if err != nil {
		return err
	}

	svc, err := openServices(true)
	if err != nil {
		return err
	}
	ctx := context.Background()

	integrity, err := svc.Reports.VerifyIntegrity(ctx, owner)
	if err != nil {
		return err
	}
	reconcile, err := svc.Reports.Reconcile(ctx, owner)
	if err != nil {
		return err
	}
	if err := printJSON(map[string]interface{}{"integrity": integrity, "reconcile": reconcile}); err != nil {
		return err
	}
	if !reconcile.Consistent {
		logrus.WithField("owner", owner.String()).Warn("ledger does not reconcile with legacy balances")
	}
	return integrity.Err()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func handlePanic() {
	if r := recover(); r != nil {
		logrus.WithError(fmt.Errorf("%+v", r)).Error("tradeledger panic")
		//nolint
		time.Sleep(time.Second * 5)
	}
}
