package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nkiryanov/examaccess/internal/db"
	"github.com/nkiryanov/examaccess/internal/logger"
	"github.com/nkiryanov/examaccess/internal/metrics"
	"github.com/nkiryanov/examaccess/internal/repository"
	"github.com/nkiryanov/examaccess/internal/repository/postgres"
	"github.com/nkiryanov/examaccess/internal/service/gateway"
	"github.com/nkiryanov/examaccess/internal/service/lifecycle"
	"github.com/nkiryanov/examaccess/internal/service/notify"
)

type storageOpener func(ctx context.Context, dsn string) (repository.Storage, func(), error)

// Settings shared by every command. Flags fall back to the same environment keys the server reads
type cliApp struct {
	databaseDSN string
	secretKey   string
	logLevel    string

	openStorage storageOpener
}

func newCLIApp(getenv func(string) string) *cliApp {
	a := &cliApp{
		databaseDSN: getenv("DATABASE_URI"),
		secretKey:   getenv("SECRET_KEY"),
		logLevel:    getenv("LOG_LEVEL"),
		openStorage: openPostgres,
	}
	if a.logLevel == "" {
		a.logLevel = logger.LevelWarn
	}
	return a
}

func openPostgres(ctx context.Context, dsn string) (repository.Storage, func(), error) {
	if dsn == "" {
		return nil, nil, errors.New("database is not configured, set --database or DATABASE_URI")
	}

	pool, err := db.ConnectAndMigrate(ctx, dsn, db.PoolConfig{MaxConns: 2, PingAttempts: 3})
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewStorage(pool), pool.Close, nil
}

func newRootCmd(a *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "examctl",
		Short: "Operate exam access tokens",
		Long: `examctl manages exam access tokens out of band: sweeps expired tokens,
seeds sample data and mints staff credentials for the HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&a.databaseDSN, "database", "d", a.databaseDSN, "Database connection string (env DATABASE_URI)")
	cmd.PersistentFlags().StringVarP(&a.secretKey, "secret-key", "s", a.secretKey, "Secret key staff credentials are signed with (env SECRET_KEY)")
	cmd.PersistentFlags().StringVarP(&a.logLevel, "log-level", "l", a.logLevel, "Logging level (debug, info, warn, error)")

	cmd.AddCommand(newCleanupCmd(a))
	cmd.AddCommand(newSeedCmd(a))
	cmd.AddCommand(newStaffTokenCmd(a))
	cmd.AddCommand(newSecretCmd())

	return cmd
}

// printNotifier shows issued tokens to the operator instead of delivering them
type printNotifier struct {
	out io.Writer
}

func (p printNotifier) Enqueue(n notify.Notice) bool {
	_, err := fmt.Fprintf(p.out, "  %s (%s): /api/access/%s valid until %s\n",
		n.SubjectName, n.Email, n.Secret, n.ValidUntil.Format(timeLayout))
	return err == nil
}

const timeLayout = "2006-01-02 15:04:05 MST"

// gateway opens storage and builds the same gateway the server uses
// Returned func releases the storage
func (a *cliApp) gateway(ctx context.Context, out io.Writer) (*gateway.Gateway, repository.Storage, func(), error) {
	l, err := logger.NewTextLogger(a.logLevel)
	if err != nil {
		return nil, nil, nil, err
	}

	storage, closeFn, err := a.openStorage(ctx, a.databaseDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("can't open storage: %w", err)
	}

	lc := lifecycle.New(lifecycle.DefaultConfig(), storage, lifecycle.WithLogger(l))
	gw := gateway.New(lc, gateway.StaffAuthorizer, printNotifier{out: out}, metrics.New(), l)

	return gw, storage, closeFn, nil
}
