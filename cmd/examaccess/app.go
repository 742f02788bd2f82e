package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nkiryanov/examaccess/internal/db"
	"github.com/nkiryanov/examaccess/internal/handlers"
	"github.com/nkiryanov/examaccess/internal/logger"
	"github.com/nkiryanov/examaccess/internal/metrics"
	"github.com/nkiryanov/examaccess/internal/repository"
	"github.com/nkiryanov/examaccess/internal/repository/memory"
	"github.com/nkiryanov/examaccess/internal/repository/postgres"
	"github.com/nkiryanov/examaccess/internal/service/gateway"
	"github.com/nkiryanov/examaccess/internal/service/lifecycle"
	"github.com/nkiryanov/examaccess/internal/service/notify"
	"github.com/nkiryanov/examaccess/internal/service/staffauth"
	"github.com/nkiryanov/examaccess/internal/service/sweeper"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger     logger.Logger
	dispatcher *notify.Dispatcher
	sweeper    *sweeper.Sweeper // nil if sweeping disabled
	close      func()
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	var storage repository.Storage
	closeStorage := func() {}
	if c.DatabaseDSN == "" {
		logger.Warn("Database is not configured, tokens are kept in memory")
		storage = memory.New()
	} else {
		pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN, db.PoolConfig{PingAttempts: 5})
		if err != nil {
			return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
		}
		storage = postgres.NewStorage(pool)
		closeStorage = pool.Close
	}

	m := metrics.New()

	// Initialize services
	lcConfig := lifecycle.DefaultConfig()
	lcConfig.ReplaceActive = c.ReplaceActive
	lcConfig.DefaultBatchSize = c.CleanupBatchSize
	lc := lifecycle.New(lcConfig, storage, lifecycle.WithLogger(logger))

	var sender notify.Sender = notify.LogSender{Logger: logger}
	if c.NotifyWebhookURL != "" {
		sender = notify.NewWebhookSender(c.NotifyWebhookURL, logger)
	}
	dispatcher := notify.NewDispatcher(notify.Config{}, sender, m, logger)

	gw := gateway.New(lc, gateway.StaffAuthorizer, dispatcher, m, logger)

	auth, err := staffauth.New(staffauth.Config{SecretKey: c.SecretKey})
	if err != nil {
		closeStorage()
		return nil, fmt.Errorf("error while creating staff authenticator. Err: %w", err)
	}

	var sw *sweeper.Sweeper
	if c.SweepInterval > 0 {
		sw = sweeper.New(sweeper.Config{
			Interval:      c.SweepInterval,
			RetentionDays: c.RetentionDays,
			BatchSize:     c.CleanupBatchSize,
		}, gw, logger)
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		RedeemLimit:  c.RedeemRateLimit,
		RedeemWindow: time.Hour,
		Metrics:      m.Handler(),
	}, gw, auth, logger)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    router,
		logger:     logger,
		dispatcher: dispatcher,
		sweeper:    sw,
		close:      closeStorage,
	}, nil
}

// Run starts http server with background workers and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.close()

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	workersStopped := []<-chan struct{}{s.dispatcher.Run(srvCtx)}
	if s.sweeper != nil {
		workersStopped = append(workersStopped, s.sweeper.Run(srvCtx))
	}

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	for _, stopped := range workersStopped {
		<-stopped
	}

	return err
}
