package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/nkiryanov/skillswap/internal/db"
	"github.com/nkiryanov/skillswap/internal/handlers"
	"github.com/nkiryanov/skillswap/internal/logger"
	"github.com/nkiryanov/skillswap/internal/notifier"
	"github.com/nkiryanov/skillswap/internal/repository/postgres"
	"github.com/nkiryanov/skillswap/internal/service/auth"
	"github.com/nkiryanov/skillswap/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/skillswap/internal/service/ledger"
	"github.com/nkiryanov/skillswap/internal/service/swap"
	"github.com/nkiryanov/skillswap/internal/service/user"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger     logger.Logger
	pool       *pgxpool.Pool
	redis      *goredis.Client // nil if events are only logged
	dispatcher *notifier.Dispatcher
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	app := &ServerApp{
		ListenAddr: c.ListenAddr,
		logger:     logger,
		pool:       pool,
	}

	// Events go to redis if it configured
	var publisher notifier.Publisher = notifier.NewLogPublisher(logger)
	if c.RedisAddr != "" {
		app.redis = goredis.NewClient(&goredis.Options{Addr: c.RedisAddr})
		if err := app.redis.Ping(ctx).Err(); err != nil {
			app.Close()
			return nil, fmt.Errorf("redis is not reachable. Err: %w", err)
		}
		publisher = notifier.NewRedisPublisher(app.redis)
	}
	app.dispatcher = notifier.NewDispatcher(publisher, logger, notifier.DispatcherOpts{})

	// Initialize repositories and services
	storage := postgres.NewStorage(pool)
	engine := ledger.NewEngine(storage, logger, ledger.Options{TxTimeout: c.TxTimeout, MaxRetries: c.TxRetries})

	tokenManager, err := tokenmanager.New(tokenmanager.Config{SecretKey: c.SecretKey}, storage.Refresh())
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}
	userService := user.NewService(user.Config{SignupGrant: c.SignupGrant}, storage, engine, logger)
	authService, err := auth.NewService(auth.Config{}, tokenManager, userService)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}
	swapService := swap.NewService(storage, engine, app.dispatcher, logger)

	app.Handler = handlers.NewRouter(authService, engine, swapService, logger)
	return app, nil
}

// Run starts http server and closes gracefully on context cancellation
// Events queued before the stop are published before Run returns
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	dispatcherCtx, dispatcherCancel := context.WithCancel(context.Background())
	dispatcherStopped := s.dispatcher.Run(dispatcherCtx)

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

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

	// No more requests, so no more events
	dispatcherCancel()
	<-dispatcherStopped

	return err
}

func (s *ServerApp) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	s.pool.Close()
}
