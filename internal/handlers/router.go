package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nkiryanov/skillswap/internal/handlers/middleware"
	"github.com/nkiryanov/skillswap/internal/logger"
	"github.com/nkiryanov/skillswap/internal/models"
	"github.com/nkiryanov/skillswap/internal/service/ledger"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	authService authService,
	ledgerService ledgerService,
	swapService swapService,
	logger logger.Logger,
) http.Handler {
	withAuth := middleware.NewAuth(authService).Auth

	apiuser := http.NewServeMux()

	apiuser.Handle("POST /login", handleLogin(authService, logger))
	apiuser.Handle("POST /register", handleRegister(authService, logger))
	apiuser.Handle("POST /refresh", handleTokenRefresh(authService, logger))

	apiuser.Handle("GET /me", withAuth(handleUserMe()))
	apiuser.Handle("GET /balance", withAuth(handleBalance(ledgerService, logger)))
	apiuser.Handle("GET /transactions", withAuth(handleListTransactions(ledgerService, logger)))

	apiuser.Handle("POST /swaps", withAuth(handleCreateSwap(swapService, logger)))
	apiuser.Handle("GET /swaps", withAuth(handleListSwaps(swapService, logger)))
	apiuser.Handle("GET /swaps/{id}", withAuth(handleGetSwap(swapService, logger)))
	apiuser.Handle("POST /swaps/{id}/transition", withAuth(handleTransitionSwap(swapService, logger)))

	root := http.NewServeMux()
	root.Handle("/api/user/", http.StripPrefix("/api/user", apiuser))
	root.Handle("GET /metrics", promhttp.Handler())

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type authService interface {
	// Register user with username and password
	// Has to return apperrors.ErrUserAlreadyExists if user already exists
	Register(ctx context.Context, username string, password string) (models.TokenPair, error)

	// Login user with username and password
	// Has to return apperrors.ErrUserNotFound if user not found
	Login(ctx context.Context, username string, password string) (models.TokenPair, error)

	// Refresh tokens using refresh token
	// If token expired: has to return apperrors.ErrRefreshTokenExpired
	// If token not found: has to return apperrors.ErrRefreshTokenNotFound
	RefreshPair(ctx context.Context, refresh string) (models.TokenPair, error)

	// Set auth tokens (access, refresh) to response
	SetTokenPairToResponse(w http.ResponseWriter, pair models.TokenPair)

	// Get refresh token from request
	GetRefreshString(r *http.Request) (string, error)

	// Get request and return user if it authenticated or error
	Auth(ctx context.Context, r *http.Request) (models.User, error)
}

type ledgerService interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, page ledger.Page) ([]models.Transaction, error)
}

type swapService interface {
	Create(ctx context.Context, requesterID uuid.UUID, providerID uuid.UUID, price int64) (models.Swap, error)
	Get(ctx context.Context, swapID uuid.UUID, actingUserID uuid.UUID) (models.Swap, error)
	List(ctx context.Context, actingUserID uuid.UUID) ([]models.Swap, error)
	Transition(ctx context.Context, swapID uuid.UUID, actingUserID uuid.UUID, target models.SwapStatus) (models.Swap, error)
}
