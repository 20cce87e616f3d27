package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/skillswap/internal/models"
)

type UserRepo interface {
	// Create user
	// If user with username exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, username string, hashedPassword string) (models.User, error)

	// Get user by it's id or username
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
}

type RefreshTokenRepo interface {
	// Save token in repository
	Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Return the token and mark it used
	// If token is used already must return apperrors.ErrRefreshTokenIsUsed and not overwrite 'usedAt'
	GetAndMarkUsed(ctx context.Context, tokenString string) (models.RefreshToken, error)
}

type AccountRepo interface {
	// Create zero balance account for the user
	CreateAccount(ctx context.Context, userID uuid.UUID) (models.Account, error)

	// Get account. If lock is true the row is locked until transaction ends
	// If account not found must return apperrors.ErrAccountNotFound
	GetAccount(ctx context.Context, userID uuid.UUID, lock bool) (models.Account, error)

	// Lock several accounts in a deterministic order (by id) to avoid deadlocks
	// If any of accounts not found must return apperrors.ErrAccountNotFound
	LockAccounts(ctx context.Context, userIDs ...uuid.UUID) (map[uuid.UUID]models.Account, error)

	// Add delta (may be negative) to account balance
	// If balance would become negative must return apperrors.ErrInsufficientFunds
	AddBalance(ctx context.Context, userID uuid.UUID, delta int64) (models.Account, error)

	// Sum of all balances
	TotalBalance(ctx context.Context) (int64, error)
}

type ListTransactionsOpts struct {
	Kinds  []string // all kinds if empty
	Limit  int
	Offset int
}

type TransactionRepo interface {
	// Append transaction to the log
	// If transaction of the same kind with the same reference exists must return apperrors.ErrTransactionExists
	CreateTransaction(ctx context.Context, t models.Transaction) (models.Transaction, error)

	// If not found must return apperrors.ErrTransactionNotFound
	GetByReference(ctx context.Context, kind string, referenceID string) (models.Transaction, error)

	// Transactions where account is sender or receiver, newest first
	ListTransactions(ctx context.Context, accountID uuid.UUID, opts ListTransactionsOpts) ([]models.Transaction, error)

	// Sum of amounts of all transactions of the kind
	SumByKind(ctx context.Context, kind string) (int64, error)
}

type SwapOption func(*models.Swap)

func WithSwapStatus(status models.SwapStatus) SwapOption {
	return func(s *models.Swap) {
		s.Status = status
		if status == models.SwapCompleted {
			now := time.Now()
			s.CompletedAt = &now
		}
	}
}

func WithSwapID(id uuid.UUID) SwapOption {
	return func(s *models.Swap) {
		s.ID = id
	}
}

type SwapRepo interface {
	// Create swap; pending by default
	CreateSwap(ctx context.Context, requesterID uuid.UUID, providerID uuid.UUID, price int64, opts ...SwapOption) (models.Swap, error)

	// Get swap. If lock is true the row is locked until transaction ends
	// If swap not found must return apperrors.ErrSwapNotFound
	GetSwap(ctx context.Context, swapID uuid.UUID, lock bool) (models.Swap, error)

	// Set new status; completedAt must be set for completed status only
	UpdateStatus(ctx context.Context, swapID uuid.UUID, status models.SwapStatus, completedAt *time.Time) (models.Swap, error)

	// Swaps where user is requester or provider, newest first
	ListSwaps(ctx context.Context, userID uuid.UUID) ([]models.Swap, error)
}

// Storage gives access to all repositories bound to the same connection or transaction
type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo
	Account() AccountRepo
	Transaction() TransactionRepo
	Swap() SwapRepo

	// Run fn in transaction. Commit if fn returns nil, rollback otherwise
	// Top level transactions are serializable; nested ones use savepoints
	InTx(ctx context.Context, fn func(Storage) error) error
}
