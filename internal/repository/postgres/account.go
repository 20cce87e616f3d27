package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/skillswap/internal/apperrors"
	"github.com/nkiryanov/skillswap/internal/models"
)

type AccountRepo struct {
	DB DBTX
}

const accountColumns = `user_id, balance, created_at, updated_at`

func (r *AccountRepo) CreateAccount(ctx context.Context, userID uuid.UUID) (models.Account, error) {
	const createAccount = `
	INSERT INTO accounts (user_id, balance)
	VALUES ($1, 0)
	RETURNING ` + accountColumns

	rows, _ := r.DB.Query(ctx, createAccount, userID)
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.UniqueViolation:
				return account, fmt.Errorf("account already exists: %w", err)
			case pgerrcode.ForeignKeyViolation:
				return account, apperrors.ErrUserNotFound
			}
		}
		return account, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

func (r *AccountRepo) GetAccount(ctx context.Context, userID uuid.UUID, lock bool) (models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	rows, _ := r.DB.Query(ctx, query, userID)
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, pgx.ErrNoRows):
		return account, apperrors.ErrAccountNotFound
	default:
		return account, fmt.Errorf("db error: %w", err)
	}
}

func (r *AccountRepo) LockAccounts(ctx context.Context, userIDs ...uuid.UUID) (map[uuid.UUID]models.Account, error) {
	const lockAccounts = `
	SELECT ` + accountColumns + ` FROM accounts
	WHERE user_id = ANY($1)
	ORDER BY user_id
	FOR UPDATE`

	ids := slices.Clone(userIDs)
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) })
	ids = slices.Compact(ids)

	rows, _ := r.DB.Query(ctx, lockAccounts, ids)
	accounts, err := pgx.CollectRows(rows, rowToAccount)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	if len(accounts) != len(ids) {
		return nil, apperrors.ErrAccountNotFound
	}

	byID := make(map[uuid.UUID]models.Account, len(accounts))
	for _, a := range accounts {
		byID[a.UserID] = a
	}
	return byID, nil
}

func (r *AccountRepo) AddBalance(ctx context.Context, userID uuid.UUID, delta int64) (models.Account, error) {
	const addBalance = `
	UPDATE accounts
	SET balance = balance + $2, updated_at = now()
	WHERE user_id = $1
	RETURNING ` + accountColumns

	rows, _ := r.DB.Query(ctx, addBalance, userID, delta)
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	if err != nil {
		var pgErr *pgconn.PgError
		switch {
		case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation:
			return account, apperrors.ErrInsufficientFunds
		case errors.Is(err, pgx.ErrNoRows):
			return account, apperrors.ErrAccountNotFound
		default:
			return account, fmt.Errorf("db error: %w", err)
		}
	}

	return account, nil
}

func (r *AccountRepo) TotalBalance(ctx context.Context) (int64, error) {
	const totalBalance = `SELECT COALESCE(SUM(balance), 0)::BIGINT FROM accounts`

	var total int64
	if err := r.DB.QueryRow(ctx, totalBalance).Scan(&total); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return total, nil
}

func rowToAccount(row pgx.CollectableRow) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.UserID, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}
