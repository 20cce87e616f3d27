package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/skillswap/internal/apperrors"
	"github.com/nkiryanov/skillswap/internal/models"
	"github.com/nkiryanov/skillswap/internal/repository"
)

// Name of unique index that guards one transaction per kind and reference
const TransactionReferenceKey = "transactions_kind_reference_key"

type TransactionRepo struct {
	DB DBTX
}

const transactionColumns = `id, sender_id, receiver_id, amount, kind, COALESCE(reference_id, ''), created_at`

func (r *TransactionRepo) CreateTransaction(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	const createTransaction = `
	INSERT INTO transactions (id, sender_id, receiver_id, amount, kind, reference_id, created_at)
	VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
	RETURNING ` + transactionColumns

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	rows, _ := r.DB.Query(ctx, createTransaction, t.ID, t.SenderID, t.ReceiverID, t.Amount, t.Kind, t.ReferenceID, t.CreatedAt)
	created, err := pgx.CollectOneRow(rows, rowToTransaction)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch {
			case pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == TransactionReferenceKey:
				return created, apperrors.ErrTransactionExists
			case pgErr.Code == pgerrcode.ForeignKeyViolation:
				return created, apperrors.ErrAccountNotFound
			}
		}
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

func (r *TransactionRepo) GetByReference(ctx context.Context, kind string, referenceID string) (models.Transaction, error) {
	const getByReference = `
	SELECT ` + transactionColumns + ` FROM transactions
	WHERE kind = $1 AND reference_id = $2`

	rows, _ := r.DB.Query(ctx, getByReference, kind, referenceID)
	t, err := pgx.CollectOneRow(rows, rowToTransaction)

	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, pgx.ErrNoRows):
		return t, apperrors.ErrTransactionNotFound
	default:
		return t, fmt.Errorf("db error: %w", err)
	}
}

func (r *TransactionRepo) ListTransactions(ctx context.Context, accountID uuid.UUID, opts repository.ListTransactionsOpts) ([]models.Transaction, error) {
	const listTransactions = `
	SELECT ` + transactionColumns + ` FROM transactions
	WHERE (sender_id = $1 OR receiver_id = $1)
	  AND (cardinality($2::TEXT[]) = 0 OR kind = ANY($2))
	ORDER BY created_at DESC, id DESC
	LIMIT $3 OFFSET $4`

	kinds := opts.Kinds
	if kinds == nil {
		kinds = []string{}
	}

	var limit *int
	if opts.Limit > 0 {
		limit = &opts.Limit
	}

	rows, _ := r.DB.Query(ctx, listTransactions, accountID, kinds, limit, opts.Offset)
	transactions, err := pgx.CollectRows(rows, rowToTransaction)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return transactions, nil
}

func (r *TransactionRepo) SumByKind(ctx context.Context, kind string) (int64, error) {
	const sumByKind = `SELECT COALESCE(SUM(amount), 0)::BIGINT FROM transactions WHERE kind = $1`

	var total int64
	if err := r.DB.QueryRow(ctx, sumByKind, kind).Scan(&total); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return total, nil
}

func rowToTransaction(row pgx.CollectableRow) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.SenderID, &t.ReceiverID, &t.Amount, &t.Kind, &t.ReferenceID, &t.CreatedAt)
	return t, err
}
