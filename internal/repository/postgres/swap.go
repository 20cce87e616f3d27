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

type SwapRepo struct {
	DB DBTX
}

const swapColumns = `id, requester_id, provider_id, price, status, created_at, completed_at`

func (r *SwapRepo) CreateSwap(ctx context.Context, requesterID uuid.UUID, providerID uuid.UUID, price int64, opts ...repository.SwapOption) (models.Swap, error) {
	const createSwap = `
	INSERT INTO swaps (id, requester_id, provider_id, price, status, created_at, completed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING ` + swapColumns

	s := models.Swap{
		ID:          uuid.New(),
		RequesterID: requesterID,
		ProviderID:  providerID,
		Price:       price,
		Status:      models.SwapPending,
		CreatedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(&s)
	}

	rows, _ := r.DB.Query(ctx, createSwap, s.ID, s.RequesterID, s.ProviderID, s.Price, s.Status, s.CreatedAt, s.CompletedAt)
	swap, err := pgx.CollectOneRow(rows, rowToSwap)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch {
			case pgErr.Code == pgerrcode.ForeignKeyViolation:
				return swap, apperrors.ErrAccountNotFound
			case pgErr.Code == pgerrcode.CheckViolation && pgErr.ConstraintName == "swaps_distinct_parties":
				return swap, apperrors.ErrSelfTransfer
			case pgErr.Code == pgerrcode.CheckViolation:
				return swap, apperrors.ErrInvalidAmount
			}
		}
		return swap, fmt.Errorf("db error: %w", err)
	}

	return swap, nil
}

func (r *SwapRepo) GetSwap(ctx context.Context, swapID uuid.UUID, lock bool) (models.Swap, error) {
	query := `SELECT ` + swapColumns + ` FROM swaps WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	rows, _ := r.DB.Query(ctx, query, swapID)
	return collectSwap(rows)
}

func (r *SwapRepo) UpdateStatus(ctx context.Context, swapID uuid.UUID, status models.SwapStatus, completedAt *time.Time) (models.Swap, error) {
	const updateStatus = `
	UPDATE swaps
	SET status = $2, completed_at = $3
	WHERE id = $1
	RETURNING ` + swapColumns

	rows, _ := r.DB.Query(ctx, updateStatus, swapID, status, completedAt)
	return collectSwap(rows)
}

func (r *SwapRepo) ListSwaps(ctx context.Context, userID uuid.UUID) ([]models.Swap, error) {
	const listSwaps = `
	SELECT ` + swapColumns + ` FROM swaps
	WHERE requester_id = $1 OR provider_id = $1
	ORDER BY created_at DESC, id DESC`

	rows, _ := r.DB.Query(ctx, listSwaps, userID)
	swaps, err := pgx.CollectRows(rows, rowToSwap)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return swaps, nil
}

func collectSwap(rows pgx.Rows) (models.Swap, error) {
	swap, err := pgx.CollectOneRow(rows, rowToSwap)

	switch {
	case err == nil:
		return swap, nil
	case errors.Is(err, pgx.ErrNoRows):
		return swap, apperrors.ErrSwapNotFound
	default:
		return swap, fmt.Errorf("db error: %w", err)
	}
}

func rowToSwap(row pgx.CollectableRow) (models.Swap, error) {
	var s models.Swap
	err := row.Scan(&s.ID, &s.RequesterID, &s.ProviderID, &s.Price, &s.Status, &s.CreatedAt, &s.CompletedAt)
	return s, err
}
