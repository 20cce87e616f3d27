package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/skillswap/internal/apperrors"
	"github.com/nkiryanov/skillswap/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const tokenColumns = `id, user_id, token, created_at, expires_at, used_at`

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	const saveToken = `
	INSERT INTO refresh_tokens (` + tokenColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING ` + tokenColumns

	rows, _ := r.DB.Query(ctx, saveToken, token.ID, token.UserID, token.Token, token.CreatedAt, token.ExpiresAt, token.UsedAt)
	saved, err := pgx.CollectOneRow(rows, rowToRefreshToken)
	if err != nil {
		return saved, fmt.Errorf("db error: %w", err)
	}
	return saved, nil
}

// Mark token used and return it
// The row is locked so two concurrent refreshes can't both win
func (r *RefreshTokenRepo) GetAndMarkUsed(ctx context.Context, tokenString string) (models.RefreshToken, error) {
	const getToken = `SELECT ` + tokenColumns + ` FROM refresh_tokens WHERE token = $1 FOR UPDATE`
	const markUsed = `UPDATE refresh_tokens SET used_at = $2 WHERE id = $1`

	rows, _ := r.DB.Query(ctx, getToken, tokenString)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return token, apperrors.ErrRefreshTokenNotFound
	case err != nil:
		return token, fmt.Errorf("db error: %w", err)
	case token.UsedAt != nil:
		return token, apperrors.ErrRefreshTokenIsUsed
	}

	now := time.Now().Truncate(time.Microsecond)
	if _, err := r.DB.Exec(ctx, markUsed, token.ID, now); err != nil {
		return token, fmt.Errorf("db error: %w", err)
	}
	token.UsedAt = &now

	return token, nil
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(&t.ID, &t.UserID, &t.Token, &t.CreatedAt, &t.ExpiresAt, &t.UsedAt)
	return t, err
}
