package repositories

import (
	"context"
	"errors"
	"fmt"

	"flowcrm/internal/models"

	"github.com/jackc/pgx/v5"
)

type VerificationTokenRepository interface {
	// Replace drops any outstanding token for the user and stores a fresh
	// one, so at most one verification token is live per account.
	Replace(ctx context.Context, token *models.VerificationToken) error
	// Consume deletes the token and returns its row in one step; a token can
	// be redeemed exactly once. Expired or unknown tokens both come back as
	// ErrNotFound.
	Consume(ctx context.Context, token string) (*models.VerificationToken, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

type verificationRepo struct {
	db Database
}

func NewVerificationTokenRepo(db Database) VerificationTokenRepository {
	return &verificationRepo{db: db}
}

func (r *verificationRepo) Replace(ctx context.Context, token *models.VerificationToken) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin token replace: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		DELETE FROM verification_tokens
		WHERE tenant_id = $1 AND user_id = $2
	`, token.TenantID, token.UserID)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO verification_tokens (token, tenant_id, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, token.Token, token.TenantID, token.UserID, token.ExpiresAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *verificationRepo) Consume(ctx context.Context, token string) (*models.VerificationToken, error) {
	vt := &models.VerificationToken{}
	err := r.db.QueryRow(ctx, `
		DELETE FROM verification_tokens
		WHERE token = $1 AND expires_at > NOW()
		RETURNING token, tenant_id, user_id, expires_at, created_at
	`, token).Scan(&vt.Token, &vt.TenantID, &vt.UserID, &vt.ExpiresAt, &vt.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return vt, nil
}

func (r *verificationRepo) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM verification_tokens WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
