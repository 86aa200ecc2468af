package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flowcrm/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*models.User, error)
	// ResolveByEmail looks a user up across tenants when the tenant is not
	// yet known (login without a slug), resolving the tenant from the match.
	ResolveByEmail(ctx context.Context, email string) (*models.User, *models.Tenant, error)
	CountByTenant(ctx context.Context, tenantID uuid.UUID) (int, error)
	UpdatePassword(ctx context.Context, tenantID, id uuid.UUID, passwordHash string) error
	SetEmailVerified(ctx context.Context, tenantID, id uuid.UUID) error
	SetTwoFactor(ctx context.Context, tenantID, id uuid.UUID, enabled bool, secret *string) error
	BumpTokenValidAfter(ctx context.Context, tenantID, id uuid.UUID) error
	TouchLastLogin(ctx context.Context, tenantID, id uuid.UUID) error
	SetLastVerificationEmailAt(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error
}

const userColumns = `id, tenant_id, email, password_hash, first_name, last_name, role, status,
		email_verified, two_factor_enabled, two_factor_secret, token_valid_after,
		last_login_at, last_verification_email_at, created_at, updated_at`

type userRepo struct {
	db Database
}

func NewUserRepo(db Database) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, tenant_id, email, password_hash, first_name, last_name, role, status,
			email_verified, two_factor_enabled, token_valid_after, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query,
		user.ID, user.TenantID, user.Email, user.PasswordHash, user.FirstName, user.LastName,
		user.Role, user.Status, user.EmailVerified, user.TwoFactorEnabled, user.TokenValidAfter)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.TenantID, &user.Email, &user.PasswordHash,
		&user.FirstName, &user.LastName, &user.Role, &user.Status,
		&user.EmailVerified, &user.TwoFactorEnabled, &user.TwoFactorSecret, &user.TokenValidAfter,
		&user.LastLoginAt, &user.LastVerificationEmailAt, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

func (r *userRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE tenant_id = $1 AND id = $2
	`
	return scanUser(r.db.QueryRow(ctx, query, tenantID, id))
}

func (r *userRepo) GetByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE tenant_id = $1 AND email = $2
	`
	return scanUser(r.db.QueryRow(ctx, query, tenantID, email))
}

func (r *userRepo) ResolveByEmail(ctx context.Context, email string) (*models.User, *models.Tenant, error) {
	// Email is unique per tenant, not globally. Prefer the most recently
	// active account when the same address exists under several tenants.
	query := `
		SELECT u.id, u.tenant_id, u.email, u.password_hash, u.first_name, u.last_name, u.role, u.status,
			u.email_verified, u.two_factor_enabled, u.two_factor_secret, u.token_valid_after,
			u.last_login_at, u.last_verification_email_at, u.created_at, u.updated_at,
			t.id, t.name, t.slug, t.status, t.max_users, t.created_at, t.updated_at
		FROM users u
		JOIN tenants t ON t.id = u.tenant_id
		WHERE u.email = $1 AND t.status = 'active'
		ORDER BY u.last_login_at DESC NULLS LAST, u.created_at DESC
		LIMIT 1
	`
	user := &models.User{}
	tenant := &models.Tenant{}
	err := r.db.QueryRow(ctx, query, email).Scan(
		&user.ID, &user.TenantID, &user.Email, &user.PasswordHash,
		&user.FirstName, &user.LastName, &user.Role, &user.Status,
		&user.EmailVerified, &user.TwoFactorEnabled, &user.TwoFactorSecret, &user.TokenValidAfter,
		&user.LastLoginAt, &user.LastVerificationEmailAt, &user.CreatedAt, &user.UpdatedAt,
		&tenant.ID, &tenant.Name, &tenant.Slug, &tenant.Status, &tenant.MaxUsers,
		&tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	return user, tenant, nil
}

func (r *userRepo) CountByTenant(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE tenant_id = $1`, tenantID).Scan(&count)
	return count, err
}

func (r *userRepo) UpdatePassword(ctx context.Context, tenantID, id uuid.UUID, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $1, updated_at = NOW()
		WHERE tenant_id = $2 AND id = $3
	`
	_, err := r.db.Exec(ctx, query, passwordHash, tenantID, id)
	return err
}

func (r *userRepo) SetEmailVerified(ctx context.Context, tenantID, id uuid.UUID) error {
	query := `
		UPDATE users
		SET email_verified = TRUE, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
	`
	_, err := r.db.Exec(ctx, query, tenantID, id)
	return err
}

func (r *userRepo) SetTwoFactor(ctx context.Context, tenantID, id uuid.UUID, enabled bool, secret *string) error {
	query := `
		UPDATE users
		SET two_factor_enabled = $1, two_factor_secret = $2, updated_at = NOW()
		WHERE tenant_id = $3 AND id = $4
	`
	_, err := r.db.Exec(ctx, query, enabled, secret, tenantID, id)
	return err
}

func (r *userRepo) BumpTokenValidAfter(ctx context.Context, tenantID, id uuid.UUID) error {
	query := `
		UPDATE users
		SET token_valid_after = NOW(), updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
	`
	_, err := r.db.Exec(ctx, query, tenantID, id)
	return err
}

func (r *userRepo) TouchLastLogin(ctx context.Context, tenantID, id uuid.UUID) error {
	query := `
		UPDATE users
		SET last_login_at = NOW(), updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
	`
	_, err := r.db.Exec(ctx, query, tenantID, id)
	return err
}

func (r *userRepo) SetLastVerificationEmailAt(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE users
		SET last_verification_email_at = $1, updated_at = NOW()
		WHERE tenant_id = $2 AND id = $3
	`
	_, err := r.db.Exec(ctx, query, at, tenantID, id)
	return err
}
