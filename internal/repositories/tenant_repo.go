package repositories

import (
	"context"
	"errors"
	"fmt"

	"flowcrm/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type TenantRepository interface {
	Create(ctx context.Context, tenant *models.Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*models.Tenant, error)
}

type tenantRepo struct {
	db Database
}

func NewTenantRepo(db Database) TenantRepository {
	return &tenantRepo{db: db}
}

func (r *tenantRepo) Create(ctx context.Context, tenant *models.Tenant) error {
	query := `
		INSERT INTO tenants (id, name, slug, status, max_users, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query, tenant.ID, tenant.Name, tenant.Slug, tenant.Status, tenant.MaxUsers)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("tenant slug '%s' already taken: %w", tenant.Slug, ErrDuplicateSlug)
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// ErrDuplicateSlug is returned when a tenant slug is already in use.
var ErrDuplicateSlug = errors.New("tenant slug already in use")

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	tenant := &models.Tenant{}
	err := row.Scan(&tenant.ID, &tenant.Name, &tenant.Slug, &tenant.Status, &tenant.MaxUsers,
		&tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return tenant, nil
}

func (r *tenantRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	query := `
		SELECT id, name, slug, status, max_users, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`
	return scanTenant(r.db.QueryRow(ctx, query, id))
}

func (r *tenantRepo) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	query := `
		SELECT id, name, slug, status, max_users, created_at, updated_at
		FROM tenants
		WHERE slug = $1
	`
	return scanTenant(r.db.QueryRow(ctx, query, slug))
}
