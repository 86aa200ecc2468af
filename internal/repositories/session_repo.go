package repositories

import (
	"context"
	"errors"
	"fmt"

	"flowcrm/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SessionRepository is the refresh-token ledger. Every mutating operation is
// scoped by (tenant_id, user_id) except FindByToken and Rotate, which operate
// by token value alone; token values are globally unique, and callers
// re-check user/tenant consistency before trusting the result.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	FindByToken(ctx context.Context, token string) (*models.Session, error)
	Touch(ctx context.Context, token string) error
	// Rotate atomically consumes oldToken and records newSession in its
	// place. Exactly one of several concurrent callers presenting the same
	// token wins; the rest get ErrSessionNotFound.
	Rotate(ctx context.Context, oldToken string, newSession *models.Session) error
	ListActive(ctx context.Context, tenantID, userID uuid.UUID) ([]*models.Session, error)
	DeleteByToken(ctx context.Context, token string) error
	DeleteByID(ctx context.Context, tenantID, userID, id uuid.UUID) (bool, error)
	DeleteAllForUser(ctx context.Context, tenantID, userID uuid.UUID) error
	DeleteOthers(ctx context.Context, tenantID, userID uuid.UUID, exceptToken string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

const sessionColumns = `id, tenant_id, user_id, token, device_id, device_name, user_agent,
		ip_address, location, expires_at, last_used_at, is_active, created_at`

type sessionRepo struct {
	db Database
}

func NewSessionRepo(db Database) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) Create(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (id, tenant_id, user_id, token, device_id, device_name, user_agent,
			ip_address, location, expires_at, last_used_at, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), TRUE, NOW())
	`
	_, err := r.db.Exec(ctx, query,
		session.ID, session.TenantID, session.UserID, session.Token,
		session.DeviceID, session.DeviceName, session.UserAgent,
		session.IPAddress, session.Location, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	session := &models.Session{}
	err := row.Scan(&session.ID, &session.TenantID, &session.UserID, &session.Token,
		&session.DeviceID, &session.DeviceName, &session.UserAgent,
		&session.IPAddress, &session.Location, &session.ExpiresAt,
		&session.LastUsedAt, &session.IsActive, &session.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

func (r *sessionRepo) FindByToken(ctx context.Context, token string) (*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE token = $1 AND is_active = TRUE AND expires_at > NOW()
	`
	return scanSession(r.db.QueryRow(ctx, query, token))
}

func (r *sessionRepo) Touch(ctx context.Context, token string) error {
	query := `
		UPDATE sessions
		SET last_used_at = NOW()
		WHERE token = $1
	`
	_, err := r.db.Exec(ctx, query, token)
	return err
}

func (r *sessionRepo) Rotate(ctx context.Context, oldToken string, newSession *models.Session) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin rotation: %w", err)
	}
	defer tx.Rollback(ctx)

	// The DELETE decides the race: a second caller presenting the same stale
	// token matches no row and loses. If the process dies between delete and
	// insert, the rollback restores nothing dangerous; on commit failure the
	// old token is simply gone, which is the safer of the two states.
	var deviceID, deviceName string
	err = tx.QueryRow(ctx, `
		DELETE FROM sessions
		WHERE token = $1 AND is_active = TRUE AND expires_at > NOW()
		RETURNING device_id, device_name
	`, oldToken).Scan(&deviceID, &deviceName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSessionNotFound
		}
		return err
	}

	// Device identity survives rotation; user agent and IP reflect the
	// request that performed it.
	newSession.DeviceID = deviceID
	newSession.DeviceName = deviceName

	_, err = tx.Exec(ctx, `
		INSERT INTO sessions (id, tenant_id, user_id, token, device_id, device_name, user_agent,
			ip_address, location, expires_at, last_used_at, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), TRUE, NOW())
	`,
		newSession.ID, newSession.TenantID, newSession.UserID, newSession.Token,
		newSession.DeviceID, newSession.DeviceName, newSession.UserAgent,
		newSession.IPAddress, newSession.Location, newSession.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert rotated session: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *sessionRepo) ListActive(ctx context.Context, tenantID, userID uuid.UUID) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE tenant_id = $1 AND user_id = $2 AND is_active = TRUE AND expires_at > NOW()
		ORDER BY last_used_at DESC
	`
	rows, err := r.db.Query(ctx, query, tenantID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session := &models.Session{}
		if err := rows.Scan(&session.ID, &session.TenantID, &session.UserID, &session.Token,
			&session.DeviceID, &session.DeviceName, &session.UserAgent,
			&session.IPAddress, &session.Location, &session.ExpiresAt,
			&session.LastUsedAt, &session.IsActive, &session.CreatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (r *sessionRepo) DeleteByToken(ctx context.Context, token string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	return err
}

// DeleteByID reports whether a row was actually removed so callers can treat
// an unknown id as already gone.
func (r *sessionRepo) DeleteByID(ctx context.Context, tenantID, userID, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM sessions
		WHERE tenant_id = $1 AND user_id = $2 AND id = $3
	`, tenantID, userID, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *sessionRepo) DeleteAllForUser(ctx context.Context, tenantID, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM sessions
		WHERE tenant_id = $1 AND user_id = $2
	`, tenantID, userID)
	return err
}

func (r *sessionRepo) DeleteOthers(ctx context.Context, tenantID, userID uuid.UUID, exceptToken string) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM sessions
		WHERE tenant_id = $1 AND user_id = $2 AND token <> $3
	`, tenantID, userID, exceptToken)
	return err
}

func (r *sessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
