package repositories

import (
	"context"
	"testing"
	"time"

	"flowcrm/internal/models"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type UserRepoTestSuite struct {
	suite.Suite
	mock     pgxmock.PgxPoolIface
	repo     UserRepository
	tenantID uuid.UUID
	userID   uuid.UUID
	context  context.Context
}

func (suite *UserRepoTestSuite) SetupTest() {
	mock, err := pgxmock.NewPool()
	assert.NoError(suite.T(), err)
	suite.mock = mock

	suite.repo = NewUserRepo(mock)
	suite.tenantID = uuid.New()
	suite.userID = uuid.New()
	suite.context = context.Background()
}

func (suite *UserRepoTestSuite) TearDownTest() {
	assert.NoError(suite.T(), suite.mock.ExpectationsWereMet())
	suite.mock.Close()
}

func TestUserRepoTestSuite(t *testing.T) {
	suite.Run(t, new(UserRepoTestSuite))
}

func (suite *UserRepoTestSuite) newUser() *models.User {
	return &models.User{
		ID:              suite.userID,
		TenantID:        suite.tenantID,
		Email:           "alice@example.com",
		PasswordHash:    "$2a$12$hash",
		FirstName:       "Alice",
		LastName:        "Smith",
		Role:            "member",
		Status:          "active",
		TokenValidAfter: time.Now(),
	}
}

func userRow(user *models.User) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "tenant_id", "email", "password_hash", "first_name",
		"last_name", "role", "status", "email_verified", "two_factor_enabled",
		"two_factor_secret", "token_valid_after", "last_login_at",
		"last_verification_email_at", "created_at", "updated_at"}).
		AddRow(user.ID, user.TenantID, user.Email, user.PasswordHash, user.FirstName,
			user.LastName, user.Role, user.Status, user.EmailVerified, user.TwoFactorEnabled,
			user.TwoFactorSecret, user.TokenValidAfter, user.LastLoginAt,
			user.LastVerificationEmailAt, user.CreatedAt, user.UpdatedAt)
}

func (suite *UserRepoTestSuite) TestCreate_Success() {
	user := suite.newUser()

	suite.mock.ExpectExec(`INSERT INTO users`).
		WithArgs(user.ID, user.TenantID, user.Email, user.PasswordHash, user.FirstName,
			user.LastName, user.Role, user.Status, user.EmailVerified,
			user.TwoFactorEnabled, user.TokenValidAfter).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := suite.repo.Create(suite.context, user)
	assert.NoError(suite.T(), err)
}

func (suite *UserRepoTestSuite) TestCreate_DuplicateEmail() {
	user := suite.newUser()

	suite.mock.ExpectExec(`INSERT INTO users`).
		WithArgs(user.ID, user.TenantID, user.Email, user.PasswordHash, user.FirstName,
			user.LastName, user.Role, user.Status, user.EmailVerified,
			user.TwoFactorEnabled, user.TokenValidAfter).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := suite.repo.Create(suite.context, user)
	assert.ErrorIs(suite.T(), err, ErrDuplicateEmail)
}

func (suite *UserRepoTestSuite) TestGetByID_Success() {
	user := suite.newUser()

	suite.mock.ExpectQuery(`SELECT (.+) FROM users WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs(suite.tenantID, suite.userID).
		WillReturnRows(userRow(user))

	found, err := suite.repo.GetByID(suite.context, suite.tenantID, suite.userID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), user.Email, found.Email)
}

func (suite *UserRepoTestSuite) TestGetByID_WrongTenant() {
	suite.mock.ExpectQuery(`SELECT (.+) FROM users WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs(suite.tenantID, suite.userID).
		WillReturnError(pgx.ErrNoRows)

	found, err := suite.repo.GetByID(suite.context, suite.tenantID, suite.userID)
	assert.ErrorIs(suite.T(), err, ErrNotFound)
	assert.Nil(suite.T(), found)
}

func (suite *UserRepoTestSuite) TestGetByEmail_Success() {
	user := suite.newUser()

	suite.mock.ExpectQuery(`SELECT (.+) FROM users WHERE tenant_id = \$1 AND email = \$2`).
		WithArgs(suite.tenantID, "alice@example.com").
		WillReturnRows(userRow(user))

	found, err := suite.repo.GetByEmail(suite.context, suite.tenantID, "alice@example.com")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), user.ID, found.ID)
}

func (suite *UserRepoTestSuite) TestResolveByEmail_Success() {
	user := suite.newUser()
	tenant := &models.Tenant{ID: suite.tenantID, Name: "Acme", Slug: "acme", Status: "active", MaxUsers: 25}

	rows := pgxmock.NewRows([]string{"id", "tenant_id", "email", "password_hash", "first_name",
		"last_name", "role", "status", "email_verified", "two_factor_enabled",
		"two_factor_secret", "token_valid_after", "last_login_at",
		"last_verification_email_at", "created_at", "updated_at",
		"t_id", "t_name", "t_slug", "t_status", "t_max_users", "t_created_at", "t_updated_at"}).
		AddRow(user.ID, user.TenantID, user.Email, user.PasswordHash, user.FirstName,
			user.LastName, user.Role, user.Status, user.EmailVerified, user.TwoFactorEnabled,
			user.TwoFactorSecret, user.TokenValidAfter, user.LastLoginAt,
			user.LastVerificationEmailAt, user.CreatedAt, user.UpdatedAt,
			tenant.ID, tenant.Name, tenant.Slug, tenant.Status, tenant.MaxUsers,
			tenant.CreatedAt, tenant.UpdatedAt)

	suite.mock.ExpectQuery(`SELECT (.+) FROM users u JOIN tenants t ON t.id = u.tenant_id WHERE u.email = \$1 AND t.status = 'active'`).
		WithArgs("alice@example.com").
		WillReturnRows(rows)

	foundUser, foundTenant, err := suite.repo.ResolveByEmail(suite.context, "alice@example.com")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), user.ID, foundUser.ID)
	assert.Equal(suite.T(), tenant.Slug, foundTenant.Slug)
}

func (suite *UserRepoTestSuite) TestResolveByEmail_NotFound() {
	suite.mock.ExpectQuery(`SELECT (.+) FROM users u JOIN tenants t`).
		WithArgs("ghost@example.com").
		WillReturnError(pgx.ErrNoRows)

	foundUser, foundTenant, err := suite.repo.ResolveByEmail(suite.context, "ghost@example.com")
	assert.ErrorIs(suite.T(), err, ErrNotFound)
	assert.Nil(suite.T(), foundUser)
	assert.Nil(suite.T(), foundTenant)
}

func (suite *UserRepoTestSuite) TestCountByTenant() {
	suite.mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users WHERE tenant_id = \$1`).
		WithArgs(suite.tenantID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	count, err := suite.repo.CountByTenant(suite.context, suite.tenantID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), 7, count)
}

func (suite *UserRepoTestSuite) TestBumpTokenValidAfter() {
	suite.mock.ExpectExec(`UPDATE users SET token_valid_after = NOW\(\), updated_at = NOW\(\) WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs(suite.tenantID, suite.userID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := suite.repo.BumpTokenValidAfter(suite.context, suite.tenantID, suite.userID)
	assert.NoError(suite.T(), err)
}

func (suite *UserRepoTestSuite) TestSetTwoFactor_Enable() {
	secret := "JBSWY3DPEHPK3PXP"

	suite.mock.ExpectExec(`UPDATE users SET two_factor_enabled = \$1, two_factor_secret = \$2`).
		WithArgs(true, &secret, suite.tenantID, suite.userID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := suite.repo.SetTwoFactor(suite.context, suite.tenantID, suite.userID, true, &secret)
	assert.NoError(suite.T(), err)
}

func (suite *UserRepoTestSuite) TestSetTwoFactor_Disable() {
	suite.mock.ExpectExec(`UPDATE users SET two_factor_enabled = \$1, two_factor_secret = \$2`).
		WithArgs(false, (*string)(nil), suite.tenantID, suite.userID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := suite.repo.SetTwoFactor(suite.context, suite.tenantID, suite.userID, false, nil)
	assert.NoError(suite.T(), err)
}

func (suite *UserRepoTestSuite) TestSetEmailVerified() {
	suite.mock.ExpectExec(`UPDATE users SET email_verified = TRUE, updated_at = NOW\(\) WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs(suite.tenantID, suite.userID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := suite.repo.SetEmailVerified(suite.context, suite.tenantID, suite.userID)
	assert.NoError(suite.T(), err)
}
