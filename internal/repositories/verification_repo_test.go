package repositories

import (
	"context"
	"testing"
	"time"

	"flowcrm/internal/models"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type VerificationRepoTestSuite struct {
	suite.Suite
	mock     pgxmock.PgxPoolIface
	repo     VerificationTokenRepository
	tenantID uuid.UUID
	userID   uuid.UUID
	context  context.Context
}

func (suite *VerificationRepoTestSuite) SetupTest() {
	mock, err := pgxmock.NewPool()
	assert.NoError(suite.T(), err)
	suite.mock = mock

	suite.repo = NewVerificationTokenRepo(mock)
	suite.tenantID = uuid.New()
	suite.userID = uuid.New()
	suite.context = context.Background()
}

func (suite *VerificationRepoTestSuite) TearDownTest() {
	assert.NoError(suite.T(), suite.mock.ExpectationsWereMet())
	suite.mock.Close()
}

func TestVerificationRepoTestSuite(t *testing.T) {
	suite.Run(t, new(VerificationRepoTestSuite))
}

func (suite *VerificationRepoTestSuite) TestReplace_DropsExistingToken() {
	vt := &models.VerificationToken{
		Token:     "fresh-token",
		TenantID:  suite.tenantID,
		UserID:    suite.userID,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}

	suite.mock.ExpectBegin()
	suite.mock.ExpectExec(`DELETE FROM verification_tokens WHERE tenant_id = \$1 AND user_id = \$2`).
		WithArgs(vt.TenantID, vt.UserID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	suite.mock.ExpectExec(`INSERT INTO verification_tokens`).
		WithArgs(vt.Token, vt.TenantID, vt.UserID, vt.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	suite.mock.ExpectCommit()
	suite.mock.ExpectRollback()

	err := suite.repo.Replace(suite.context, vt)
	assert.NoError(suite.T(), err)
}

func (suite *VerificationRepoTestSuite) TestConsume_Success() {
	now := time.Now()

	suite.mock.ExpectQuery(`DELETE FROM verification_tokens WHERE token = \$1 AND expires_at > NOW\(\) RETURNING token, tenant_id, user_id, expires_at, created_at`).
		WithArgs("the-token").
		WillReturnRows(pgxmock.NewRows([]string{"token", "tenant_id", "user_id", "expires_at", "created_at"}).
			AddRow("the-token", suite.tenantID, suite.userID, now.Add(time.Hour), now))

	vt, err := suite.repo.Consume(suite.context, "the-token")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), suite.userID, vt.UserID)
}

func (suite *VerificationRepoTestSuite) TestConsume_ExpiredOrUnknown() {
	suite.mock.ExpectQuery(`DELETE FROM verification_tokens WHERE token = \$1`).
		WithArgs("stale-token").
		WillReturnError(pgx.ErrNoRows)

	vt, err := suite.repo.Consume(suite.context, "stale-token")
	assert.ErrorIs(suite.T(), err, ErrNotFound)
	assert.Nil(suite.T(), vt)
}

func (suite *VerificationRepoTestSuite) TestConsume_SecondRedemptionFails() {
	now := time.Now()

	suite.mock.ExpectQuery(`DELETE FROM verification_tokens WHERE token = \$1`).
		WithArgs("the-token").
		WillReturnRows(pgxmock.NewRows([]string{"token", "tenant_id", "user_id", "expires_at", "created_at"}).
			AddRow("the-token", suite.tenantID, suite.userID, now.Add(time.Hour), now))
	suite.mock.ExpectQuery(`DELETE FROM verification_tokens WHERE token = \$1`).
		WithArgs("the-token").
		WillReturnError(pgx.ErrNoRows)

	_, err := suite.repo.Consume(suite.context, "the-token")
	assert.NoError(suite.T(), err)

	_, err = suite.repo.Consume(suite.context, "the-token")
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *VerificationRepoTestSuite) TestDeleteExpired() {
	suite.mock.ExpectExec(`DELETE FROM verification_tokens WHERE expires_at <= NOW\(\)`).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))

	removed, err := suite.repo.DeleteExpired(suite.context)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(5), removed)
}
