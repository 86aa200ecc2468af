package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"flowcrm/internal/common"
	"flowcrm/internal/models"
	"flowcrm/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*models.User, error) {
	args := m.Called(ctx, tenantID, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) ResolveByEmail(ctx context.Context, email string) (*models.User, *models.Tenant, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.User), args.Get(1).(*models.Tenant), args.Error(2)
}

func (m *MockUserRepository) CountByTenant(ctx context.Context, tenantID uuid.UUID) (int, error) {
	args := m.Called(ctx, tenantID)
	return args.Int(0), args.Error(1)
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, tenantID, id uuid.UUID, passwordHash string) error {
	args := m.Called(ctx, tenantID, id, passwordHash)
	return args.Error(0)
}

func (m *MockUserRepository) SetEmailVerified(ctx context.Context, tenantID, id uuid.UUID) error {
	args := m.Called(ctx, tenantID, id)
	return args.Error(0)
}

func (m *MockUserRepository) SetTwoFactor(ctx context.Context, tenantID, id uuid.UUID, enabled bool, secret *string) error {
	args := m.Called(ctx, tenantID, id, enabled, secret)
	return args.Error(0)
}

func (m *MockUserRepository) BumpTokenValidAfter(ctx context.Context, tenantID, id uuid.UUID) error {
	args := m.Called(ctx, tenantID, id)
	return args.Error(0)
}

func (m *MockUserRepository) TouchLastLogin(ctx context.Context, tenantID, id uuid.UUID) error {
	args := m.Called(ctx, tenantID, id)
	return args.Error(0)
}

func (m *MockUserRepository) SetLastVerificationEmailAt(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	args := m.Called(ctx, tenantID, id, at)
	return args.Error(0)
}

type JWTMiddlewareTestSuite struct {
	suite.Suite
	tokens   services.TokenService
	users    *MockUserRepository
	echo     *echo.Echo
	tenantID uuid.UUID
	userID   uuid.UUID
}

func (suite *JWTMiddlewareTestSuite) SetupTest() {
	suite.tokens = services.NewTokenService("access-secret", "refresh-secret", 2*time.Minute, 7*24*time.Hour)
	suite.users = &MockUserRepository{}
	suite.echo = echo.New()
	suite.tenantID = uuid.New()
	suite.userID = uuid.New()
}

func (suite *JWTMiddlewareTestSuite) TearDownTest() {
	suite.users.AssertExpectations(suite.T())
}

func TestJWTMiddlewareTestSuite(t *testing.T) {
	suite.Run(t, new(JWTMiddlewareTestSuite))
}

// invoke runs the middleware around a handler that records whether it ran and
// what identity landed in the request context.
func (suite *JWTMiddlewareTestSuite) invoke(authHeader string) (*httptest.ResponseRecorder, bool, uuid.UUID) {
	var reachedHandler bool
	var ctxUserID uuid.UUID

	handler := RequireAccessToken(suite.tokens, suite.users)(func(c echo.Context) error {
		reachedHandler = true
		if id, ok := common.GetUserIDFromContext(c.Request().Context()); ok {
			ctxUserID = id
		}
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/sessions", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := suite.echo.NewContext(req, rec)

	err := handler(c)
	if err != nil {
		suite.echo.HTTPErrorHandler(err, c)
	}
	return rec, reachedHandler, ctxUserID
}

func (suite *JWTMiddlewareTestSuite) activeUser(tokenValidAfter time.Time) *models.User {
	return &models.User{
		ID:              suite.userID,
		TenantID:        suite.tenantID,
		Status:          "active",
		TokenValidAfter: tokenValidAfter,
	}
}

func (suite *JWTMiddlewareTestSuite) TestMissingHeader() {
	rec, reached, _ := suite.invoke("")
	assert.Equal(suite.T(), http.StatusUnauthorized, rec.Code)
	assert.False(suite.T(), reached)
}

func (suite *JWTMiddlewareTestSuite) TestMalformedHeader() {
	rec, reached, _ := suite.invoke("Basic abc123")
	assert.Equal(suite.T(), http.StatusUnauthorized, rec.Code)
	assert.False(suite.T(), reached)
}

func (suite *JWTMiddlewareTestSuite) TestGarbageToken() {
	rec, reached, _ := suite.invoke("Bearer not-a-jwt")
	assert.Equal(suite.T(), http.StatusUnauthorized, rec.Code)
	assert.False(suite.T(), reached)
}

func (suite *JWTMiddlewareTestSuite) TestExpiredTokenGetsDistinctCode() {
	expired := services.NewTokenService("access-secret", "refresh-secret", -1*time.Minute, 7*24*time.Hour)
	token, _, err := expired.IssueAccessToken(suite.userID, suite.tenantID)
	assert.NoError(suite.T(), err)

	rec, reached, _ := suite.invoke("Bearer " + token)
	assert.Equal(suite.T(), http.StatusUnauthorized, rec.Code)
	assert.Contains(suite.T(), rec.Body.String(), "TOKEN_EXPIRED")
	assert.False(suite.T(), reached)
}

func (suite *JWTMiddlewareTestSuite) TestValidTokenInjectsIdentity() {
	token, issuedAt, err := suite.tokens.IssueAccessToken(suite.userID, suite.tenantID)
	assert.NoError(suite.T(), err)

	user := suite.activeUser(issuedAt.Add(-time.Hour))
	suite.users.On("GetByID", mock.Anything, suite.tenantID, suite.userID).Return(user, nil)

	rec, reached, ctxUserID := suite.invoke("Bearer " + token)
	assert.Equal(suite.T(), http.StatusOK, rec.Code)
	assert.True(suite.T(), reached)
	assert.Equal(suite.T(), suite.userID, ctxUserID)
}

func (suite *JWTMiddlewareTestSuite) TestDisabledAccount() {
	token, issuedAt, err := suite.tokens.IssueAccessToken(suite.userID, suite.tenantID)
	assert.NoError(suite.T(), err)

	user := suite.activeUser(issuedAt.Add(-time.Hour))
	user.Status = "suspended"
	suite.users.On("GetByID", mock.Anything, suite.tenantID, suite.userID).Return(user, nil)

	rec, reached, _ := suite.invoke("Bearer " + token)
	assert.Equal(suite.T(), http.StatusForbidden, rec.Code)
	assert.False(suite.T(), reached)
}

func (suite *JWTMiddlewareTestSuite) TestTokenIssuedBeforeBumpIsRevoked() {
	token, issuedAt, err := suite.tokens.IssueAccessToken(suite.userID, suite.tenantID)
	assert.NoError(suite.T(), err)

	user := suite.activeUser(issuedAt.Add(time.Minute))
	suite.users.On("GetByID", mock.Anything, suite.tenantID, suite.userID).Return(user, nil)

	rec, reached, _ := suite.invoke("Bearer " + token)
	assert.Equal(suite.T(), http.StatusUnauthorized, rec.Code)
	assert.Contains(suite.T(), rec.Body.String(), "revoked")
	assert.False(suite.T(), reached)
}

func (suite *JWTMiddlewareTestSuite) TestExactTieFavorsRevocation() {
	token, issuedAt, err := suite.tokens.IssueAccessToken(suite.userID, suite.tenantID)
	assert.NoError(suite.T(), err)

	// The signed iat is second-truncated; a clock bump landing on the exact
	// same instant must still win.
	user := suite.activeUser(issuedAt.Truncate(time.Second))
	suite.users.On("GetByID", mock.Anything, suite.tenantID, suite.userID).Return(user, nil)

	rec, reached, _ := suite.invoke("Bearer " + token)
	assert.Equal(suite.T(), http.StatusUnauthorized, rec.Code)
	assert.False(suite.T(), reached)
}
