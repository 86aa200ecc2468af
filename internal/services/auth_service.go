package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	"flowcrm/internal/caching"
	"flowcrm/internal/common"
	"flowcrm/internal/models"
	"flowcrm/internal/repositories"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	verificationTokenTTL = 24 * time.Hour
	resendInterval       = 5 * time.Minute
	tempLoginTTL         = 5 * time.Minute
	// pendingSecretTTL bounds how long an unconfirmed 2FA secret survives; a
	// setup that is never confirmed simply evaporates.
	pendingSecretTTL = 10 * time.Minute

	defaultTenantMaxUsers = 25

	RoleOwner  = "owner"
	RoleMember = "member"
)

var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAccountDisabled      = errors.New("account disabled")
	ErrEmailTaken           = errors.New("email already registered")
	ErrTenantNotFound       = errors.New("organization not found")
	ErrTenantFull           = errors.New("organization user limit reached")
	ErrInvalidRefreshToken  = errors.New("invalid or expired refresh token")
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
	ErrTwoFactorNotPending  = errors.New("no pending two-factor setup")
	ErrTwoFactorEnabled     = errors.New("two-factor authentication already enabled")
	ErrTwoFactorNotEnabled  = errors.New("two-factor authentication not enabled")
	ErrLoginChallengeGone   = errors.New("login challenge expired")
	ErrVerificationInvalid  = errors.New("verification token is invalid or expired; request a new one")
)

// ThrottledError reports how long a caller must wait before retrying.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("too many requests; retry after %s", e.RetryAfter.Round(time.Second))
}

// dummyHash absorbs a bcrypt comparison when the account does not exist, so
// unknown-email and wrong-password take comparable time.
var dummyHash = []byte("$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW")

// DeviceRequest carries the request metadata the fingerprinter works from.
type DeviceRequest struct {
	UserAgent string
	IPAddress string
}

type RegisterRequest struct {
	Email            string
	Password         string
	FirstName        string
	LastName         string
	TenantSlug       string // join an existing organization
	OrganizationName string // or found a new one
}

type RegisterResult struct {
	User   *models.User
	Tenant *models.Tenant
}

type LoginRequest struct {
	Email          string
	Password       string
	TenantSlug     string
	TwoFactorToken string
	TempLoginID    string // set when answering a prior TwoFactorPending challenge
	Device         DeviceRequest
}

type LoginResult struct {
	Requires2FA               bool
	TempLoginID               string
	User                      *models.User
	Tokens                    *models.TokenPair
	EmailVerificationRequired bool
}

type SessionView struct {
	ID         uuid.UUID  `json:"id"`
	DeviceID   string     `json:"device_id"`
	DeviceName string     `json:"device_name"`
	UserAgent  string     `json:"user_agent"`
	IPAddress  string     `json:"ip_address"`
	Location   *string    `json:"location"`
	LastUsedAt time.Time  `json:"last_used_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	CreatedAt  time.Time  `json:"created_at"`
	Current    bool       `json:"current"`
}

type TwoFactorSetup struct {
	Secret     string `json:"secret"`
	OtpauthURL string `json:"otpauth_url"`
}

// AuthService orchestrates registration, login (including the 2FA branch),
// token refresh, logout variants, password change, email verification and the
// TOTP lifecycle over the credential store, session ledger, token codec and
// device fingerprinter.
type AuthService interface {
	Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
	Refresh(ctx context.Context, refreshToken string, device DeviceRequest) (*models.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, tenantID, userID uuid.UUID) error
	LogoutOthers(ctx context.Context, tenantID, userID uuid.UUID, currentRefreshToken string) error
	ListSessions(ctx context.Context, tenantID, userID uuid.UUID, currentRefreshToken string) ([]*SessionView, error)
	DeleteSession(ctx context.Context, tenantID, userID, sessionID uuid.UUID) error
	ChangePassword(ctx context.Context, tenantID, userID uuid.UUID, currentPassword, newPassword string) error
	VerifyEmail(ctx context.Context, token string) error
	ResendVerification(ctx context.Context, email, tenantSlug string) error
	SetupTwoFactor(ctx context.Context, tenantID, userID uuid.UUID) (*TwoFactorSetup, error)
	EnableTwoFactor(ctx context.Context, tenantID, userID uuid.UUID, code string) error
	DisableTwoFactor(ctx context.Context, tenantID, userID uuid.UUID, code string) error
}

type authService struct {
	users        repositories.UserRepository
	tenants      repositories.TenantRepository
	sessions     repositories.SessionRepository
	verification repositories.VerificationTokenRepository
	tokens       TokenService
	fingerprints FingerprintService
	cache        caching.CacheService
	mailer       Mailer
	bcryptCost   int
	baseURL      string
}

func NewAuthService(
	users repositories.UserRepository,
	tenants repositories.TenantRepository,
	sessions repositories.SessionRepository,
	verification repositories.VerificationTokenRepository,
	tokens TokenService,
	fingerprints FingerprintService,
	cache caching.CacheService,
	mailer Mailer,
	bcryptCost int,
	baseURL string,
) AuthService {
	return &authService{
		users:        users,
		tenants:      tenants,
		sessions:     sessions,
		verification: verification,
		tokens:       tokens,
		fingerprints: fingerprints,
		cache:        cache,
		mailer:       mailer,
		bcryptCost:   bcryptCost,
		baseURL:      baseURL,
	}
}

// Register creates the user unverified and dispatches the verification mail
// best-effort: the token stays resendable, so a failed send never fails the
// registration.
func (s *authService) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	email, err := common.ValidateEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if err := common.ValidatePassword(req.Password); err != nil {
		return nil, err
	}

	tenant, role, err := s.resolveRegistrationTenant(ctx, req)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &models.User{
		ID:               uuid.New(),
		TenantID:         tenant.ID,
		Email:            email,
		PasswordHash:     string(hash),
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Role:             role,
		Status:           "active",
		EmailVerified:    false,
		TwoFactorEnabled: false,
		TokenValidAfter:  now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	if err := s.issueVerificationToken(ctx, user, now); err != nil {
		log.Printf("WARN: verification mail for %s not dispatched: %v", user.ID, err)
	}

	return &RegisterResult{User: user, Tenant: tenant}, nil
}

func (s *authService) resolveRegistrationTenant(ctx context.Context, req RegisterRequest) (*models.Tenant, string, error) {
	if req.TenantSlug != "" {
		tenant, err := s.tenants.GetBySlug(ctx, req.TenantSlug)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return nil, "", ErrTenantNotFound
			}
			return nil, "", err
		}
		if tenant.Status != "active" {
			return nil, "", ErrTenantNotFound
		}

		count, err := s.users.CountByTenant(ctx, tenant.ID)
		if err != nil {
			return nil, "", err
		}
		if count >= tenant.MaxUsers {
			return nil, "", ErrTenantFull
		}
		return tenant, RoleMember, nil
	}

	if req.OrganizationName == "" {
		return nil, "", ErrTenantNotFound
	}

	// Owner registration: the organization is created alongside its first user.
	tenant := &models.Tenant{
		ID:       uuid.New(),
		Name:     req.OrganizationName,
		Slug:     common.Slugify(req.OrganizationName),
		Status:   "active",
		MaxUsers: defaultTenantMaxUsers,
	}
	if err := s.tenants.Create(ctx, tenant); err != nil {
		return nil, "", err
	}
	return tenant, RoleOwner, nil
}

func (s *authService) issueVerificationToken(ctx context.Context, user *models.User, now time.Time) error {
	vt := &models.VerificationToken{
		Token:     generateSecureToken(),
		TenantID:  user.TenantID,
		UserID:    user.ID,
		ExpiresAt: now.Add(verificationTokenTTL),
	}
	if err := s.verification.Replace(ctx, vt); err != nil {
		return err
	}
	if err := s.users.SetLastVerificationEmailAt(ctx, user.TenantID, user.ID, now); err != nil {
		return err
	}

	return s.mailer.Send(user.Email, MailTemplateVerifyEmail, map[string]string{
		"first_name":       user.FirstName,
		"verification_url": fmt.Sprintf("%s/api/auth/verify-email?token=%s", s.baseURL, vt.Token),
	})
}

func (s *authService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if req.TempLoginID != "" {
		return s.completeTwoFactorLogin(ctx, req)
	}

	email, err := common.ValidateEmail(req.Email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	var user *models.User
	if req.TenantSlug != "" {
		tenant, err := s.tenants.GetBySlug(ctx, req.TenantSlug)
		if err != nil || tenant.Status != "active" {
			bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
			return nil, ErrInvalidCredentials
		}
		user, err = s.users.GetByEmail(ctx, tenant.ID, email)
		if err != nil {
			bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
			return nil, ErrInvalidCredentials
		}
	} else {
		// Tenant not known yet: explicit cross-tenant resolution.
		var resolveErr error
		user, _, resolveErr = s.users.ResolveByEmail(ctx, email)
		if resolveErr != nil {
			bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
			return nil, ErrInvalidCredentials
		}
	}

	if !user.IsActive() {
		return nil, ErrAccountDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if user.TwoFactorEnabled {
		if req.TwoFactorToken == "" {
			tempLoginID := uuid.NewString()
			err := s.cache.SetPendingLogin(ctx, tempLoginID, caching.PendingLogin{
				UserID:   user.ID,
				TenantID: user.TenantID,
			}, tempLoginTTL)
			if err != nil {
				return nil, fmt.Errorf("failed to store login challenge: %w", err)
			}
			return &LoginResult{Requires2FA: true, TempLoginID: tempLoginID}, nil
		}
		if user.TwoFactorSecret == nil || !verifyTOTPAt(*user.TwoFactorSecret, req.TwoFactorToken, time.Now()) {
			return nil, ErrInvalidTwoFactorCode
		}
	}

	return s.establishSession(ctx, user, req.Device)
}

func (s *authService) completeTwoFactorLogin(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	pending, err := s.cache.GetPendingLogin(ctx, req.TempLoginID)
	if err != nil {
		if errors.Is(err, caching.ErrCacheMiss) {
			return nil, ErrLoginChallengeGone
		}
		return nil, err
	}

	user, err := s.users.GetByID(ctx, pending.TenantID, pending.UserID)
	if err != nil {
		return nil, ErrLoginChallengeGone
	}
	if !user.IsActive() {
		return nil, ErrAccountDisabled
	}
	if user.TwoFactorSecret == nil || !verifyTOTPAt(*user.TwoFactorSecret, req.TwoFactorToken, time.Now()) {
		return nil, ErrInvalidTwoFactorCode
	}

	// Consume the challenge only after the code checks out, so a mistyped
	// code does not force the user back to the password step.
	if err := s.cache.DeletePendingLogin(ctx, req.TempLoginID); err != nil {
		log.Printf("WARN: failed to drop login challenge %s: %v", req.TempLoginID, err)
	}

	return s.establishSession(ctx, user, req.Device)
}

func (s *authService) establishSession(ctx context.Context, user *models.User, device DeviceRequest) (*LoginResult, error) {
	refreshToken, err := s.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, err
	}

	info := s.fingerprints.Fingerprint(device.UserAgent, device.IPAddress)
	session := &models.Session{
		ID:         uuid.New(),
		TenantID:   user.TenantID,
		UserID:     user.ID,
		Token:      refreshToken,
		DeviceID:   info.DeviceID,
		DeviceName: info.DeviceName,
		UserAgent:  device.UserAgent,
		IPAddress:  device.IPAddress,
		ExpiresAt:  time.Now().Add(s.tokens.RefreshTTL()),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	accessToken, issuedAt, err := s.tokens.IssueAccessToken(user.ID, user.TenantID)
	if err != nil {
		return nil, err
	}

	if err := s.users.TouchLastLogin(ctx, user.TenantID, user.ID); err != nil {
		log.Printf("WARN: failed to stamp last login for %s: %v", user.ID, err)
	}

	return &LoginResult{
		User: user,
		Tokens: &models.TokenPair{
			AccessToken:  accessToken,
			TokenType:    "Bearer",
			ExpiresIn:    int(s.tokens.AccessTTL().Seconds()),
			RefreshToken: refreshToken,
			IssuedAt:     issuedAt,
		},
		// Login before verification is allowed; the client gates usage
		// behind a verification banner instead.
		EmailVerificationRequired: !user.EmailVerified,
	}, nil
}

// Refresh exchanges a live refresh token for a new access+refresh pair. The
// exchange is consume-once: of two concurrent calls with the same token,
// exactly one rotates the ledger row; the other gets ErrInvalidRefreshToken.
func (s *authService) Refresh(ctx context.Context, refreshToken string, device DeviceRequest) (*models.TokenPair, error) {
	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	session, err := s.sessions.FindByToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, repositories.ErrSessionNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}
	// The ledger row was found by token value alone; re-check it against the
	// signed claims before trusting it.
	if session.UserID.String() != claims.UserID {
		return nil, ErrInvalidRefreshToken
	}

	if err := s.sessions.Touch(ctx, refreshToken); err != nil {
		log.Printf("WARN: failed to touch session %s: %v", session.ID, err)
	}

	user, err := s.users.GetByID(ctx, session.TenantID, session.UserID)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}
	if !user.IsActive() {
		return nil, ErrAccountDisabled
	}

	newToken, err := s.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, err
	}
	newSession := &models.Session{
		ID:        uuid.New(),
		TenantID:  session.TenantID,
		UserID:    session.UserID,
		Token:     newToken,
		UserAgent: device.UserAgent,
		IPAddress: device.IPAddress,
		Location:  session.Location,
		ExpiresAt: time.Now().Add(s.tokens.RefreshTTL()),
	}
	if err := s.sessions.Rotate(ctx, refreshToken, newSession); err != nil {
		if errors.Is(err, repositories.ErrSessionNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	accessToken, issuedAt, err := s.tokens.IssueAccessToken(user.ID, user.TenantID)
	if err != nil {
		return nil, err
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.tokens.AccessTTL().Seconds()),
		RefreshToken: newToken,
		IssuedAt:     issuedAt,
	}, nil
}

func (s *authService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.DeleteByToken(ctx, refreshToken)
}

// LogoutAll removes every session and bumps the revocation clock: sessions
// cover refresh tokens, the bump kills already-issued access tokens that
// would otherwise stay valid until their own expiry.
func (s *authService) LogoutAll(ctx context.Context, tenantID, userID uuid.UUID) error {
	if err := s.sessions.DeleteAllForUser(ctx, tenantID, userID); err != nil {
		return err
	}
	return s.users.BumpTokenValidAfter(ctx, tenantID, userID)
}

// LogoutOthers keeps the calling device's session. The revocation clock is
// deliberately not bumped: other devices' outstanding access tokens survive
// until natural expiry, an accepted latency of one access-token lifetime.
func (s *authService) LogoutOthers(ctx context.Context, tenantID, userID uuid.UUID, currentRefreshToken string) error {
	return s.sessions.DeleteOthers(ctx, tenantID, userID, currentRefreshToken)
}

func (s *authService) ListSessions(ctx context.Context, tenantID, userID uuid.UUID, currentRefreshToken string) ([]*SessionView, error) {
	sessions, err := s.sessions.ListActive(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	views := make([]*SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, &SessionView{
			ID:         session.ID,
			DeviceID:   session.DeviceID,
			DeviceName: session.DeviceName,
			UserAgent:  session.UserAgent,
			IPAddress:  session.IPAddress,
			Location:   session.Location,
			LastUsedAt: session.LastUsedAt,
			ExpiresAt:  session.ExpiresAt,
			CreatedAt:  session.CreatedAt,
			Current:    currentRefreshToken != "" && session.Token == currentRefreshToken,
		})
	}
	return views, nil
}

// DeleteSession is idempotent: deleting an id that is already gone succeeds.
func (s *authService) DeleteSession(ctx context.Context, tenantID, userID, sessionID uuid.UUID) error {
	_, err := s.sessions.DeleteByID(ctx, tenantID, userID, sessionID)
	return err
}

func (s *authService) ChangePassword(ctx context.Context, tenantID, userID uuid.UUID, currentPassword, newPassword string) error {
	if err := common.ValidatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, tenantID, userID, string(hash)); err != nil {
		return err
	}

	// Force re-login everywhere and kill outstanding access tokens.
	if err := s.sessions.DeleteAllForUser(ctx, tenantID, userID); err != nil {
		return err
	}
	return s.users.BumpTokenValidAfter(ctx, tenantID, userID)
}

// VerifyEmail consumes the token one-shot. The failure message does not
// distinguish unknown from expired tokens.
func (s *authService) VerifyEmail(ctx context.Context, token string) error {
	vt, err := s.verification.Consume(ctx, token)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrVerificationInvalid
		}
		return err
	}

	if err := s.users.SetEmailVerified(ctx, vt.TenantID, vt.UserID); err != nil {
		return err
	}

	if user, err := s.users.GetByID(ctx, vt.TenantID, vt.UserID); err == nil {
		if err := s.mailer.Send(user.Email, MailTemplateWelcome, map[string]string{
			"first_name": user.FirstName,
		}); err != nil {
			log.Printf("WARN: welcome mail for %s not dispatched: %v", user.ID, err)
		}
	}
	return nil
}

// ResendVerification regenerates and re-sends the verification token,
// throttled to one send per resendInterval per user. Unknown or already
// verified addresses report success without sending, to avoid enumeration.
func (s *authService) ResendVerification(ctx context.Context, email, tenantSlug string) error {
	normalized, err := common.ValidateEmail(email)
	if err != nil {
		return err
	}

	var user *models.User
	if tenantSlug != "" {
		tenant, err := s.tenants.GetBySlug(ctx, tenantSlug)
		if err != nil {
			return nil
		}
		user, err = s.users.GetByEmail(ctx, tenant.ID, normalized)
		if err != nil {
			return nil
		}
	} else {
		user, _, err = s.users.ResolveByEmail(ctx, normalized)
		if err != nil {
			return nil
		}
	}

	if user.EmailVerified || !user.IsActive() {
		return nil
	}

	now := time.Now()
	if user.LastVerificationEmailAt != nil {
		elapsed := now.Sub(*user.LastVerificationEmailAt)
		if elapsed < resendInterval {
			return &ThrottledError{RetryAfter: resendInterval - elapsed}
		}
	}

	return s.issueVerificationToken(ctx, user, now)
}

// SetupTwoFactor generates a secret and holds it pending in the cache;
// nothing is persisted on the user until a code confirms the enrollment.
func (s *authService) SetupTwoFactor(ctx context.Context, tenantID, userID uuid.UUID) (*TwoFactorSetup, error) {
	user, err := s.users.GetByID(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, ErrTwoFactorEnabled
	}

	secret, otpauthURL, err := generateTwoFactorSecret(user.Email)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetPendingTwoFactorSecret(ctx, tenantID, userID, secret, pendingSecretTTL); err != nil {
		return nil, err
	}

	return &TwoFactorSetup{Secret: secret, OtpauthURL: otpauthURL}, nil
}

func (s *authService) EnableTwoFactor(ctx context.Context, tenantID, userID uuid.UUID, code string) error {
	secret, err := s.cache.GetPendingTwoFactorSecret(ctx, tenantID, userID)
	if err != nil {
		if errors.Is(err, caching.ErrCacheMiss) {
			return ErrTwoFactorNotPending
		}
		return err
	}

	if !verifyTOTPAt(secret, code, time.Now()) {
		return ErrInvalidTwoFactorCode
	}

	if err := s.users.SetTwoFactor(ctx, tenantID, userID, true, &secret); err != nil {
		return err
	}
	if err := s.cache.DeletePendingTwoFactorSecret(ctx, tenantID, userID); err != nil {
		log.Printf("WARN: failed to drop pending 2FA secret for %s: %v", userID, err)
	}
	return nil
}

// generateSecureToken generates a cryptographically secure random token.
func generateSecureToken() string {
	bytes := make([]byte, 32)
	rand.Read(bytes)
	return base64.URLEncoding.EncodeToString(bytes)
}

// DisableTwoFactor requires a valid current code before clearing enrollment.
func (s *authService) DisableTwoFactor(ctx context.Context, tenantID, userID uuid.UUID, code string) error {
	user, err := s.users.GetByID(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if !user.TwoFactorEnabled || user.TwoFactorSecret == nil {
		return ErrTwoFactorNotEnabled
	}
	if !verifyTOTPAt(*user.TwoFactorSecret, code, time.Now()) {
		return ErrInvalidTwoFactorCode
	}

	return s.users.SetTwoFactor(ctx, tenantID, userID, false, nil)
}
