package handlers

import (
	"errors"
	"net/http"
	"time"

	"flowcrm/internal/common"
	"flowcrm/internal/models"
	"flowcrm/internal/services"

	"github.com/labstack/echo/v4"
)

const refreshCookieName = "refreshToken"

// AuthHandlers handles authentication-related HTTP requests
type AuthHandlers struct {
	authService   services.AuthService
	refreshTTL    time.Duration
	secureCookies bool
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(authService services.AuthService, refreshTTL time.Duration, secureCookies bool) *AuthHandlers {
	return &AuthHandlers{
		authService:   authService,
		refreshTTL:    refreshTTL,
		secureCookies: secureCookies,
	}
}

func (h *AuthHandlers) deviceRequest(c echo.Context) services.DeviceRequest {
	return services.DeviceRequest{
		UserAgent: c.Request().UserAgent(),
		IPAddress: c.RealIP(),
	}
}

// setRefreshCookie binds the refresh token to an http-only, same-site-strict
// cookie scoped to the auth endpoints; it never appears in a response body.
func setRefreshCookie(c echo.Context, token string, ttl time.Duration, secure bool) {
	c.SetCookie(&http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/api/auth",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearRefreshCookie(c echo.Context, secure bool) {
	c.SetCookie(&http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/api/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func refreshTokenFromCookie(c echo.Context) string {
	cookie, err := c.Cookie(refreshCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// respondAuthError maps service-level failures onto the HTTP error taxonomy.
// Authentication failures stay generic so responses never reveal which
// factor failed.
func respondAuthError(c echo.Context, err error) error {
	var throttled *services.ThrottledError
	if errors.As(err, &throttled) {
		minutes := int(throttled.RetryAfter.Minutes()) + 1
		return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
			"error": map[string]interface{}{
				"code":    "TOO_MANY_REQUESTS",
				"message": "Verification email already sent recently",
			},
			"retryAfter": minutes,
		})
	}

	switch {
	case errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrInvalidRefreshToken),
		errors.Is(err, services.ErrLoginChallengeGone):
		return c.JSON(http.StatusUnauthorized, common.CreateErrorResponse("UNAUTHORIZED", "Invalid credentials", nil))
	case errors.Is(err, services.ErrInvalidTwoFactorCode):
		return c.JSON(http.StatusUnauthorized, common.CreateErrorResponse("UNAUTHORIZED", "Invalid two-factor code", nil))
	case errors.Is(err, services.ErrAccountDisabled):
		return c.JSON(http.StatusForbidden, common.CreateErrorResponse("FORBIDDEN", "Account disabled", nil))
	case errors.Is(err, services.ErrEmailTaken):
		return c.JSON(http.StatusConflict, common.CreateErrorResponse("CONFLICT", "Email already registered", nil))
	case errors.Is(err, services.ErrTenantFull):
		return c.JSON(http.StatusConflict, common.CreateErrorResponse("CONFLICT", "Organization user limit reached", nil))
	case errors.Is(err, services.ErrTenantNotFound):
		return common.SendClientError(c, "Organization not found")
	case errors.Is(err, services.ErrVerificationInvalid):
		return common.SendClientError(c, "Verification link is invalid or expired. Please request a new one.")
	case errors.Is(err, services.ErrTwoFactorNotPending):
		return common.SendClientError(c, "No two-factor setup in progress")
	case errors.Is(err, services.ErrTwoFactorEnabled):
		return common.SendClientError(c, "Two-factor authentication is already enabled")
	case errors.Is(err, services.ErrTwoFactorNotEnabled):
		return common.SendClientError(c, "Two-factor authentication is not enabled")
	default:
		return common.SendServerError(c, "Operation failed")
	}
}

// RegisterRequest represents the registration request payload
type RegisterRequest struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	OrganizationName string `json:"organizationName"`
	TenantSlug       string `json:"tenantSlug"`
}

// Register handles user registration
func (h *AuthHandlers) Register(c echo.Context) error {
	ctx := c.Request().Context()

	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return common.SendClientError(c, "Invalid request format")
	}

	if _, err := common.ValidateEmail(req.Email); err != nil {
		return common.SendValidationError(c, "email", err.Error())
	}
	if err := common.ValidatePassword(req.Password); err != nil {
		return common.SendValidationError(c, "password", err.Error())
	}
	if err := common.ValidateRequiredString(req.FirstName, "firstName"); err != nil {
		return common.SendValidationError(c, "firstName", err.Error())
	}
	if err := common.ValidateRequiredString(req.LastName, "lastName"); err != nil {
		return common.SendValidationError(c, "lastName", err.Error())
	}
	if req.TenantSlug == "" && req.OrganizationName == "" {
		return common.SendValidationError(c, "organizationName", "organizationName or tenantSlug is required")
	}

	result, err := h.authService.Register(ctx, services.RegisterRequest{
		Email:            req.Email,
		Password:         req.Password,
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		TenantSlug:       req.TenantSlug,
		OrganizationName: req.OrganizationName,
	})
	if err != nil {
		return respondAuthError(c, err)
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"user":    result.User,
		"tenant":  result.Tenant,
		"message": "Registration successful. Please check your email to verify your account.",
	})
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	TenantSlug     string `json:"tenantSlug"`
	TwoFactorToken string `json:"twoFactorToken"`
	TempLoginID    string `json:"tempLoginId"`
}

// LoginResponse represents a completed login
type LoginResponse struct {
	AccessToken               string       `json:"access_token"`
	TokenType                 string       `json:"token_type"`
	ExpiresIn                 int          `json:"expires_in"`
	User                      *models.User `json:"user"`
	EmailVerificationRequired bool         `json:"emailVerificationRequired"`
}

// Login handles user login with email and password, including the 2FA branch
func (h *AuthHandlers) Login(c echo.Context) error {
	ctx := c.Request().Context()

	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return common.SendClientError(c, "Invalid request format")
	}
	if req.TempLoginID == "" && (req.Email == "" || req.Password == "") {
		return common.SendClientError(c, "Email and password are required")
	}
	if req.TempLoginID != "" && req.TwoFactorToken == "" {
		return common.SendClientError(c, "Two-factor code is required")
	}

	result, err := h.authService.Login(ctx, services.LoginRequest{
		Email:          req.Email,
		Password:       req.Password,
		TenantSlug:     req.TenantSlug,
		TwoFactorToken: req.TwoFactorToken,
		TempLoginID:    req.TempLoginID,
		Device:         h.deviceRequest(c),
	})
	if err != nil {
		return respondAuthError(c, err)
	}

	if result.Requires2FA {
		// No tokens yet; the client answers the challenge with a TOTP code.
		return c.JSON(http.StatusOK, map[string]interface{}{
			"requires2FA": true,
			"tempLoginId": result.TempLoginID,
		})
	}

	setRefreshCookie(c, result.Tokens.RefreshToken, h.refreshTTL, h.secureCookies)
	return c.JSON(http.StatusOK, LoginResponse{
		AccessToken:               result.Tokens.AccessToken,
		TokenType:                 result.Tokens.TokenType,
		ExpiresIn:                 result.Tokens.ExpiresIn,
		User:                      result.User,
		EmailVerificationRequired: result.EmailVerificationRequired,
	})
}

// Refresh rotates the refresh-token cookie and returns a fresh access token
func (h *AuthHandlers) Refresh(c echo.Context) error {
	ctx := c.Request().Context()

	refreshToken := refreshTokenFromCookie(c)
	if refreshToken == "" {
		return common.SendUnauthorizedError(c, "Missing refresh token")
	}

	pair, err := h.authService.Refresh(ctx, refreshToken, h.deviceRequest(c))
	if err != nil {
		clearRefreshCookie(c, h.secureCookies)
		return respondAuthError(c, err)
	}

	setRefreshCookie(c, pair.RefreshToken, h.refreshTTL, h.secureCookies)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"access_token": pair.AccessToken,
		"token_type":   pair.TokenType,
		"expires_in":   pair.ExpiresIn,
	})
}

// VerifyEmail consumes a verification token (one-shot)
func (h *AuthHandlers) VerifyEmail(c echo.Context) error {
	ctx := c.Request().Context()

	token := c.QueryParam("token")
	if token == "" {
		return common.SendClientError(c, "Verification token is required")
	}

	if err := h.authService.VerifyEmail(ctx, token); err != nil {
		return respondAuthError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Email verified successfully",
	})
}

// ResendVerificationRequest represents the resend request payload
type ResendVerificationRequest struct {
	Email      string `json:"email"`
	TenantSlug string `json:"tenantSlug"`
}

// ResendVerification re-sends the verification email, throttled per user
func (h *AuthHandlers) ResendVerification(c echo.Context) error {
	ctx := c.Request().Context()

	var req ResendVerificationRequest
	if err := c.Bind(&req); err != nil {
		return common.SendClientError(c, "Invalid request format")
	}
	if _, err := common.ValidateEmail(req.Email); err != nil {
		return common.SendValidationError(c, "email", err.Error())
	}

	if err := h.authService.ResendVerification(ctx, req.Email, req.TenantSlug); err != nil {
		return respondAuthError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "If the account exists and is unverified, a new verification email has been sent.",
	})
}

// ChangePasswordRequest represents the change-password payload
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword rotates the password and invalidates every session
func (h *AuthHandlers) ChangePassword(c echo.Context) error {
	ctx := c.Request().Context()

	userID, ok := common.GetUserIDFromContext(ctx)
	if !ok {
		return common.SendUnauthorizedError(c, "User not authenticated")
	}
	tenantID, ok := common.GetTenantIDFromContext(ctx)
	if !ok {
		return common.SendUnauthorizedError(c, "Tenant not found")
	}

	var req ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return common.SendClientError(c, "Invalid request format")
	}
	if req.CurrentPassword == "" {
		return common.SendValidationError(c, "currentPassword", "currentPassword is required")
	}
	if err := common.ValidatePassword(req.NewPassword); err != nil {
		return common.SendValidationError(c, "newPassword", err.Error())
	}

	if err := h.authService.ChangePassword(ctx, tenantID, userID, req.CurrentPassword, req.NewPassword); err != nil {
		return respondAuthError(c, err)
	}

	clearRefreshCookie(c, h.secureCookies)
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Password changed. Please log in again.",
	})
}

// SetupTwoFactor starts TOTP enrollment; the secret stays pending until a
// code confirms it
func (h *AuthHandlers) SetupTwoFactor(c echo.Context) error {
	ctx := c.Request().Context()

	userID, ok := common.GetUserIDFromContext(ctx)
	if !ok {
		return common.SendUnauthorizedError(c, "User not authenticated")
	}
	tenantID, ok := common.GetTenantIDFromContext(ctx)
	if !ok {
		return common.SendUnauthorizedError(c, "Tenant not found")
	}

	setup, err := h.authService.SetupTwoFactor(ctx, tenantID, userID)
	if err != nil {
		return respondAuthError(c, err)
	}

	return c.JSON(http.StatusOK, setup)
}

// TwoFactorCodeRequest carries a submitted TOTP code
type TwoFactorCodeRequest struct {
	Code string `json:"code"`
}

// EnableTwoFactor confirms enrollment against the pending secret
func (h *AuthHandlers) EnableTwoFactor(c echo.Context) error {
	ctx := c.Request().Context()

	userID, ok := common.GetUserIDFromContext(ctx)
	if !ok {
		return common.SendUnauthorizedError(c, "User not authenticated")
	}
	tenantID, ok := common.GetTenantIDFromContext(ctx)
	if !ok {
		return common.SendUnauthorizedError(c, "Tenant not found")
	}

	var req TwoFactorCodeRequest
	if err := c.Bind(&req); err != nil {
		return common.SendClientError(c, "Invalid request format")
	}
	if req.Code == "" {
		return common.SendValidationError(c, "code", "code is required")
	}

	if err := h.authService.EnableTwoFactor(ctx, tenantID, userID, req.Code); err != nil {
		return respondAuthError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Two-factor authentication enabled",
	})
}

// DisableTwoFactor clears enrollment after a valid current code
func (h *AuthHandlers) DisableTwoFactor(c echo.Context) error {
	ctx := c.Request().Context()

	userID, ok := common.GetUserIDFromContext(ctx)
	if !ok {
		return common.SendUnauthorizedError(c, "User not authenticated")
	}
	tenantID, ok := common.GetTenantIDFromContext(ctx)
	if !ok {
		return common.SendUnauthorizedError(c, "Tenant not found")
	}

	var req TwoFactorCodeRequest
	if err := c.Bind(&req); err != nil {
		return common.SendClientError(c, "Invalid request format")
	}
	if req.Code == "" {
		return common.SendValidationError(c, "code", "code is required")
	}

	if err := h.authService.DisableTwoFactor(ctx, tenantID, userID, req.Code); err != nil {
		return respondAuthError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Two-factor authentication disabled",
	})
}
