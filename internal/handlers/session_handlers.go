package handlers

import (
	"net/http"

	"flowcrm/internal/common"
	"flowcrm/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// SessionHandlers handles session-lifecycle HTTP requests
type SessionHandlers struct {
	authService   services.AuthService
	secureCookies bool
}

// NewSessionHandlers creates a new session handlers instance
func NewSessionHandlers(authService services.AuthService, secureCookies bool) *SessionHandlers {
	return &SessionHandlers{
		authService:   authService,
		secureCookies: secureCookies,
	}
}

// Logout ends the current session and clears the refresh cookie. Logging out
// an already-dead session still succeeds.
func (h *SessionHandlers) Logout(c echo.Context) error {
	ctx := c.Request().Context()

	if refreshToken := refreshTokenFromCookie(c); refreshToken != "" {
		if err := h.authService.Logout(ctx, refreshToken); err != nil {
			return respondAuthError(c, err)
		}
	}

	clearRefreshCookie(c, h.secureCookies)
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Logged out",
	})
}

// LogoutAll ends every session for the user and revokes outstanding access
// tokens
func (h *SessionHandlers) LogoutAll(c echo.Context) error {
	ctx := c.Request().Context()

	userID, ok := common.GetUserIDFromContext(ctx)
	if !ok {
		return common.SendUnauthorizedError(c, "User not authenticated")
	}
	tenantID, ok := common.GetTenantIDFromContext(ctx)
	if !ok {
		return common.SendUnauthorizedError(c, "Tenant not found")
	}

	if err := h.authService.LogoutAll(ctx, tenantID, userID); err != nil {
		return respondAuthError(c, err)
	}

	clearRefreshCookie(c, h.secureCookies)
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Logged out everywhere",
	})
}

// ListSessions returns the user's active sessions with the current one marked
func (h *SessionHandlers) ListSessions(c echo.Context) error {
	ctx := c.Request().Context()

	userID, ok := common.GetUserIDFromContext(ctx)
	if !ok {
		return common.SendUnauthorizedError(c, "User not authenticated")
	}
	tenantID, ok := common.GetTenantIDFromContext(ctx)
	if !ok {
		return common.SendUnauthorizedError(c, "Tenant not found")
	}

	sessions, err := h.authService.ListSessions(ctx, tenantID, userID, refreshTokenFromCookie(c))
	if err != nil {
		return respondAuthError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}

// DeleteSession revokes a single session by id; unknown ids are treated as
// already revoked
func (h *SessionHandlers) DeleteSession(c echo.Context) error {
	ctx := c.Request().Context()

	userID, ok := common.GetUserIDFromContext(ctx)
	if !ok {
		return common.SendUnauthorizedError(c, "User not authenticated")
	}
	tenantID, ok := common.GetTenantIDFromContext(ctx)
	if !ok {
		return common.SendUnauthorizedError(c, "Tenant not found")
	}

	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return common.SendValidationError(c, "id", "invalid session id")
	}

	if err := h.authService.DeleteSession(ctx, tenantID, userID, sessionID); err != nil {
		return respondAuthError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Session revoked",
	})
}

// LogoutOthers revokes every session except the current one
func (h *SessionHandlers) LogoutOthers(c echo.Context) error {
	ctx := c.Request().Context()

	userID, ok := common.GetUserIDFromContext(ctx)
	if !ok {
		return common.SendUnauthorizedError(c, "User not authenticated")
	}
	tenantID, ok := common.GetTenantIDFromContext(ctx)
	if !ok {
		return common.SendUnauthorizedError(c, "Tenant not found")
	}

	refreshToken := refreshTokenFromCookie(c)
	if refreshToken == "" {
		return common.SendUnauthorizedError(c, "Missing refresh token")
	}

	if err := h.authService.LogoutOthers(ctx, tenantID, userID, refreshToken); err != nil {
		return respondAuthError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Other sessions revoked",
	})
}
