package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"flowcrm/internal/common"
	"flowcrm/internal/repositories"
	"flowcrm/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RequireAccessToken validates the bearer access token and loads the account
// behind it. Signature and expiry come from the codec; the revocation clock
// and the active flag need the credential store, which is why this is not a
// static echo-jwt config. Expired tokens get a distinct TOKEN_EXPIRED code so
// clients can attempt a silent refresh before surfacing an error.
func RequireAccessToken(tokens services.TokenService, users repositories.UserRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Missing token")
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token format")
			}

			claims, err := tokens.VerifyAccessToken(tokenString)
			if err != nil {
				if errors.Is(err, services.ErrTokenExpired) {
					return echo.NewHTTPError(http.StatusUnauthorized, "TOKEN_EXPIRED")
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
			}

			userID, err := uuid.Parse(claims.UserID)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid user_id format")
			}
			tenantID, err := uuid.Parse(claims.TenantID)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid tenant_id format")
			}

			user, err := users.GetByID(c.Request().Context(), tenantID, userID)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "User not found")
			}
			if !user.IsActive() {
				return echo.NewHTTPError(http.StatusForbidden, "Account disabled")
			}

			// Revocation clock: a token issued at or before the bump is
			// rejected, ties favor revocation.
			if claims.IssuedAt == nil || !claims.IssuedAt.Time.After(user.TokenValidAfter) {
				return echo.NewHTTPError(http.StatusUnauthorized, "Token revoked")
			}

			ctx := context.WithValue(c.Request().Context(), common.UserIDKey, userID)
			ctx = context.WithValue(ctx, common.TenantIDKey, tenantID)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}
