package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "pulse-backend/pkg/errors"
	"pulse-backend/pkg/jwt"
	"pulse-backend/pkg/logger"
	"pulse-backend/pkg/response"
)

// Context keys set by AuthMiddleware
const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
	ContextClaims   = "claims"
)

// AccessTokenCookie is the cookie browsers send on the WebSocket handshake
const AccessTokenCookie = "access_token"

// RevocationChecker defines interface for checking if a session was revoked on logout
type RevocationChecker interface {
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

// Authenticator validates access tokens and checks revocation
type Authenticator struct {
	jwtManager *jwt.JWTManager
	revocation RevocationChecker
}

// NewAuthenticator creates an Authenticator; revocation may be nil
func NewAuthenticator(jwtManager *jwt.JWTManager, revocation RevocationChecker) *Authenticator {
	return &Authenticator{jwtManager: jwtManager, revocation: revocation}
}

// Authenticate validates tokenString. A revocation lookup that fails lets the
// token through since signature and expiry were already checked.
func (a *Authenticator) Authenticate(ctx context.Context, tokenString string) (*jwt.Claims, error) {
	claims, err := a.jwtManager.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	if a.revocation != nil {
		revoked, err := a.revocation.IsRevoked(ctx, claims.SessionID())
		if err != nil {
			logger.FromContext(ctx).Warn("Revocation check failed, allowing token",
				zap.String("username", claims.Username),
				zap.Error(err))
			return claims, nil
		}
		if revoked {
			return nil, errRevoked
		}
	}

	return claims, nil
}

type authError string

func (e authError) Error() string { return string(e) }

const errRevoked authError = "token revoked"

// ExtractToken reads the access token from the Authorization header, the
// access_token cookie or the token query parameter, in that order.
func ExtractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}

// AuthMiddleware validates the bearer token and sets user_id, username and
// claims in the Gin context
func AuthMiddleware(auth *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ExtractToken(c.Request)
		if tokenString == "" {
			response.Unauthorized(c, "Authorization required")
			c.Abort()
			return
		}

		claims, err := auth.Authenticate(c.Request.Context(), tokenString)
		if err != nil {
			if err == errRevoked {
				response.FromError(c, apperrors.InvalidTokenError("Token revoked"))
			} else {
				response.FromError(c, apperrors.InvalidTokenError("Invalid token"))
			}
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUsername, claims.Username)
		c.Set(ContextClaims, claims)
		c.Next()
	}
}

// Username returns the authenticated username set by AuthMiddleware
func Username(c *gin.Context) string {
	return c.GetString(ContextUsername)
}
