package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"intervue/internal/logger"
	"intervue/internal/models"
)

const (
	userContextKey      = "auth_user"
	authTokenContextKey = "auth_token"
)

// ErrUnknownUser is returned by a UserLoader when the token's user is gone.
var ErrUnknownUser = errors.New("user not found")

// UserLoader resolves a verified user id into the full account.
type UserLoader interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// Middleware validates bearer tokens or the auth cookie and stores the
// authenticated user in the context.
func (s *Service) Middleware(users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		authToken := s.extractToken(c)
		if authToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		userID, err := s.ValidateToken(c.Request.Context(), authToken)
		if err != nil {
			if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenRequired) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				return
			}
			logger.Logger.WithError(err).Error("validate auth token")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
			return
		}
		user, err := users.GetUser(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, ErrUnknownUser) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
				return
			}
			logger.Logger.WithError(err).WithField("user_id", userID).Error("load authenticated user")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
			return
		}
		c.Set(userContextKey, user)
		c.Set(authTokenContextKey, authToken)
		c.Next()
	}
}

// UserFromContext retrieves the authenticated user from the gin context.
func UserFromContext(c *gin.Context) (*models.User, bool) {
	val, ok := c.Get(userContextKey)
	if !ok {
		return nil, false
	}
	user, ok := val.(*models.User)
	return user, ok && user != nil
}

// AuthTokenFromContext retrieves the token captured by the middleware.
func AuthTokenFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(authTokenContextKey)
	if !ok {
		return "", false
	}
	token, ok := val.(string)
	return token, ok
}

func (s *Service) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	if token, err := c.Cookie(s.cookieName); err == nil && token != "" {
		return token
	}
	return ""
}
