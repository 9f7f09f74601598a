package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/score-tracker/internal/models"
	appErrors "github.com/noah-isme/score-tracker/pkg/errors"
	"github.com/noah-isme/score-tracker/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

type tokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// JWT protects routes by requiring a valid access token.
func JWT(auth tokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := auth.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

// OwnUser rejects requests whose token subject differs from the route parameter.
func OwnUser(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, _ := c.Get(ContextUserKey)
		claims, ok := value.(*models.JWTClaims)
		if !ok || claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if claims.Subject != c.Param(param) {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "token does not belong to this user"))
			c.Abort()
			return
		}
		c.Next()
	}
}
