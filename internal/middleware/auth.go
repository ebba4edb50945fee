package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"pairchat/internal/apperr"
	"pairchat/internal/models"
	"pairchat/internal/observability"
)

// Authenticator resolves a bearer token to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (models.User, error)
}

// AuthMiddleware validates the bearer token and stores the user id under
// "userID" for downstream handlers.
func AuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := observability.BearerToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		user, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			status := http.StatusUnauthorized
			if apperr.CodeOf(err) == apperr.CodeInternal {
				status = http.StatusInternalServerError
			}
			c.AbortWithStatusJSON(status, gin.H{"error": apperr.MessageOf(err, "authentication failed")})
			return
		}

		c.Set("userID", user.ID)
		c.Next()
	}
}
