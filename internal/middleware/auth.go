package middleware

import (
	"net/http"
	"strings"

	"tvcast/config"
	"tvcast/internal/auth"
	"tvcast/internal/domain"

	"github.com/gin-gonic/gin"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(c *gin.Context) (string, bool) {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// AuthRequired accepts access tokens issued by the account service and stores the claims
// on the request context.
func AuthRequired(cfg *config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			abort(c, http.StatusUnauthorized, domain.KindUnauthorized, domain.ErrMissingToken)
			return
		}
		claims, err := auth.ParseAccessToken(cfg, token)
		if err != nil {
			abort(c, http.StatusUnauthorized, domain.KindUnauthorized, domain.ErrBadToken)
			return
		}
		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// GetUserID is zero outside AuthRequired.
func GetUserID(c *gin.Context) uint {
	id, _ := c.Get(ctxUserID)
	v, _ := id.(uint)
	return v
}
