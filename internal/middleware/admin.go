package middleware

import (
	"net/http"

	"tvcast/internal/domain"

	"github.com/gin-gonic/gin"
)

// AdminRequired must run after AuthRequired.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if role, _ := c.Get(ctxRole); role != domain.RoleAdmin {
			abort(c, http.StatusForbidden, domain.KindForbidden, domain.ErrAdminOnly)
			return
		}
		c.Next()
	}
}
