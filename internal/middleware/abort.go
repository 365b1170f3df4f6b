package middleware

import (
	"tvcast/internal/domain"

	"github.com/gin-gonic/gin"
)

// abort ends the chain with the same {error, kind} body the handlers write.
func abort(c *gin.Context, status int, kind domain.Kind, err error) {
	_ = c.Error(domain.E(kind, c.FullPath(), err))
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "kind": kind.String()})
}
