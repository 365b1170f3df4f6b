package handler

import (
	"errors"
	"net/http"

	"tvcast/internal/domain"

	"github.com/gin-gonic/gin"
)

func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindNoTargets:
		return http.StatusUnprocessableEntity
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindTransport:
		return http.StatusBadGateway
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// respondError writes the error body for err; internal failures are not echoed to the caller.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	_ = c.Error(err)
	msg := "internal error"
	if status != http.StatusInternalServerError {
		msg = err.Error()
		var de *domain.Error
		if errors.As(err, &de) && de.Err != nil {
			msg = de.Err.Error()
		}
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "kind": domain.KindOf(err).String()})
}
