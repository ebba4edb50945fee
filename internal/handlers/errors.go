package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"pairchat/internal/apperr"
)

// Auditor records policy rejections on the audit stream.
type Auditor interface {
	Emit(ctx context.Context, level, text, requestID string, userID int64)
}

func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperr.CodeUnauthenticated:
		return http.StatusUnauthorized
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodePermissionDenied, apperr.CodeCapacityExceeded:
		return http.StatusForbidden
	case apperr.CodeAlreadyExists, apperr.CodeAlreadyPaired, apperr.CodeConflictingPairing:
		return http.StatusConflict
	case apperr.CodeUploadFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {"error": msg}. Internal failures are logged
// and hidden; capacity and pairing rejections go to the audit stream.
func respondError(c *gin.Context, auditor Auditor, err error) {
	code := apperr.CodeOf(err)
	status := statusFor(code)

	if status >= http.StatusInternalServerError {
		logrus.WithError(err).WithFields(logrus.Fields{
			"path":       c.FullPath(),
			"request_id": requestIDFromContext(c),
		}).Error("request failed")
	}

	switch code {
	case apperr.CodeCapacityExceeded, apperr.CodeAlreadyPaired, apperr.CodeConflictingPairing:
		if auditor != nil {
			auditor.Emit(c.Request.Context(), "WARN", c.FullPath()+" rejected: "+apperr.MessageOf(err, string(code)), requestIDFromContext(c), userIDFromContext(c))
		}
	}

	c.JSON(status, gin.H{"error": apperr.MessageOf(err, "internal server error")})
}
