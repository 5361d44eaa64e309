package handler

import (
	"errors"
	"net/http"

	"github.com/animora/animora/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusFor maps a service error kind onto an HTTP status.
func statusFor(kind users.Kind) int {
	switch kind {
	case users.KindValidation,
		users.KindConflict,
		users.KindAlreadyVerified,
		users.KindInvalidCode,
		users.KindExpiredCode,
		users.KindInvalidOrExpiredToken,
		users.KindOAuthAccount:
		return http.StatusBadRequest
	case users.KindAuthentication:
		return http.StatusUnauthorized
	case users.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ok writes a success envelope merged with payload.
func ok(c *gin.Context, status int, message string, payload gin.H) {
	body := gin.H{"success": true}
	if message != "" {
		body["message"] = message
	}
	for k, v := range payload {
		body[k] = v
	}
	c.JSON(status, body)
}

// fail writes a failure envelope with a fixed message.
func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": message})
}

// writeError translates a service error into the failure envelope. The
// underlying cause is logged for internal errors and only echoed to the
// client in development mode.
func (h *AuthHandler) writeError(c *gin.Context, op string, err error) {
	kind := users.KindOf(err)
	status := statusFor(kind)
	RecordAuthEvent(op, kind.String())

	message := "Internal server error"
	var cause error = err
	var e *users.Error
	if errors.As(err, &e) {
		message = e.Message
		cause = e.Err
	}

	if kind == users.KindInternal {
		h.logger.Error(op+" failed", zap.Error(err))
	}

	body := gin.H{"success": false, "message": message}
	if h.devMode && cause != nil {
		body["error"] = cause.Error()
	}
	c.AbortWithStatusJSON(status, body)
}
