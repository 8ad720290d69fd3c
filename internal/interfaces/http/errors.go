package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/letter-approval/internal/domain/apperr"
)

// statusFor maps a domain error kind to its HTTP status
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindState:
		return http.StatusConflict
	case apperr.KindAssignment:
		return http.StatusUnprocessableEntity
	case apperr.KindRateLimit:
		return http.StatusTooManyRequests
	case apperr.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// writeError renders err in the response envelope. Internal errors are
// logged and hidden from the caller.
func (h *Handlers) writeError(c *gin.Context, err error) {
	status := statusFor(err)

	msg := err.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		msg = appErr.Message
		if msg == "" {
			msg = appErr.Error()
		}
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"error", err,
		)
		msg = "internal error"
	}

	if status == http.StatusTooManyRequests {
		if wait := apperr.RetryAfterOf(err); wait > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		}
	}

	c.JSON(status, Response{
		Success: false,
		Error:   msg,
		Code:    string(apperr.KindOf(err)),
	})
}
