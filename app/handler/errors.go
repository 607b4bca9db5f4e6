package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"poolwatch/pkg/demo"
	"poolwatch/pkg/events"
	"poolwatch/pkg/logger"
)

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, events.ErrUnknownKind), errors.Is(err, events.ErrUnknownStream):
		return http.StatusNotFound
	case errors.Is(err, events.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, demo.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logger.ErrorCtx(c.Request.Context(), "%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	} else {
		logger.DebugCtx(c.Request.Context(), "%s %s rejected: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func kindParam(c *gin.Context) (events.Kind, bool) {
	kind, err := events.ParseKind(c.Param("kind"))
	if err != nil {
		respondError(c, err)
		return "", false
	}
	return kind, true
}
