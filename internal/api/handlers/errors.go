package handlers

import (
	"net/http"

	"example.com/backstage/services/library/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrorResponse defines the structure of an error response
type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

const (
	codeInvalidRequest = "INVALID_REQUEST"
	msgInvalidJSON     = "Invalid JSON"
	msgInternal        = "Internal server error"
)

var statusByKind = map[services.Kind]int{
	services.KindValidation:  http.StatusBadRequest,
	services.KindNotFound:    http.StatusNotFound,
	services.KindConflict:    http.StatusConflict,
	services.KindPersistence: http.StatusInternalServerError,
	services.KindUnavailable: http.StatusServiceUnavailable,
}

// writeError maps a service error onto a status code and error body.
// Errors outside the service taxonomy become a generic 500.
func writeError(c *gin.Context, err error) {
	var svcErr *services.Error
	if !errors.As(err, &svcErr) {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Unhandled error")
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
			Message: msgInternal,
			Code:    "INTERNAL_ERROR",
		})
		return
	}

	status, ok := statusByKind[svcErr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Message: svcErr.Message,
		Code:    svcErr.Kind.String(),
	})
}

// bindJSON decodes the body into dst, rejecting anything that is not a
// JSON document
func bindJSON(c *gin.Context, dst interface{}) bool {
	if c.ContentType() != gin.MIMEJSON {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Message: msgInvalidJSON, Code: codeInvalidRequest})
		return false
	}

	if err := c.ShouldBindJSON(dst); err != nil {
		log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("Invalid request body")
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Message: msgInvalidJSON, Code: codeInvalidRequest})
		return false
	}

	return true
}
