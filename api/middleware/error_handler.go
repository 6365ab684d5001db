// api/middleware/error_handler.go
package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10" // Import validator for binding errors
	"github.com/sirupsen/logrus"

	"github.com/Annany2002/nebula-gateway/internal/core"
	"github.com/Annany2002/nebula-gateway/internal/logger"
)

var customLog = logger.NewLogger()

const internalErrorMessage = "An unexpected internal server error occurred."

// StatusFor maps an error to its HTTP status code and the message shown to
// the caller.
func StatusFor(err error) (int, string) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		for _, fe := range validationErrs {
			customLog.Debugf("Validation Error: Field %s failed on %s", fe.Field(), fe.Tag())
		}
		return http.StatusBadRequest, "Validation failed. Please check your input."
	}

	var coreErr *core.Error
	hasMessage := errors.As(err, &coreErr)

	var status int
	switch core.KindOf(err) {
	case core.ErrUnauthenticated:
		status = http.StatusUnauthorized
	case core.ErrForbidden:
		status = http.StatusForbidden
	case core.ErrRateLimited:
		status = http.StatusTooManyRequests
	case core.ErrNotFound:
		status = http.StatusNotFound
	case core.ErrValidation:
		status = http.StatusBadRequest
	case core.ErrMethodNotAllowed:
		status = http.StatusMethodNotAllowed
	case core.ErrConflict:
		status = http.StatusConflict
	case core.ErrTooLarge:
		status = http.StatusRequestEntityTooLarge
	default:
		status = http.StatusInternalServerError
	}

	if !hasMessage {
		return status, internalErrorMessage
	}
	return status, coreErr.Error()
}

// ErrorHandler creates a Gin middleware for centralized error handling.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		// We only handle the last error for the response.
		err := c.Errors.Last().Err
		statusCode, userMessage := StatusFor(err)

		entry := customLog.WithFields(logrus.Fields{
			"status": statusCode,
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		})
		if statusCode >= http.StatusInternalServerError {
			entry.Errorf("[ErrorHandler] %v", err)
		} else {
			entry.Debugf("[ErrorHandler] %v", err)
		}

		if !c.Writer.Written() {
			c.AbortWithStatusJSON(statusCode, gin.H{"error": userMessage})
		} else {
			customLog.Warnf("[ErrorHandler] Response already written before handling error: %v", err)
		}
	}
}
