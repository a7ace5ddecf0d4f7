package middleware

import (
	"errors"
	"net/http"

	"proctorsfu/internal/core/domain"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// httpStatus maps a domain error chain to an HTTP status code.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrRouterNotFound),
		errors.Is(err, domain.ErrTransportNotFound),
		errors.Is(err, domain.ErrProducerNotFound),
		errors.Is(err, domain.ErrConsumerNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidMessage),
		errors.Is(err, domain.ErrWrongTransportDirection),
		errors.Is(err, domain.ErrIncompatibleCodec):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRoomFull),
		errors.Is(err, domain.ErrNotInRoom):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoWorkersAvailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandlerMiddleware converts errors attached to the Gin context into
// structured responses carrying the same codes the signaling channel uses.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		code := domain.CodeOf(err)
		status := httpStatus(err)

		if status >= 500 {
			logger.Errorw("request failed",
				"code", code,
				"error", err,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
		} else {
			logger.Warnw("request rejected",
				"code", code,
				"error", err,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
		}

		message := err.Error()
		if code == domain.CodeInternal {
			// Do not leak internals to API clients.
			message = "internal server error"
		}

		c.JSON(status, gin.H{
			"error":   code,
			"message": message,
		})
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.JSON(http.StatusInternalServerError, gin.H{
					"error":   domain.CodeInternal,
					"message": "internal server error",
				})
				c.Abort()
			}
		}()

		c.Next()
	}
}
