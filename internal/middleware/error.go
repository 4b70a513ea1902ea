package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/omnigate/omnigate/internal/pkg/apperrors"
	"github.com/omnigate/omnigate/internal/pkg/logger"
)

func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) {
			appErr = apperrors.New(apperrors.ErrInternal, err.Error(), err)
		}

		logFields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"code", appErr.Type,
			"client_ip", c.ClientIP(),
		}

		switch {
		case apperrors.Fatal(appErr):
			// Integrity errors surface through the ledger before reaching
			// here, but a fatal code escaping to a response still alerts.
			logger.LogError(c.Request.Context(), appErr, "integrity error reached HTTP surface", logFields...)
		case appErr.HTTPStatus >= 500:
			logger.LogError(c.Request.Context(), appErr, "Internal Server Error", logFields...)
		case apperrors.Is(appErr, apperrors.ErrLockUnavailable):
			logger.Debug(appErr.Message, logFields...)
		default:
			logger.Warn(appErr.Message, logFields...)
		}

		c.JSON(appErr.HTTPStatus, appErr)
	}
}
