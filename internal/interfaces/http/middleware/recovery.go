package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"z-novel-pipeline/pkg/errors"
	"z-novel-pipeline/pkg/logger"
)

// Recovery 捕获处理器 panic，记录堆栈并返回统一的 500 错误体
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			ctx := c.Request.Context()
			logger.Error(ctx, "panic recovered", fmt.Errorf("%v", rec),
				"route", c.FullPath(),
				"method", c.Request.Method,
				"stack", string(debug.Stack()),
			)

			appErr := errors.ErrInternalError
			c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
				"code":       appErr.HTTPStatus,
				"message":    appErr.Message,
				"error_code": appErr.Code,
				"request_id": c.GetString("request_id"),
			})
		}()

		c.Next()
	}
}
