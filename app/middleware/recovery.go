package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"devicefarm/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Recovery turns a handler panic into a 500 response
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				stack := debug.Stack()
				logger.ErrorCtx(c.Request.Context(),
					"panic recovered on %s %s: %v\nstack:\n%s",
					c.Request.Method,
					c.Request.URL.Path,
					err,
					string(stack),
				)

				body := gin.H{"error": "Internal Server Error"}
				if gin.Mode() == gin.DebugMode {
					body["panic"] = fmt.Sprint(err)
					body["stack"] = string(stack)
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, body)
			}
		}()

		c.Next()
	}
}
