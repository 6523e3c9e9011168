package middleware

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"devicefarm/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/pretty"
)

// TraceHeader carries the request trace id in and out of the API
const TraceHeader = "X-Trace-Id"

const maxLoggedBody = 1000

// Logger logs every request with its latency. The trace id from TraceHeader, or a new
// one, is attached to the request context so service logs can be correlated.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		traceID := c.GetHeader(TraceHeader)
		if traceID == "" {
			traceID = uuid.New().String()
		}
		c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), traceID))
		c.Header(TraceHeader, traceID)

		var bodyStr string
		if c.Request.Method == http.MethodPost {
			bodyStr = getRequestBody(c)
		}

		c.Next()

		statusCode := c.Writer.Status()
		// Liveness probes arrive every few seconds from every node
		if statusCode == http.StatusNotFound || (statusCode == http.StatusOK && c.FullPath() == "/device-farm/api/status") {
			return
		}

		logMsg := fmt.Sprintf("[GIN] %3d | %13v | %15s | %s | %s",
			statusCode,
			time.Since(startTime),
			c.ClientIP(),
			c.Request.Method,
			c.Request.RequestURI,
		)
		if bodyStr != "" {
			logMsg += fmt.Sprintf(" | body: %s", bodyStr)
		}

		if statusCode >= http.StatusInternalServerError {
			logger.ErrorCtx(c.Request.Context(), "%s", logMsg)
		} else {
			logger.InfoCtx(c.Request.Context(), "%s", logMsg)
		}
	}
}

// getRequestBody reads the body and puts it back for the handler
func getRequestBody(c *gin.Context) string {
	var bodyBytes []byte
	if c.Request.Body != nil {
		bodyBytes, _ = io.ReadAll(c.Request.Body)
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	}
	return CompressBody(string(bodyBytes))
}

// CompressBody strips JSON whitespace and truncates long bodies
func CompressBody(body string) string {
	if len(body) == 0 {
		return ""
	}

	compressed := pretty.Ugly([]byte(body))
	if len(compressed) > maxLoggedBody {
		return string(compressed[:maxLoggedBody]) + "..."
	}
	return string(compressed)
}
