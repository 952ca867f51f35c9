package web

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// RequestIDHeader carries the request id in both directions.
	RequestIDHeader = "X-Request-Id"

	requestIDContextKey = "request_id"
	maxRequestIDLength  = 128
)

// RequestIDMiddleware assigns every request an id, reusing a sane inbound header when present.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		requestID := contextGin.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.NewString()
		}
		contextGin.Set(requestIDContextKey, requestID)
		contextGin.Header(RequestIDHeader, requestID)
		contextGin.Next()
	}
}

// RequestID returns the id assigned by RequestIDMiddleware, or an empty string.
func RequestID(contextGin *gin.Context) string {
	return contextGin.GetString(requestIDContextKey)
}

// ZapLoggerMiddleware logs one line per request.
func ZapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
			zap.String("request_id", RequestID(contextGin)),
		)
	}
}
