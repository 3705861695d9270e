package logger

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/vetclinic/internal/observability/context"
	"github.com/smallbiznis/vetclinic/pkg/telemetry"
	"github.com/smallbiznis/vetclinic/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-Id"

type MiddlewareConfig struct {
	// Debug adds the raw handler error to the access log.
	Debug bool
	// ErrorClassifier maps a handler error to the (type, code) pair the
	// error response carries.
	ErrorClassifier func(err error) (string, string)
	Metrics         *telemetry.Metrics
}

// GinMiddleware assigns request and correlation ids, then writes one access
// log line and one latency observation per request.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(requestIDHeader, requestID)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		ctx, cid := correlation.FromHeader(ctx, c.GetHeader(correlation.HeaderName))
		c.Header(correlation.HeaderName, cid)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		// c.Request now carries the tenant set by the auth middleware.
		reqCtx := c.Request.Context()
		cfg.Metrics.ObserveAPIRequest(route, strconv.Itoa(status), obscontext.TenantIDFromContext(reqCtx), elapsed)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		errType := ""
		if last := c.Errors.Last(); last != nil {
			errCode := ""
			if cfg.ErrorClassifier != nil {
				errType, errCode = cfg.ErrorClassifier(last.Err)
			}
			fields = append(fields, zap.String("error_type", errType), zap.String("error_code", errCode))
			if cfg.Debug {
				fields = append(fields, zap.Error(last.Err))
			}
		}

		if ce := FromContext(reqCtx).Check(accessLevel(route, status, errType), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

// accessLevel keeps health checks and client validation errors out of info logs
// and raises server errors.
func accessLevel(route string, status int, errType string) zapcore.Level {
	switch {
	case route == "/health" || route == "/metrics":
		return zapcore.DebugLevel
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case errType == "validation_error":
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}
