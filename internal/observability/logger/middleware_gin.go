package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/ledgerd/internal/observability/context"
	"github.com/smallbiznis/ledgerd/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	HeaderRequestID      = "X-Request-Id"
	HeaderIdempotencyKey = "Idempotency-Key"

	// Handlers set these on the gin context so the access log can report
	// which posting was attempted and whether it was replayed.
	ContextKeyExternalRef = "external_ref"
	ContextKeyReplayed    = "replayed"
)

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier maps an error to (type, code) for the access log.
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware writes one http_request event per request, tagged with
// request and correlation IDs and the posting reference when present.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := requestIDFor(c)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		ctx = correlation.ContextWithCorrelationID(ctx, strings.TrimSpace(c.GetHeader(correlation.Header)))
		ctx, correlationID := correlation.EnsureCorrelationID(ctx)
		c.Header(HeaderRequestID, requestID)
		c.Header(correlation.Header, correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		fields = append(fields, postingFields(c)...)

		var errorType string
		if lastErr := c.Errors.Last(); lastErr != nil && cfg.ErrorClassifier != nil {
			var errorCode string
			errorType, errorCode = cfg.ErrorClassifier(lastErr.Err)
			fields = append(fields,
				zap.String("error_type", errorType),
				zap.String("error_code", errorCode),
			)
			if cfg.Debug && status >= http.StatusInternalServerError {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		if ce := FromContext(c.Request.Context()).Check(requestLevel(route, status, errorType), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func postingFields(c *gin.Context) []zap.Field {
	var fields []zap.Field
	ref := strings.TrimSpace(c.GetString(ContextKeyExternalRef))
	if ref == "" {
		ref = strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
	}
	if ref != "" {
		fields = append(fields, zap.String("external_ref", ref))
	}
	if replayed, ok := c.Get(ContextKeyReplayed); ok {
		if b, ok := replayed.(bool); ok {
			fields = append(fields, zap.Bool("replayed", b))
		}
	}
	return fields
}

func requestIDFor(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader(HeaderRequestID))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set("request_id", requestID)
	return requestID
}

// requestLevel keeps health checks and client mistakes out of the info stream.
// Business-rule refusals such as insufficient funds log at warn.
func requestLevel(route string, status int, errorType string) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case (route == "/health" || route == "/metrics") && status < http.StatusBadRequest:
		return zapcore.DebugLevel
	case errorType == "validation_error" || status == http.StatusNotFound:
		return zapcore.DebugLevel
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
