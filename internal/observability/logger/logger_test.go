package logger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func observeGlobal(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}

func TestRequestLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, requestLevel("/health", http.StatusOK, ""))
	assert.Equal(t, zapcore.InfoLevel, requestLevel("/v1/entries", http.StatusOK, ""))
	assert.Equal(t, zapcore.DebugLevel, requestLevel("/v1/entries", http.StatusBadRequest, "validation_error"))
	assert.Equal(t, zapcore.WarnLevel, requestLevel("/v1/wallets/:id/debit", http.StatusUnprocessableEntity, "insufficient_funds"))
	assert.Equal(t, zapcore.WarnLevel, requestLevel("/v1/invoices/:id/status", http.StatusConflict, "conflict"))
	assert.Equal(t, zapcore.ErrorLevel, requestLevel("/v1/entries", http.StatusInternalServerError, "internal_error"))
}

func TestGinMiddlewareLogsPostingFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logs := observeGlobal(t)

	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.POST("/v1/billing_accounts/:id/entries", func(c *gin.Context) {
		c.Set(ContextKeyExternalRef, "pay-77")
		c.Set(ContextKeyReplayed, true)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/billing_accounts/1/entries", nil)
	req.Header.Set(HeaderRequestID, "req-abc")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "req-abc", rec.Header().Get(HeaderRequestID))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-Id"))

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "pay-77", fields["external_ref"])
	assert.Equal(t, true, fields["replayed"])
	assert.Equal(t, "req-abc", fields["request_id"])
	assert.Equal(t, "/v1/billing_accounts/:id/entries", fields["route"])
}

func TestGormLoggerDowngradesExpectedErrors(t *testing.T) {
	logs := observeGlobal(t)
	dup := errors.New("UNIQUE constraint failed: account_entries.external_ref")

	l := NewGormLogger(GormLoggerConfig{
		Level:    gormlogger.Warn,
		Expected: func(err error) bool { return errors.Is(err, dup) },
	})
	sql := func() (string, int64) { return "INSERT INTO account_entries (id) VALUES (1)", 0 }

	l.Trace(context.Background(), time.Now(), sql, dup)
	l.Trace(context.Background(), time.Now(), sql, errors.New("connection reset"))
	l.Trace(context.Background(), time.Now(), sql, gormlogger.ErrRecordNotFound)

	entries := logs.FilterMessage("gorm.query").All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, zapcore.DebugLevel, entries[2].Level)
	assert.Equal(t, "INSERT", entries[1].ContextMap()["operation"])
}

func TestGormLoggerSilent(t *testing.T) {
	logs := observeGlobal(t)
	l := NewGormLogger(DefaultGormLoggerConfig()).LogMode(gormlogger.Silent)
	l.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 1 }, errors.New("boom"))
	assert.Zero(t, logs.Len())
}

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "SELECT", operationFromSQL("WITH x AS (SELECT 1) SELECT * FROM x"))
	assert.Equal(t, "UPDATE", operationFromSQL(" update invoices set status = 'overdue'"))
	assert.Equal(t, "UNKNOWN", operationFromSQL(""))
}
