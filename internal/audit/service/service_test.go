package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/ledgerd/internal/audit/domain"
	"github.com/smallbiznis/ledgerd/internal/audit/repository"
	"github.com/smallbiznis/ledgerd/internal/clock"
	obscontext "github.com/smallbiznis/ledgerd/internal/observability/context"
	"github.com/smallbiznis/ledgerd/pkg/db"
	"github.com/smallbiznis/ledgerd/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (auditdomain.Service, *clock.FakeClock) {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(9)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC))
	return NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: fake,
	}), fake
}

func TestRecordCapturesActorAndClient(t *testing.T) {
	svc, _ := newTestService(t)

	ctx := auditdomain.WithActor(context.Background(), auditdomain.ActorTypeOperator, "ops@example.com")
	ctx = auditdomain.WithClient(ctx, "10.0.0.7", "curl/8.0")
	ctx = obscontext.WithRequestID(ctx, "req-1")

	require.NoError(t, svc.Record(ctx, auditdomain.Entry{
		Action:     "fx_rate.set",
		TargetType: "fx_rate",
		TargetID:   "USD/CDF",
		Metadata:   map[string]any{"rate": "2800", "": "dropped"},
	}))

	res, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, res.AuditLogs, 1)

	log := res.AuditLogs[0]
	assert.Equal(t, "operator", log.ActorType)
	require.NotNil(t, log.ActorID)
	assert.Equal(t, "ops@example.com", *log.ActorID)
	require.NotNil(t, log.TargetID)
	assert.Equal(t, "USD/CDF", *log.TargetID)
	require.NotNil(t, log.RequestID)
	assert.Equal(t, "req-1", *log.RequestID)
	require.NotNil(t, log.IPAddress)
	assert.Equal(t, "10.0.0.7", *log.IPAddress)
	assert.Equal(t, "2800", log.Metadata["rate"])
	assert.NotContains(t, log.Metadata, "")
}

func TestRecordDefaultsToSystemActor(t *testing.T) {
	svc, _ := newTestService(t)

	require.NoError(t, svc.Record(context.Background(), auditdomain.Entry{Action: "invoice.mark_overdue"}))
	res, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{ActorType: "system"})
	require.NoError(t, err)
	require.Len(t, res.AuditLogs, 1)
	assert.Equal(t, "unknown", res.AuditLogs[0].TargetType)
	assert.Nil(t, res.AuditLogs[0].ActorID)

	err = svc.Record(context.Background(), auditdomain.Entry{Action: "  "})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListFiltersAndPages(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		fake.Advance(time.Minute)
		require.NoError(t, svc.Record(ctx, auditdomain.Entry{Action: "billing_config.update", TargetType: "billing_config"}))
	}
	require.NoError(t, svc.Record(ctx, auditdomain.Entry{Action: "fx_rate.set", TargetType: "fx_rate"}))

	var seen []auditdomain.AuditLog
	token := ""
	for {
		res, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
			Pagination: pagination.Pagination{PageToken: token, PageSize: 2},
			Action:     "billing_config.update",
		})
		require.NoError(t, err)
		seen = append(seen, res.AuditLogs...)
		if !res.HasMore {
			break
		}
		token = res.NextPageToken
	}
	require.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		assert.True(t, seen[i-1].CreatedAt.After(seen[i].CreatedAt))
	}

	start := fake.Now().Add(time.Hour)
	end := fake.Now()
	_, err := svc.List(ctx, auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)

	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageToken: "!!"}})
	assert.ErrorIs(t, err, pagination.ErrInvalidPageToken)
}
