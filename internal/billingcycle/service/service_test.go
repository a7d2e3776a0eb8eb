package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/ledgerd/internal/billingcycle/domain"
	"github.com/smallbiznis/ledgerd/internal/clock"
	"github.com/smallbiznis/ledgerd/internal/config"
	"github.com/smallbiznis/ledgerd/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newService(t *testing.T, cfg config.BillingConfig) (*Service, *gorm.DB) {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.Policy{}))

	svc := NewService(ServiceParam{
		DB:      conn,
		Log:     zap.NewNop(),
		Billing: config.NewStaticBillingConfigHolder(cfg),
		Clock:   clock.NewFakeClock(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)),
	})
	return svc, conn
}

func TestBootstrapSeedsDefaultsOnce(t *testing.T) {
	cfg := config.DefaultBillingConfig()
	cfg.Cycle.AnchorDay = 5
	svc, conn := newService(t, cfg)
	ctx := context.Background()

	policy, err := svc.Bootstrap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, policy.AnchorDay)
	assert.Equal(t, 5, policy.PrebillLeadDays)
	assert.True(t, policy.AutoApplyWallet)

	_, err = svc.Bootstrap(ctx)
	require.NoError(t, err)

	var count int64
	require.NoError(t, conn.Model(&domain.Policy{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestBootstrapKeepsStoredPolicy(t *testing.T) {
	svc, conn := newService(t, config.DefaultBillingConfig())
	require.NoError(t, conn.Create(&domain.Policy{
		ID:              domain.PolicyRowID,
		AnchorDay:       20,
		PrebillLeadDays: 3,
		UpdatedAt:       time.Now().UTC(),
	}).Error)

	policy, err := svc.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, policy.AnchorDay)
	assert.Equal(t, 20, svc.Current().AnchorDay)
	assert.False(t, svc.Current().AutoApplyWallet)
}

func TestUpdateValidatesAndSwaps(t *testing.T) {
	svc, _ := newService(t, config.DefaultBillingConfig())
	ctx := context.Background()
	_, err := svc.Bootstrap(ctx)
	require.NoError(t, err)

	cases := []struct {
		name   string
		policy domain.Policy
		want   error
	}{
		{"anchor zero", domain.Policy{AnchorDay: 0}, domain.ErrInvalidAnchorDay},
		{"anchor 29", domain.Policy{AnchorDay: 29}, domain.ErrInvalidAnchorDay},
		{"lead 31", domain.Policy{AnchorDay: 1, PrebillLeadDays: 31}, domain.ErrInvalidPrebillLeadDays},
		{"cutoff negative", domain.Policy{AnchorDay: 1, CutoffDaysBeforeAnchor: -1}, domain.ErrInvalidCutoffDays},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Update(ctx, tc.policy)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, domain.IsValidationError(err))
			assert.Equal(t, 1, svc.Current().AnchorDay)
		})
	}

	updated, err := svc.Update(ctx, domain.Policy{
		AnchorDay:              28,
		PrebillLeadDays:        30,
		CutoffDaysBeforeAnchor: 30,
		AutoSuspendOnCutoff:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, 28, updated.AnchorDay)
	assert.Equal(t, 28, svc.Current().AnchorDay)
	assert.True(t, svc.Current().AutoSuspendOnCutoff)
}

func TestRefreshPicksUpExternalChanges(t *testing.T) {
	svc, conn := newService(t, config.DefaultBillingConfig())
	ctx := context.Background()
	_, err := svc.Bootstrap(ctx)
	require.NoError(t, err)

	require.NoError(t, conn.Model(&domain.Policy{}).
		Where("id = ?", domain.PolicyRowID).
		Update("anchor_day", 15).Error)
	assert.Equal(t, 1, svc.Current().AnchorDay)

	policy, err := svc.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, policy.AnchorDay)
	assert.Equal(t, 15, svc.Current().AnchorDay)

	require.NoError(t, conn.Model(&domain.Policy{}).
		Where("id = ?", domain.PolicyRowID).
		Update("anchor_day", 40).Error)
	_, err = svc.Refresh(ctx)
	assert.ErrorIs(t, err, domain.ErrInvalidAnchorDay)
	assert.Equal(t, 15, svc.Current().AnchorDay)
}

func TestCurrentBeforeBootstrapUsesDefaults(t *testing.T) {
	svc, _ := newService(t, config.DefaultBillingConfig())
	assert.Equal(t, 1, svc.Current().AnchorDay)
	assert.Equal(t, time.Minute, svc.RefreshInterval())
}
