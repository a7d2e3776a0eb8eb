package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/smallbiznis/ledgerd/internal/billingcycle/domain"
	"github.com/smallbiznis/ledgerd/internal/clock"
	"github.com/smallbiznis/ledgerd/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Billing *config.BillingConfigHolder `optional:"true"`
	Clock   clock.Clock                 `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	billing *config.BillingConfigHolder
	clock   clock.Clock

	current atomic.Pointer[domain.Policy]
}

func NewService(p ServiceParam) *Service {
	svc := &Service{
		db:      p.DB,
		log:     p.Log.Named("billingcycle.service"),
		billing: p.Billing,
		clock:   p.Clock,
	}
	if svc.billing == nil {
		svc.billing = config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())
	}
	if svc.clock == nil {
		svc.clock = clock.System()
	}
	defaults := domain.PolicyFromDefaults(svc.billing.Get().Cycle)
	svc.current.Store(&defaults)
	return svc
}

// RefreshInterval is how often the background loop reloads the policy.
func (s *Service) RefreshInterval() time.Duration {
	return s.billing.Get().PolicyRefreshEvery
}

func (s *Service) Bootstrap(ctx context.Context) (domain.Policy, error) {
	policy, err := s.load(ctx)
	if err == nil {
		return s.swap(policy)
	}
	if !errors.Is(err, domain.ErrPolicyNotFound) {
		return domain.Policy{}, err
	}

	defaults := domain.PolicyFromDefaults(s.billing.Get().Cycle)
	if err := defaults.Validate(); err != nil {
		return domain.Policy{}, fmt.Errorf("billing cycle defaults: %w", err)
	}
	defaults.UpdatedAt = s.clock.Now().UTC().Truncate(time.Microsecond)

	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&defaults).Error; err != nil {
		return domain.Policy{}, err
	}

	policy, err = s.load(ctx)
	if err != nil {
		return domain.Policy{}, err
	}
	s.log.Info("billing cycle policy seeded from defaults",
		zap.Int("anchor_day", policy.AnchorDay),
		zap.Int("prebill_lead_days", policy.PrebillLeadDays),
	)
	return s.swap(policy)
}

func (s *Service) Current() domain.Policy {
	return *s.current.Load()
}

func (s *Service) Update(ctx context.Context, policy domain.Policy) (domain.Policy, error) {
	if err := policy.Validate(); err != nil {
		return domain.Policy{}, err
	}
	policy.ID = domain.PolicyRowID
	policy.UpdatedAt = s.clock.Now().UTC().Truncate(time.Microsecond)

	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&policy).Error; err != nil {
		return domain.Policy{}, err
	}

	s.log.Info("billing cycle policy updated",
		zap.Int("anchor_day", policy.AnchorDay),
		zap.Int("prebill_lead_days", policy.PrebillLeadDays),
		zap.Int("cutoff_days_before_anchor", policy.CutoffDaysBeforeAnchor),
	)
	s.current.Store(&policy)
	return policy, nil
}

func (s *Service) Refresh(ctx context.Context) (domain.Policy, error) {
	policy, err := s.load(ctx)
	if err != nil {
		return s.Current(), err
	}
	return s.swap(policy)
}

func (s *Service) swap(policy domain.Policy) (domain.Policy, error) {
	if err := policy.Validate(); err != nil {
		s.log.Error("stored billing cycle policy is invalid", zap.Error(err))
		return s.Current(), err
	}
	s.current.Store(&policy)
	return policy, nil
}

func (s *Service) load(ctx context.Context) (domain.Policy, error) {
	var policy domain.Policy
	if err := s.db.WithContext(ctx).Take(&policy, "id = ?", domain.PolicyRowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Policy{}, domain.ErrPolicyNotFound
		}
		return domain.Policy{}, err
	}
	return policy, nil
}
