package billingcycle

import (
	"context"
	"time"

	"github.com/smallbiznis/ledgerd/internal/billingcycle/domain"
	"github.com/smallbiznis/ledgerd/internal/billingcycle/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("billingcycle.service",
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) domain.Service { return s }),
	fx.Invoke(runRefresher),
)

func runRefresher(lc fx.Lifecycle, svc *service.Service, log *zap.Logger) {
	log = log.Named("billingcycle.refresher")
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, err := svc.Bootstrap(ctx); err != nil {
				return err
			}

			interval := svc.RefreshInterval()
			if interval <= 0 {
				return nil
			}

			go func() {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()

				for {
					select {
					case <-runCtx.Done():
						return
					case <-ticker.C:
						if _, err := svc.Refresh(runCtx); err != nil {
							log.Warn("billing cycle policy refresh failed", zap.Error(err))
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
