package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgerd/internal/audit"
	"github.com/smallbiznis/ledgerd/internal/clock"
	"github.com/smallbiznis/ledgerd/internal/config"
	"github.com/smallbiznis/ledgerd/internal/customer"
	fxratecache "github.com/smallbiznis/ledgerd/internal/fxrate/cache"
	"github.com/smallbiznis/ledgerd/internal/invoice"
	"github.com/smallbiznis/ledgerd/internal/ledger"
	"github.com/smallbiznis/ledgerd/internal/observability"
	"github.com/smallbiznis/ledgerd/internal/scheduler"
	"github.com/smallbiznis/ledgerd/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// ledgerd-scheduler runs the background jobs without the HTTP surface,
// for deployments that set SCHEDULER_ENABLED=false on the API nodes.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		fx.Provide(fxratecache.NewClient),

		// Domain services required by scheduler
		customer.Module,
		ledger.Module,
		invoice.Module,
		audit.Module,

		// No server module!
		scheduler.WorkerModule,

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
