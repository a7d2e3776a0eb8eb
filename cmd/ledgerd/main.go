package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgerd/internal/clock"
	"github.com/smallbiznis/ledgerd/internal/config"
	"github.com/smallbiznis/ledgerd/internal/migration"
	"github.com/smallbiznis/ledgerd/internal/observability"
	"github.com/smallbiznis/ledgerd/internal/scheduler"
	"github.com/smallbiznis/ledgerd/internal/server"
	"github.com/smallbiznis/ledgerd/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Domains and HTTP surface
		server.Module,
		scheduler.Module,

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
	app.Run()
}

// RegisterSnowflake provides the ID generator. NODE_ID separates instances
// writing to the same database.
func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
