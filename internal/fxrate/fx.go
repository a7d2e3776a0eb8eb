package fxrate

import (
	"github.com/smallbiznis/ledgerd/internal/fxrate/cache"
	"github.com/smallbiznis/ledgerd/internal/fxrate/service"
	"go.uber.org/fx"
)

var Module = fx.Module("fxrate.service",
	fx.Provide(
		cache.NewClient,
		cache.Provide,
		service.NewService,
	),
)
