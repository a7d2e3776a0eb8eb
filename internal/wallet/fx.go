package wallet

import (
	"github.com/smallbiznis/ledgerd/internal/wallet/service"
	"go.uber.org/fx"
)

var Module = fx.Module("wallet.service",
	fx.Provide(service.NewService),
)
