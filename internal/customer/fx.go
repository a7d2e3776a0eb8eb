package customer

import (
	"github.com/smallbiznis/ledgerd/internal/customer/repository"
	"github.com/smallbiznis/ledgerd/internal/customer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("customer.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(service.NewSnapshotResolver),
)
