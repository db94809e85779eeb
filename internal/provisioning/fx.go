package provisioning

import (
	"github.com/smallbiznis/testematch/internal/provisioning/service"
	"go.uber.org/fx"
)

var Module = fx.Module("provisioning.service",
	fx.Provide(service.NewService),
)
