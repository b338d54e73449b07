package identity

import (
	"github.com/voxmeter/voxmeter/internal/identity/service"
	"go.uber.org/fx"
)

var Module = fx.Module("identity.service",
	fx.Provide(service.NewService),
)
