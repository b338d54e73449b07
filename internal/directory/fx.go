package directory

import (
	"github.com/voxmeter/voxmeter/internal/directory/service"
	"go.uber.org/fx"
)

var Module = fx.Module("directory.service",
	fx.Provide(service.NewService),
)
