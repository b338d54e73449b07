package invoice

import (
	"go.uber.org/fx"

	"github.com/voxmeter/voxmeter/internal/invoice/service"
)

var Module = fx.Module("invoice",
	fx.Provide(service.NewService),
)
