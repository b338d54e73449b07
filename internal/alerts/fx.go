package alerts

import (
	"go.uber.org/fx"

	"github.com/voxmeter/voxmeter/internal/alerts/service"
)

var Module = fx.Module("alerts",
	fx.Provide(service.NewLogNotifier),
	fx.Provide(service.NewService),
)
