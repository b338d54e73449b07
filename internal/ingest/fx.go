package ingest

import (
	"go.uber.org/fx"

	"github.com/voxmeter/voxmeter/internal/ingest/service"
)

var Module = fx.Module("ingest",
	fx.Provide(service.NewService),
)
