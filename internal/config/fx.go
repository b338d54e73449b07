package config

import "go.uber.org/fx"

// Module wires application and plan configuration.
var Module = fx.Module("config",
	fx.Provide(
		Load,
		NewPlanConfigHolder,
	),
)
