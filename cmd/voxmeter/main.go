package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/voxmeter/voxmeter/internal/cache"
	"github.com/voxmeter/voxmeter/internal/clock"
	"github.com/voxmeter/voxmeter/internal/config"
	"github.com/voxmeter/voxmeter/internal/migration"
	"github.com/voxmeter/voxmeter/internal/observability"
	"github.com/voxmeter/voxmeter/internal/server"
	"github.com/voxmeter/voxmeter/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
