package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/gstflow/gstflow/internal/clock"
	"github.com/gstflow/gstflow/internal/config"
	"github.com/gstflow/gstflow/internal/migration"
	"github.com/gstflow/gstflow/internal/observability"
	"github.com/gstflow/gstflow/internal/observability/tracing"
	"github.com/gstflow/gstflow/internal/server"
	"github.com/gstflow/gstflow/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		tracing.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
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
