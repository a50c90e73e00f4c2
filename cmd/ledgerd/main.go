package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/instructorledger/internal/clock"
	"github.com/smallbiznis/instructorledger/internal/config"
	"github.com/smallbiznis/instructorledger/internal/migration"
	"github.com/smallbiznis/instructorledger/internal/observability"
	"github.com/smallbiznis/instructorledger/internal/scheduler"
	"github.com/smallbiznis/instructorledger/internal/server"
	"github.com/smallbiznis/instructorledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP API and the domain modules behind it
		server.Module,

		// Background jobs
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node := cfg.SnowflakeNode
	if node <= 0 {
		node = 1
	}
	return snowflake.NewNode(node)
}
