package main

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/printora/internal/clock"
	"github.com/smallbiznis/printora/internal/config"
	"github.com/smallbiznis/printora/internal/migration"
	"github.com/smallbiznis/printora/internal/observability"
	"github.com/smallbiznis/printora/internal/server"
	"github.com/smallbiznis/printora/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	nodeID := int64(1)
	if raw := os.Getenv("SNOWFLAKE_NODE_ID"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			nodeID = parsed
		}
	}

	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		panic(err)
	}
	return node
}
