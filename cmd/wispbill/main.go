package main

import (
	"hash/fnv"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/wispbill/wispbill/internal/billing"
	"github.com/wispbill/wispbill/internal/clock"
	"github.com/wispbill/wispbill/internal/config"
	"github.com/wispbill/wispbill/internal/device"
	"github.com/wispbill/wispbill/internal/gateway"
	"github.com/wispbill/wispbill/internal/logger"
	"github.com/wispbill/wispbill/internal/migration"
	"github.com/wispbill/wispbill/internal/notification"
	"github.com/wispbill/wispbill/internal/payment"
	"github.com/wispbill/wispbill/internal/provisioning"
	"github.com/wispbill/wispbill/internal/ratelimit"
	"github.com/wispbill/wispbill/internal/scheduler"
	"github.com/wispbill/wispbill/internal/server"
	"github.com/wispbill/wispbill/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		migration.Module,
		ratelimit.Module,
		device.Module,
		notification.Module,
		gateway.Module,
		provisioning.Module,
		billing.Module,
		payment.Module,
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

// RegisterSnowflake derives the node id from the hostname so replicas do not
// mint colliding ids.
func RegisterSnowflake() (*snowflake.Node, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "wispbill"
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(hostname))
	return snowflake.NewNode(int64(h.Sum32() % 1024))
}
