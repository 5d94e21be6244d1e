package migration

import (
	"github.com/wispbill/wispbill/internal/config"
	devicedomain "github.com/wispbill/wispbill/internal/device/domain"
	"github.com/wispbill/wispbill/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, cipher *devicedomain.Cipher) error {
		// The embedded migrations target postgres; other dialects manage
		// their schema externally.
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		}
		if cfg.Environment == "development" && cfg.DeviceSecret != "" {
			return seed.EnsureDemoData(conn, cipher)
		}
		return nil
	}),
)
