package migration

import (
	activitydomain "github.com/smallbiznis/printora/internal/activity/domain"
	"github.com/smallbiznis/printora/internal/config"
	inventorydomain "github.com/smallbiznis/printora/internal/inventory/domain"
	materialdomain "github.com/smallbiznis/printora/internal/material/domain"
	orderdomain "github.com/smallbiznis/printora/internal/order/domain"
	paymentdomain "github.com/smallbiznis/printora/internal/payment/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// The versioned SQL runs on postgres. Other dialects, used for
		// local development, get the schema from the models directly.
		if cfg.DBType != "postgres" {
			return conn.AutoMigrate(
				&materialdomain.Material{},
				&inventorydomain.Roll{},
				&inventorydomain.StockAggregate{},
				&inventorydomain.UsageRecord{},
				&orderdomain.Order{},
				&orderdomain.OrderDetail{},
				&paymentdomain.Payment{},
				&paymentdomain.Invoice{},
				&activitydomain.ActivityLog{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
