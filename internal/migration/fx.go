package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/invoza/invoza/internal/config"
	"github.com/invoza/invoza/internal/seed"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// sqlite deployments are for local hacking; let gorm build
			// the schema from the models.
			if err := seed.AutoMigrate(conn); err != nil {
				return err
			}
		}

		return seed.EnsurePlans(conn)
	}),
)
