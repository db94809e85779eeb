package migration

import (
	"fmt"

	"github.com/smallbiznis/testematch/internal/config"
	"github.com/smallbiznis/testematch/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		switch cfg.DBType {
		case db.TypePostgres:
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		case db.TypeSQLite:
			return ApplySchema(conn)
		default:
			return fmt.Errorf("schema management is not available for %s", cfg.DBType)
		}
	}),
)
