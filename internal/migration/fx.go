package migration

import (
	"github.com/smallbiznis/instructorledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Run),
)

func Run(conn *gorm.DB, log *zap.Logger) error {
	log = log.Named("migration")

	if !db.IsPostgres(conn) {
		log.Info("migration.auto_migrate", zap.String("dialect", conn.Dialector.Name()))
		return AutoMigrate(conn)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	log.Info("migration.apply", zap.String("dialect", "postgres"))
	return RunMigrations(sqlDB)
}
