package database

import (
	"fmt"

	"tradeledger/src/model"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ReadOnlyDB is an optional replica used by reporting endpoints. Anything
// that feeds an admission decision must read from MainDB instead, since a
// lagging replica could hide an in-flight fill.
var ReadOnlyDB *gorm.DB

// InitReadOnlyDB connects to the replica when DATABASE_URL_READONLY is set.
// Without it ReadOnlyDB falls back to MainDB.
func InitReadOnlyDB() error {
	config := GetConfig()
	if config.DatabaseURLReadOnly == "" {
		ReadOnlyDB = MainDB
		logrus.Info("[ReadOnlyDB] no replica configured, reusing MainDB")
		return nil
	}

	db, err := gorm.Open(postgres.Open(config.DatabaseURLReadOnly),
		&gorm.Config{
			PrepareStmt:    true,
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to connect to ReadOnlyDB: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB from ReadOnlyDB: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to ping ReadOnlyDB: %w", err)
	}

	var count int64
	if err := db.Model(&model.Fill{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to access fills on ReadOnlyDB: %w", err)
	}

	logrus.WithFields(map[string]interface{}{"fills": count}).Info("[ReadOnlyDB] replica reachable")

	ReadOnlyDB = db
	return nil
}

// Reporting returns the replica when initialised, MainDB otherwise.
func Reporting() *gorm.DB {
	if ReadOnlyDB != nil {
		return ReadOnlyDB
	}
	return MainDB
}
