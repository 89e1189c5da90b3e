package app

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"proxyfinder/internal/database"
)

// openDatabase connects the proxy store once per process. Later calls, and
// tests that installed their own connection, reuse database.DB.
func openDatabase(v *viper.Viper) (*gorm.DB, error) {
	opts := []database.Option{
		database.WithAutoMigrate(!v.GetBool("skip-migrate")),
	}
	if database.DB != nil {
		opts = append(opts, database.WithExistingDB(database.DB))
	}
	if v.GetBool("debug") {
		opts = append(opts, database.WithLogger(logger.New(log.Default(), logger.Config{LogLevel: logger.Info})))
	}
	return database.SetupDB(opts...)
}
