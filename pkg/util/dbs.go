package util

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// zapWriter 将 gorm 日志转发到 zap
type zapWriter struct{ lg *zap.Logger }

func (w zapWriter) Printf(format string, args ...interface{}) {
	w.lg.Warn(fmt.Sprintf(format, args...))
}

func createDatabaseInstance(cfg *gorm.Config, driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "mysql":
		return gorm.Open(mysql.Open(dsn), cfg)
	case "pg":
		return gorm.Open(postgres.Open(dsn), cfg)
	}
	if dsn == "" {
		dsn = "file::memory:"
	}
	return gorm.Open(sqlite.Open(dsn), cfg)
}

// InitDatabase 打开数据库连接，慢查询与错误写入 zap
func InitDatabase(lg *zap.Logger, driver, dsn string) (*gorm.DB, error) {
	gl := logger.New(zapWriter{lg: lg.Named("gorm")}, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})

	db, err := createDatabaseInstance(&gorm.Config{Logger: gl}, driver, dsn)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == "mysql" || driver == "pg" {
		sqlDB.SetMaxOpenConns(32)
		sqlDB.SetMaxIdleConns(8)
		sqlDB.SetConnMaxLifetime(time.Hour)
	} else {
		// sqlite 单写者；内存库每个连接都是独立的库
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}
