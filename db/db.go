package db

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"VoteBoard/config"
	"VoteBoard/model"
)

// OpenMySQL connects to mysql with the pool settings from conf.
func OpenMySQL(conf config.DbConf) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		conf.User, conf.Password, conf.Host, conf.Port, conf.Dbname)

	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: NewLogger(time.Duration(conf.SlowQueryMs) * time.Millisecond),
	})
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("mysql pool: %w", err)
	}
	sqlDB.SetMaxIdleConns(conf.MaxIdleConn)
	sqlDB.SetMaxOpenConns(conf.MaxOpenConn)
	sqlDB.SetConnMaxLifetime(time.Duration(conf.MaxIdleTime) * time.Second)
	return gdb, nil
}

// NewLogger routes gorm's logging through logrus, reporting queries slower than slow.
func NewLogger(slow time.Duration) logger.Interface {
	return logger.New(
		log.StandardLogger(),
		logger.Config{
			SlowThreshold:             slow,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// Migrate creates or updates the feature board tables.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&model.FeatureRequest{}, &model.Vote{}, &model.Comment{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
