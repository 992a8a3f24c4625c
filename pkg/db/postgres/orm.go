package postgres

import (
	"fmt"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"attendance_bot/internal/config"
)

// DSN строка подключения из конфигурации
func DSN(cfg config.DBConfig) string {
	return fmt.Sprintf(
		"user=%s password=%s host=%s dbname=%s port=%s sslmode=%s",
		cfg.User, cfg.Pass, cfg.Host, cfg.DBName, cfg.Port, cfg.SSLMode,
	)
}

// NewGormConnection создает соединение GORM. При Driver=postgres используется
// драйвер database/sql из lib/pq, иначе pgx.
func NewGormConnection(cfg config.DBConfig) (*gorm.DB, error) {
	pgCfg := postgres.Config{DSN: DSN(cfg)}
	if cfg.Driver == "postgres" {
		pgCfg.DriverName = "postgres"
	}
	db, err := gorm.Open(postgres.New(pgCfg), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}
