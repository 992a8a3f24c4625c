package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

// LoadConfigs анмаршалит переменные окружения в структуры.
func LoadConfigs(config ...interface{}) error {
	for _, cfg := range config {
		if err := envconfig.Process("", cfg); err != nil {
			return err
		}
	}
	return nil
}

// Load читает необязательный .env файл и затем окружение.
// Если файла нет, используется только окружение.
func Load(logger *zap.Logger, envPath string, config ...interface{}) error {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			logger.Info("no .env file found, using environment variables", zap.String("path", envPath))
		}
	}
	return LoadConfigs(config...)
}
