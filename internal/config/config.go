package config

import "time"

// BotConfig конфигурация клиента (телеграм-бот с локальной очередью)
type BotConfig struct {
	TelegramConfig
	GatewayConfig
	StoreConfig
	SyncConfig
	LogConfig
	RedisConfig
	DBConfig
	GoogleSheetConfig
}

// RelayConfig конфигурация ретранслятора в таблицу
type RelayConfig struct {
	ServerConfig
	LogConfig
	GoogleSheetConfig
}

type TelegramConfig struct {
	BotToken       string `envconfig:"BOT_TOKEN" required:"true" masked:"true"`
	DefaultEventID string `envconfig:"DEFAULT_EVENT_ID" default:"default-event"`
}

type GatewayConfig struct {
	// http - через ретранслятор, direct - напрямую в таблицу
	Mode         string        `envconfig:"GATEWAY_MODE" default:"http"`
	URL          string        `envconfig:"GATEWAY_URL" default:"http://localhost:4000"`
	Timeout      time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s"`
	PingInterval time.Duration `envconfig:"PING_INTERVAL" default:"15s"`
	// узел генератора кодов в режиме direct
	NodeID int64 `envconfig:"NODE_ID" default:"1"`
}

type StoreConfig struct {
	// memory, redis или postgres
	Backend  string `envconfig:"STORE_BACKEND" default:"memory"`
	Prefix   string `envconfig:"STORE_PREFIX" default:"attendance"`
	Snapshot string `envconfig:"STORE_SNAPSHOT" default:"attendance_store.gob"`
}

type SyncConfig struct {
	// 0 отключает периодическую синхронизацию
	Interval time.Duration `envconfig:"SYNC_INTERVAL" default:"10m"`
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"`
}

type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD" masked:"true"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

type DBConfig struct {
	User   string `envconfig:"DBUSER" masked:"true"`
	Pass   string `envconfig:"DBPASS" masked:"true"`
	Host   string `envconfig:"DBHOST" default:"localhost"`
	DBName string `envconfig:"DBNAME" default:"attendance"`

	Port    string `envconfig:"DBPORT" default:"5432"`
	SSLMode string `envconfig:"DBSSLMODE" default:"disable"`
	// pgx или postgres (lib/pq)
	Driver string `envconfig:"DB_DRIVER" default:"pgx"`
}

type GoogleSheetConfig struct {
	SheetID           string        `envconfig:"SHEET_ID" masked:"true"`
	TabID             string        `envconfig:"SHEET_TAB_ID" default:"0"`
	CredentialsBase64 string        `envconfig:"CREDENTIALS_BASE64" masked:"true"`
	PauseMs           int           `envconfig:"SHEET_PAUSE_MS" default:"300"`
	Columns           string        `envconfig:"SHEET_COLUMNS"`
	CacheTTL          time.Duration `envconfig:"SHEET_CACHE_TTL" default:"5s"`
}

type ServerConfig struct {
	Port          string        `envconfig:"PORT" default:"4000"`
	AdminPassword string        `envconfig:"ADMIN_PASSWORD" masked:"true"`
	JWTSecret     string        `envconfig:"JWT_SECRET" masked:"true"`
	JWTTTL        time.Duration `envconfig:"JWT_TTL" default:"12h"`
	CORSOrigins   []string      `envconfig:"CORS_ORIGINS" default:"*"`
	NodeID        int64         `envconfig:"NODE_ID" default:"1"`
}
