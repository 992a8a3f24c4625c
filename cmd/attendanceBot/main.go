package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"attendance_bot/internal/config"
	"attendance_bot/internal/domain"
	"attendance_bot/internal/repository/memory"
	kv_ps "attendance_bot/internal/repository/postgres"
	kv_redis "attendance_bot/internal/repository/redis"
	"attendance_bot/internal/service/connectivity"
	"attendance_bot/internal/service/gateway"
	"attendance_bot/internal/service/identity"
	"attendance_bot/internal/service/localstore"
	"attendance_bot/internal/service/relay"
	"attendance_bot/internal/service/sheet"
	"attendance_bot/internal/service/sync_queue"
	"attendance_bot/internal/service/tg"
	"attendance_bot/internal/utils"
	pkg_config "attendance_bot/pkg/config"
	"attendance_bot/pkg/db/postgres"
	"attendance_bot/pkg/masker"
	"attendance_bot/pkg/tgbotapisfm"
	"attendance_bot/pkg/zaplogger"
)

func main() {
	logger, err := zaplogger.New("info", "json")
	if err != nil {
		panic(err)
	}

	cfg := config.BotConfig{}
	utils.HandleFatalError(pkg_config.Load(logger, ".env", &cfg), logger, "error loading configs")

	logger, err = zaplogger.New(cfg.LogConfig.Level, cfg.LogConfig.Format)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	utils.HandleFatalError(masker.LogConfigs(logger, &cfg), logger, "error logging configs")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, closeKV, err := newKV(ctx, cfg)
	utils.HandleFatalError(err, logger, "error creating local store")
	defer closeKV()
	store := localstore.New(kv, cfg.StoreConfig.Prefix, logger)

	gw, err := newGateway(ctx, cfg, logger)
	utils.HandleFatalError(err, logger, "error creating gateway")

	manager := sync_queue.NewManager(store, gw, logger).WithAttemptTimeout(cfg.GatewayConfig.Timeout)
	monitor := connectivity.NewMonitor(gw, cfg.GatewayConfig.PingInterval, cfg.GatewayConfig.Timeout, logger)
	worker := sync_queue.NewWorker(manager, monitor, cfg.SyncConfig.Interval, logger)
	resolver := identity.NewResolver(gw, store, manager, logger)

	// на сессию: поиск, постановка в очередь и отправка
	tgHandler := tg.NewTGHandler(resolver, store, worker, manager, cfg.TelegramConfig.DefaultEventID, 3*cfg.GatewayConfig.Timeout, logger).
		WithConnectivity(monitor)

	bot, err := tgbotapisfm.NewBot(tgbotapisfm.Config{
		Token:           cfg.TelegramConfig.BotToken,
		Expiration:      24 * time.Hour,
		CleanupInterval: 1 * time.Hour,
		States:          tgHandler.StatesMap(),
		InitialState:    tg.StateMenu,
	}, []int64{}, logger)
	utils.HandleFatalError(err, logger, "error creating bot")

	worker.Start()
	monitor.Start()

	errChan := bot.Start(0, 30)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errChan:
		if err != nil {
			logger.Error("bot stopped with error", zap.Error(err))
		}
	}

	bot.Stop()
	monitor.Stop()
	worker.Stop()
}

func newKV(ctx context.Context, cfg config.BotConfig) (domain.KV, func(), error) {
	switch cfg.StoreConfig.Backend {
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return kv_redis.NewKVRepository(client), func() { _ = client.Close() }, nil

	case "postgres":
		db, err := postgres.NewGormConnection(cfg.DBConfig)
		if err != nil {
			return nil, nil, err
		}
		repo := kv_ps.NewKVRepository(db)
		if err := repo.Migrate(); err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = sqlDB.Close() }, nil

	case "memory", "":
		repo, err := memory.NewKVRepository(cfg.StoreConfig.Snapshot)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreConfig.Backend)
}

func newGateway(ctx context.Context, cfg config.BotConfig, logger *zap.Logger) (domain.Gateway, error) {
	switch cfg.GatewayConfig.Mode {
	case "direct":
		records, err := sheet.NewFromConfig(ctx, cfg.GoogleSheetConfig, logger)
		if err != nil {
			return nil, err
		}
		node, err := snowflake.NewNode(cfg.GatewayConfig.NodeID)
		if err != nil {
			return nil, err
		}
		return relay.NewService(records, node, logger), nil

	case "http", "":
		return gateway.NewClient(cfg.GatewayConfig.URL, cfg.GatewayConfig.Timeout, nil), nil
	}
	return nil, fmt.Errorf("unknown gateway mode %q", cfg.GatewayConfig.Mode)
}
