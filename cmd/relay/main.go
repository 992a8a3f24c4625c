package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendance_bot/internal/config"
	"attendance_bot/internal/service/api"
	"attendance_bot/internal/service/relay"
	"attendance_bot/internal/service/sheet"
	"attendance_bot/internal/utils"
	pkg_config "attendance_bot/pkg/config"
	"attendance_bot/pkg/masker"
	"attendance_bot/pkg/zaplogger"
)

func main() {
	logger, err := zaplogger.New("info", "json")
	if err != nil {
		panic(err)
	}

	cfg := config.RelayConfig{}
	utils.HandleFatalError(pkg_config.Load(logger, ".env", &cfg), logger, "error loading configs")

	logger, err = zaplogger.New(cfg.LogConfig.Level, cfg.LogConfig.Format)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	utils.HandleFatalError(masker.LogConfigs(logger, &cfg), logger, "error logging configs")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	records, err := sheet.NewFromConfig(ctx, cfg.GoogleSheetConfig, logger)
	utils.HandleFatalError(err, logger, "error creating sheet service")

	node, err := snowflake.NewNode(cfg.ServerConfig.NodeID)
	utils.HandleFatalError(err, logger, "error creating snowflake node")

	svc := relay.NewService(records, node, logger)

	if cfg.ServerConfig.AdminPassword == "" {
		logger.Warn("ADMIN_PASSWORD is not set, admin endpoints are open")
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(svc, api.Options{
		AdminPassword: cfg.ServerConfig.AdminPassword,
		JWTSecret:     cfg.ServerConfig.JWTSecret,
		JWTTTL:        cfg.ServerConfig.JWTTTL,
		CORSOrigins:   cfg.ServerConfig.CORSOrigins,
	}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerConfig.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("relay listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("error serving http", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
	}
}
