package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"tvcast/config"
	"tvcast/internal/database"
	"tvcast/internal/router"
	"tvcast/internal/service"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	var log *zap.Logger
	var err error
	if cfg.Server.Env == "production" {
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatal("redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		defer rdb.Close()
	}

	var push service.PushSender
	if fcm := service.NewFCMService(cfg.Firebase.ServiceAccountPath, log.Named("fcm")); fcm != nil {
		push = fcm
		log.Info("push notifications enabled")
	}

	app := router.Setup(ctx, cfg, db, rdb, push, log)

	var bridgeDone <-chan error
	if app.Bridge != nil {
		ready, done := app.Bridge.Run(ctx)
		select {
		case <-ready:
		case err := <-done:
			log.Fatal("realtime bridge", zap.Error(err))
		}
		bridgeDone = done
		go app.Presence.KeepAlive(ctx, app.Hub, cfg.Notification.PresenceTTL/2)
	}
	app.Scheduler.Start(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      app.Engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-bridgeDone:
		log.Error("realtime bridge stopped", zap.Error(err))
		stop()
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", zap.Error(err))
	}
	app.Scheduler.Wait()
	log.Info("server stopped")
}
