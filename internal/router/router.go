package router

import (
	"context"
	"net/http"
	"time"

	"tvcast/config"
	"tvcast/internal/handler"
	"tvcast/internal/lock"
	"tvcast/internal/middleware"
	"tvcast/internal/repository"
	"tvcast/internal/service"
	"tvcast/internal/ws"
	"tvcast/pkg/retry"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App is the wired engine plus the background workers cmd/server starts.
type App struct {
	Engine    *gin.Engine
	Hub       *ws.Hub
	Scheduler *service.Scheduler
	// Bridge and Presence are nil when Redis is not configured.
	Bridge   *ws.RedisBridge
	Presence *ws.RedisPresence
}

// Setup wires repositories, transport and services. rdb may be nil for a single instance.
func Setup(ctx context.Context, cfg *config.Config, db *gorm.DB, rdb *redis.Client, push service.PushSender, log *zap.Logger) *App {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log.Named("http")))
	r.Use(middleware.RateLimit(middleware.NewInMemoryRateLimiter(ctx, 300, time.Minute), middleware.ByClientIP))

	nc := cfg.Notification

	// Repositories
	userRepo := repository.NewUserRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// Realtime transport: the local hub, bridged through Redis when several instances run.
	hub := ws.NewHub(log.Named("hub"))
	app := &App{Engine: r, Hub: hub}
	var transport service.Transport = hub
	var locker service.Locker
	if rdb != nil {
		app.Presence = ws.NewRedisPresence(rdb, nc.PresenceTTL, log.Named("presence"))
		hub.SetPresenceTracker(app.Presence)
		app.Bridge = ws.NewRedisBridge(hub, rdb, cfg.Redis.Channel, app.Presence, log.Named("bridge"))
		transport = app.Bridge
		locker = lock.NewRedisLocker(rdb)
	}

	// Services
	if push == nil {
		log.Info("push notifications disabled: set FIREBASE_SERVICE_ACCOUNT_PATH to enable")
	}
	pushGateway := service.NewPushGateway(push, service.PushGatewayConfig{
		BatchSize:   nc.PushBatchSize,
		Concurrency: nc.PushConcurrency,
		Timeout:     nc.PushTimeout,
		Policy: retry.Policy{
			MaxAttempts: nc.PushMaxAttempts,
			Backoff:     retry.Exponential(nc.PushBaseBackoff, nc.PushMaxBackoff),
		},
	}, log.Named("push"))
	queue := service.NewOfflineQueue(transport, notificationRepo, nc.OfflineQueueSize, nil, log.Named("offline"))
	resolver := service.NewTargetResolver(userRepo)
	fanout := service.NewDeliveryFanout(notificationRepo, userRepo, resolver, transport, queue, pushGateway, nil, log.Named("fanout"))
	notifSvc := service.NewNotificationService(notificationRepo, userRepo, resolver, fanout, nil, log.Named("notifications"))
	tracker := service.NewReadClickTracker(notificationRepo, nil, log.Named("tracker"))
	app.Scheduler = service.NewScheduler(notificationRepo, fanout, locker, nil, service.SchedulerConfig{
		Interval:     nc.SchedulerInterval,
		SweepTimeout: nc.SweepTimeout,
		ItemTimeout:  nc.ItemTimeout,
		BatchLimit:   nc.SweepBatchLimit,
		LeaseKey:     nc.LeaseKey,
	}, log.Named("scheduler"))

	// Handlers
	notificationHandler := handler.NewNotificationHandler(notifSvc, tracker)
	adminHandler := handler.NewAdminNotificationHandler(notifSvc)

	authMw := middleware.AuthRequired(&cfg.JWT)
	sendLimit := middleware.RateLimit(middleware.NewInMemoryRateLimiter(ctx, 30, time.Minute), middleware.ByUser)

	api := r.Group("/api/v1")
	{
		admin := api.Group("/admin")
		admin.Use(authMw, middleware.AdminRequired())
		{
			admin.POST("/notifications", sendLimit, adminHandler.Send)
			admin.POST("/notifications/status-bar", sendLimit, adminHandler.SendStatusBar)
			admin.GET("/notifications/:id/stats", adminHandler.Stats)
		}

		me := api.Group("/me")
		me.Use(authMw)
		{
			me.GET("/notifications", notificationHandler.List)
			me.GET("/notifications/unread-count", notificationHandler.UnreadCount)
			me.PUT("/notifications/read-all", notificationHandler.MarkAllRead)
			me.PUT("/notifications/:id/read", notificationHandler.MarkRead)
			me.PUT("/notifications/:id/click", notificationHandler.MarkClicked)
			me.POST("/device-token", notificationHandler.RegisterDeviceToken)
		}
	}

	r.GET("/ws/notifications", handler.UpgradeNotificationWS(&cfg.JWT, hub, queue, log.Named("ws")))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": hub.ClientCount(), "onlineUsers": hub.OnlineUsers()})
	})

	return app
}
