package handler

import (
	"context"
	"time"

	"tvcast/config"
	"tvcast/internal/auth"
	"tvcast/internal/domain"
	"tvcast/internal/service"
	"tvcast/internal/ws"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const drainTimeout = 10 * time.Second

// UpgradeNotificationWS upgrades to WebSocket for notifications; query: token.
// Admins also receive delivery statistics. The user's offline backlog is replayed on connect.
func UpgradeNotificationWS(cfg *config.JWTConfig, hub *ws.Hub, queue *service.OfflineQueue, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			respondError(c, domain.E(domain.KindUnauthorized, "websocket auth", domain.ErrMissingToken))
			return
		}
		claims, err := auth.ParseAccessToken(cfg, token)
		if err != nil {
			respondError(c, domain.E(domain.KindUnauthorized, "websocket auth", domain.ErrBadToken))
			return
		}
		conn, err := ws.Upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debug("websocket upgrade failed", zap.Error(err))
			return
		}
		client := ws.NewClient(claims.UserID, claims.Role == domain.RoleAdmin)
		hub.Register(client)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), drainTimeout)
		n, err := queue.Drain(ctx, claims.UserID)
		cancel()
		if err != nil {
			log.Warn("offline drain failed", zap.Uint("user_id", claims.UserID), zap.Error(err))
		} else if n > 0 {
			log.Debug("offline backlog sent", zap.Uint("user_id", claims.UserID), zap.Int("count", n))
		}

		ws.Serve(conn, client)
	}
}
