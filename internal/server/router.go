package server

import (
	"net/http"
	"time"

	"chatserver/internal/auth"
	"chatserver/internal/config"
	"chatserver/internal/metrics"
	"chatserver/internal/mw"
	"chatserver/internal/service"
	"chatserver/internal/store"
	"chatserver/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
// 服务在这里组装：store → 通知 fan-out → 会话服务 → handler。
func SetupRouter(cfg config.Config, st store.Store, hub *ws.Hub, typing ws.TypingSink) *gin.Engine {
	notifSvc := service.NewNotificationService(st, hub)
	convSvc := service.NewConversationService(st, hub, notifSvc)
	userSvc := service.NewUserService(st, cfg)
	h := NewHandler(userSvc, convSvc, notifSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	// 控制单个 IP+路由的速率，避免聊天接口被刷爆。
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, st))

	authed.POST("/rooms", h.CreateRoom)
	authed.GET("/rooms", h.ListRooms)
	authed.POST("/rooms/:id/join", h.JoinRoom)
	authed.GET("/rooms/:id/members", h.ListRoomMembers)
	authed.GET("/rooms/:id/pins", h.ListPins)

	authed.POST("/dms/:userID", h.CreateDM)
	authed.GET("/dms", h.ListDMs)

	authed.GET("/channels/:id/messages", h.ListMessages)
	authed.POST("/channels/:id/messages", h.PostMessage)
	authed.POST("/channels/:id/read", h.RecordRead)
	authed.GET("/channels/:id/unread", h.UnreadCount)

	authed.PATCH("/messages/:id", h.EditMessage)
	authed.DELETE("/messages/:id", h.DeleteMessage)
	authed.POST("/messages/:id/reactions", h.ToggleReaction)
	authed.POST("/messages/:id/pin", h.PinMessage)
	authed.DELETE("/pins/:id", h.UnpinMessage)

	authed.POST("/mutes", h.MuteUser)
	authed.DELETE("/mutes/:userID", h.UnmuteUser)

	authed.GET("/notifications", h.ListNotifications)
	authed.POST("/notifications/:id/read", h.MarkNotificationRead)

	r.GET("/ws", ws.Serve(hub, st, cfg, convSvc, typing))

	return r
}
