package api

import (
	"Murmur/internal/api/config"
	"Murmur/internal/api/middleware"
	"Murmur/internal/pkg/logger"
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetupRouter(group *HandlersGroup, cfg *config.Config) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"localhost"})

	// TraceId & Logger & CORS
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.AuditMiddleware())
	r.Use(middleware.CORSMiddleware(cfg.Server.AllowOrigins))
	logger.SetupGin(r, cfg.Logstash.Index)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"Code":    200,
				"Message": "pong",
				"Data":    nil,
			})
		})

		// 浏览器无法为 WS 握手设置请求头，Token 放在 query 中由 Handler 自行校验
		apiGroup.GET("/ws", group.WsHandler.Connect)

		authGroup := apiGroup.Group("")
		authGroup.Use(middleware.AuthMiddleware())
		{
			roomGroup := authGroup.Group("/rooms")
			{
				roomGroup.GET("", group.RoomHandler.GetRooms)
				roomGroup.POST("/:room_id/enter", group.RoomHandler.EnterRoom)
				roomGroup.POST("/:room_id/leave", group.RoomHandler.LeaveRoom)
				roomGroup.GET("/:room_id/messages", group.RoomHandler.GetMessages)
			}

			unreadGroup := authGroup.Group("/unread")
			{
				unreadGroup.GET("", group.UnreadHandler.GetUnread)
				unreadGroup.POST("/resync", group.UnreadHandler.Resync)
			}

			authGroup.POST("/session/logout", group.SessionHandler.Logout)
		}
	}

	return r
}
