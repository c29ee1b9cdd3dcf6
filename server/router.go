package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"social-publisher/infrastructure/realtime"
	httpHandler "social-publisher/interfaces/http"
	"social-publisher/interfaces/middleware"
)

func InitiateRouter(
	postHandler httpHandler.ISocialPostHandler,
	accountHandler httpHandler.ISocialAccountHandler,
	hub *realtime.Hub,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:4200", "http://localhost:4201", "https://localhost:4200", "https://localhost:4201"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("api")
	api.Use(middleware.Auth())

	social := api.Group("/social")
	{
		social.POST("/posts", postHandler.SchedulePost)
		social.GET("/posts", postHandler.ListPosts)
		social.GET("/posts/:id", postHandler.GetPost)
		social.GET("/posts/:id/logs", postHandler.GetPostLogs)
		social.DELETE("/posts/:id", postHandler.CancelPost)

		social.GET("/accounts", accountHandler.ListAccounts)
		social.GET("/accounts/connect/:platform", accountHandler.StartConnect)
		social.POST("/accounts/connect", accountHandler.ConnectAccount)
		social.DELETE("/accounts/:id", accountHandler.DisconnectAccount)

		// Server-sent events stream of post status transitions.
		social.GET("/stream", hub.Serve)
	}

	return router
}
