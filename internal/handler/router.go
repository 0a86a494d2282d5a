package handler

import (
	"ai-chat-go/internal/middleware"
	"ai-chat-go/internal/model"
	"ai-chat-go/internal/service"

	"github.com/gin-gonic/gin"
)

// NewRouter 创建路由引擎并注册全部路由。
func NewRouter(relayService service.RelayService, catalog model.Catalog) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/healthz", Health)

	chatHandler := NewChatHandler(relayService)
	api := r.Group("/api")
	{
		api.POST("/chat", chatHandler.Stream)
		api.GET("/chat/ws", chatHandler.Websocket)
		api.GET("/models", NewModelHandler(catalog).List)
	}
	return r
}
