package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/handlers"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/middleware"
)

func RegisterChatRoutes(r gin.IRouter) {
	chat := r.Group("/chat")
	chat.Use(middleware.AuthMiddleware())
	{
		chat.GET("/conversations", handlers.GetConversations)
		chat.POST("/conversations", handlers.OpenConversation)
		chat.GET("/conversations/:id/messages", handlers.GetMessages)
		chat.POST("/conversations/:id/messages", handlers.SendMessage)
		chat.POST("/conversations/:id/read", handlers.MarkConversationRead)
		chat.POST("/conversations/:id/clear", handlers.ClearConversation)
		chat.PUT("/messages/:id", handlers.EditMessage)
		chat.DELETE("/messages/:id", handlers.DeleteMessage) // ?scope=me|everyone
	}
}
