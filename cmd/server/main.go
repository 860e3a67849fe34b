package main

import (
	"log"
	"time"

	"wagateway/internal/api"
	"wagateway/internal/cache"
	"wagateway/internal/config"
	"wagateway/internal/database"
	"wagateway/internal/dispatcher"
	"wagateway/internal/middleware"
	"wagateway/internal/webhook"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.LoadConfig()
	db := database.InitGorm(cfg)

	r := gin.Default()

	// CORS Middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-API-Key, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	dedupCache := cache.New(cfg.DedupTTL)
	rateLimiter := cache.New(time.Minute)

	eventDispatcher := dispatcher.New(db, cfg.WebhookWorkers)
	defer eventDispatcher.Close()

	processor := webhook.NewProcessor(db, dedupCache, eventDispatcher)
	webhookHandler := webhook.NewHandler(cfg, db, processor)
	messageHandler := api.NewMessageHandler(db, cfg, eventDispatcher)
	contactHandler := api.NewContactHandler(db, eventDispatcher)
	clientWebhookHandler := api.NewWebhookHandler(db, eventDispatcher)

	// Provider webhook routes (verified by token, not API key)
	r.GET("/webhook", webhookHandler.VerifyWebhook)
	r.POST("/webhook", webhookHandler.HandleMessage)

	apiGroup := r.Group("/api")
	apiGroup.Use(middleware.APIKeyAuth(db, rateLimiter))
	{
		messages := apiGroup.Group("/messages")
		{
			messages.GET("", messageHandler.GetMessages)
			messages.POST("/send", middleware.RequireScope("send_messages"), messageHandler.SendMessage)
			messages.POST("/:id/read", messageHandler.MarkAsRead)
		}

		contacts := apiGroup.Group("/contacts")
		{
			contacts.GET("", contactHandler.GetContacts)
			contacts.POST("", middleware.RequireScope("write"), contactHandler.CreateContact)
			contacts.PUT("/:id", middleware.RequireScope("write"), contactHandler.UpdateContact)
			contacts.DELETE("/:id", middleware.RequireScope("write"), contactHandler.DeleteContact)
		}

		webhooks := apiGroup.Group("/webhooks")
		{
			webhooks.GET("", clientWebhookHandler.GetWebhooks)
			webhooks.POST("", middleware.RequireScope("write"), clientWebhookHandler.CreateWebhook)
			webhooks.GET("/:id", clientWebhookHandler.GetWebhook)
			webhooks.PUT("/:id", middleware.RequireScope("write"), clientWebhookHandler.UpdateWebhook)
			webhooks.DELETE("/:id", middleware.RequireScope("write"), clientWebhookHandler.DeleteWebhook)
			webhooks.POST("/:id/regenerate-secret", middleware.RequireScope("write"), clientWebhookHandler.RegenerateSecret)
			webhooks.GET("/:id/logs", clientWebhookHandler.GetLogs)
			webhooks.POST("/:id/test", clientWebhookHandler.TestWebhook)
		}
	}

	log.Printf("Server starting on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}
