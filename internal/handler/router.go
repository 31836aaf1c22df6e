package handler

import (
	"github.com/gin-gonic/gin"
)

func SetupRouter(h *Handler, mode string) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		api.GET("/languages", h.ListLanguages)

		uploads := api.Group("/uploads")
		{
			uploads.POST("/slot", h.RequestUploadSlot)
			uploads.POST("/confirm", h.ConfirmUpload)
		}

		transactions := api.Group("/transactions")
		{
			transactions.POST("", h.CreateTransaction)
			transactions.POST("/pay", h.InitiatePayment)
			transactions.GET("/status", h.TransactionStatus)
		}

		api.POST("/payments/webhook", h.PaymentWebhook)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
