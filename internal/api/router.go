package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Ascinocco/device-management/internal/middleware"
)

// NewRouter builds the gin Engine for the command service: every
// /api/v1/devices route requires the internal-token + tenant/user
// identity established by Auth.
func NewRouter(h *Handlers, internalToken string) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.GinMetrics())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	devices := engine.Group("/api/v1/devices")
	devices.Use(Auth(internalToken))
	{
		devices.POST("", h.CreateDevice)
		devices.GET("", h.ListDevices)
		devices.GET("/projected", h.ListProjectedDevices)
		devices.GET("/:device_id", h.GetDevice)
		devices.POST("/:device_id/retire", h.RetireDevice)
		devices.POST("/:device_id/activate", h.ActivateDevice)
	}

	return engine
}
