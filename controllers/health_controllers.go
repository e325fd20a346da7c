package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/qrtable/database"
	"github.com/yeremiapane/qrtable/kds"
	"gorm.io/gorm"
)

type HealthController struct {
	DB  *gorm.DB
	Hub *kds.Hub
}

func NewHealthController(db *gorm.DB, hub *kds.Hub) *HealthController {
	return &HealthController{DB: db, Hub: hub}
}

func (hc *HealthController) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// Health reports "degraded" with 503 when the database does not answer; streams keep working.
func (hc *HealthController) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{
		"status":      "ok",
		"database":    "up",
		"subscribers": hc.Hub.Registry().Count(),
	}
	if err := database.Ping(ctx, hc.DB); err != nil {
		body["status"] = "degraded"
		body["database"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
