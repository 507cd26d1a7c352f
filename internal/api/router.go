package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/systeminit/pluto/internal/api/handlers"
	"github.com/systeminit/pluto/internal/orchestrator"
	"github.com/systeminit/pluto/internal/progress"
	"github.com/systeminit/pluto/internal/store"
)

func NewRouter(orc *orchestrator.Orchestrator, st *store.Store, rec *progress.Recorder, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CORSMiddleware())

	h := handlers.New(orc, st, rec, logger)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.POST("/deployments", h.StartDeployment)
		api.GET("/deployments", h.ListDeployments)
		api.GET("/deployments/:id", h.GetDeployment)
		api.GET("/deployments/:id/progress", h.GetProgress)
		api.POST("/configs", h.PutConfig)
		api.GET("/configs", h.ListConfigs)
		api.GET("/configs/:id", h.GetConfig)
	}

	return r
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
