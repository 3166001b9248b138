package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/phenoscope-backend/internal/handlers"
)

type RouterConfig struct {
	AssocHandler   *handlers.AssocHandler
	CohortsHandler *handlers.CohortsHandler
	HealthHandler  *handlers.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(otelgin.Middleware("phenoscope"))
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", cfg.HealthHandler.HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/phenotype/associate", cfg.AssocHandler.Associate)
		api.GET("/jobs/:id", cfg.AssocHandler.GetJobByID)
		api.POST("/jobs/:id/cancel", cfg.AssocHandler.CancelJob)
		api.GET("/cohorts", cfg.CohortsHandler.ListCohorts)
		api.GET("/cohorts/:id/fields", cfg.CohortsHandler.GetCohortFields)
	}

	return router
}
