package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ugc-platform/internal/common"
	"github.com/suPer8Hu/ugc-platform/internal/httpapi/handlers"
	"github.com/suPer8Hu/ugc-platform/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(h.Log))
	r.Use(cors.New(corsConfig(h.Cfg.CORSOrigins)))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)

	admin := r.Group("/api/admin")
	admin.POST("/login", h.Login)

	gen := admin.Group("/generation")
	gen.Use(middleware.AuthRequired(h.Cfg.JWTSecret))
	gen.POST("/start", h.StartGeneration)
	gen.POST("/execute-unit", h.ExecuteUnit)
	gen.GET("/status", h.GetGenerationStatus)
	gen.GET("/jobs/:job_id", h.GetGenerationStatus)
	gen.GET("/quota", h.GetQuotaStatus)
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
