package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ugc-platform/internal/ai"
	"github.com/suPer8Hu/ugc-platform/internal/config"
	"github.com/suPer8Hu/ugc-platform/internal/generation"
	"github.com/suPer8Hu/ugc-platform/internal/logger"
)

// QuotaReporter exposes provider quota state for a provider chain.
type QuotaReporter interface {
	Providers() []string
	QuotaStatus(ctx context.Context) ([]ai.QuotaStatus, error)
}

type Handler struct {
	Cfg          config.Config
	Log          *logger.Logger
	Repo         *generation.Repo
	Orchestrator *generation.Orchestrator
	Executor     *generation.Executor
	Quota        map[string]QuotaReporter
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}
