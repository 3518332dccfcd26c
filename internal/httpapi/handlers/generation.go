package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ugc-platform/internal/ai"
	"github.com/suPer8Hu/ugc-platform/internal/common"
	"github.com/suPer8Hu/ugc-platform/internal/generation"
)

// failFromErr maps domain errors onto HTTP categories.
func (h *Handler) failFromErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, generation.ErrValidation), errors.Is(err, generation.ErrUnknownJobType):
		common.Fail(c, http.StatusBadRequest, 40002, err.Error())
	case errors.Is(err, generation.ErrJobNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "job not found")
	case errors.Is(err, generation.ErrUnitNotFound):
		common.Fail(c, http.StatusNotFound, 40402, err.Error())
	case ai.IsRateLimited(err):
		common.Fail(c, http.StatusTooManyRequests, 42900, err.Error())
	default:
		h.Log.Error("request failed", "path", c.FullPath(), "error", err)
		common.Fail(c, http.StatusInternalServerError, 50002, err.Error())
	}
}

type startReq struct {
	JobType string          `json:"job_type" binding:"required"`
	Params  json.RawMessage `json:"params"`
}

func (h *Handler) StartGeneration(c *gin.Context) {
	var req startReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 40001, "invalid request body")
		return
	}

	job, err := h.Orchestrator.StartJob(c.Request.Context(), req.JobType, req.Params)
	if err != nil {
		h.failFromErr(c, err)
		return
	}

	common.OK(c, http.StatusOK, gin.H{
		"job_id":      job.ID,
		"job_type":    job.JobType,
		"status":      job.Status,
		"total_count": job.TotalCount,
		"units":       job.Units,
	})
}

type executeUnitReq struct {
	JobID     string `json:"job_id" binding:"required"`
	UnitIndex *int   `json:"unit_index" binding:"required"`
}

func (h *Handler) ExecuteUnit(c *gin.Context) {
	var req executeUnitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 40001, "job_id and unit_index are required")
		return
	}

	res, err := h.Executor.ExecuteUnit(c.Request.Context(), req.JobID, *req.UnitIndex)
	if err != nil {
		h.failFromErr(c, err)
		return
	}

	if res.QuotaExhausted() {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":  res.Failure.Error(),
			"code":   42901,
			"result": res,
		})
		return
	}
	common.OK(c, http.StatusOK, res)
}

func (h *Handler) GetGenerationStatus(c *gin.Context) {
	jobID := c.Query("job_id")
	if jobID == "" {
		jobID = c.Param("job_id")
	}
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 40003, "job_id is required")
		return
	}

	job, err := h.Repo.Get(c.Request.Context(), jobID)
	if err != nil {
		h.failFromErr(c, err)
		return
	}
	common.OK(c, http.StatusOK, job)
}

func (h *Handler) GetQuotaStatus(c *gin.Context) {
	kinds := make([]string, 0, len(h.Quota))
	for k := range h.Quota {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	out := gin.H{}
	for _, kind := range kinds {
		st, err := h.Quota[kind].QuotaStatus(c.Request.Context())
		if err != nil {
			h.failFromErr(c, err)
			return
		}
		out[kind] = st
	}
	common.OK(c, http.StatusOK, out)
}
