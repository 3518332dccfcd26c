package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ugc-platform/internal/auth"
	"github.com/suPer8Hu/ugc-platform/internal/common"
)

const adminTokenTTL = 24 * time.Hour

type loginReq struct {
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 40001, "password is required")
		return
	}
	if !auth.CheckPassword(h.Cfg.AdminPasswordHash, req.Password) {
		common.Fail(c, http.StatusUnauthorized, 40102, "invalid password")
		return
	}
	token, err := auth.SignAdminJWT(h.Cfg.JWTSecret, adminTokenTTL)
	if err != nil {
		h.Log.Error("sign token", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to sign token")
		return
	}
	common.OK(c, http.StatusOK, gin.H{"token": token, "expires_in": int(adminTokenTTL.Seconds())})
}
