package handler

import (
	"net/http"

	"github.com/evetabi/brokerbot/internal/api/middleware"
	"github.com/evetabi/brokerbot/internal/service"
	"github.com/gin-gonic/gin"
)

// AuthHandler handles the authority login and the caller's identity.
type AuthHandler struct {
	authSvc *service.AuthService
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(authSvc *service.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// Login godoc
// POST /api/auth/login
// Body: {"password":"..."}
func (h *AuthHandler) Login(c *gin.Context) {
	var req service.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	resp, err := h.authSvc.Login(req.Password)
	if err != nil {
		respondEngineError(c, err, "login failed")
		return
	}
	respondSuccess(c, http.StatusOK, resp)
}

// Me godoc
// GET /api/me [JWT]
func (h *AuthHandler) Me(c *gin.Context) {
	respondSuccess(c, http.StatusOK, gin.H{
		"address": middleware.GetAddress(c),
		"role":    middleware.GetRole(c),
	})
}
