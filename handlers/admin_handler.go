package handlers

import (
	"net/http"

	"github.com/ShahidDS/game-time-tracker/services"

	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	authService *services.AuthService
	reconciler  *services.Reconciler
}

func NewAdminHandler(authService *services.AuthService, reconciler *services.Reconciler) *AdminHandler {
	return &AdminHandler{authService: authService, reconciler: reconciler}
}

func (h *AdminHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	resp, err := h.authService.Login(&req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Reconcile rebuilds the stored counters on demand.
func (h *AdminHandler) Reconcile(c *gin.Context) {
	result, err := h.reconciler.Reconcile(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
