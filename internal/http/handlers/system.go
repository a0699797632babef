package handlers

import (
	"context"
	"net/http"
	"time"

	"ticketbackend/internal/app"
	"ticketbackend/internal/repositories"

	"github.com/gin-gonic/gin"
)

// Handler holds the wired application; services are built per request.
type Handler struct {
	App *app.App
}

func New(a *app.App) *Handler { return &Handler{App: a} }

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "status": "ok", "message": "ticket backend running"})
}

func (h *Handler) DBCheck(c *gin.Context) {
	if h.App == nil || h.App.DB == nil {
		respondError(c, http.StatusServiceUnavailable, "db_unavailable", "database not connected", nil)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	count, err := repositories.UserRepository{DB: h.App.DB}.Count(ctx)
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, "db_unavailable", "database query failed", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "database ok", "users_in_db": count})
}
