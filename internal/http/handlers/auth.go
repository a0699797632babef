package handlers

import (
	"net/http"

	"ticketbackend/internal/http/middleware"
	"ticketbackend/internal/services"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// POST /api/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	res, err := h.App.Auth(middleware.GetRequestID(c)).Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "login successful", res)
}

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Phone    string `json:"phone"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role"`
}

// POST /api/auth/register
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	user, err := h.App.Auth(middleware.GetRequestID(c)).Register(c.Request.Context(), services.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, "registration successful", user)
}
