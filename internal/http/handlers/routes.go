package handlers

import (
	"net/http"

	"ticketbackend/internal/domain/models"
	"ticketbackend/internal/http/middleware"
	"ticketbackend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type createRouteRequest struct {
	VendorID        int64            `json:"vendorId"`
	OperatorName    string           `json:"operatorName" binding:"required"`
	OperatorContact string           `json:"operatorContact"`
	TransportType   string           `json:"transportType" binding:"required"`
	Class           string           `json:"class"`
	FromLocation    string           `json:"fromLocation" binding:"required"`
	ToLocation      string           `json:"toLocation" binding:"required"`
	DepartureTimes  []string         `json:"departureTimes"`
	ArrivalTime     string           `json:"arrivalTime"`
	DurationMinutes int              `json:"durationMinutes"`
	Days            string           `json:"days"`
	BaseFare        *decimal.Decimal `json:"baseFare"`
	Price           *decimal.Decimal `json:"price"`
	Currency        string           `json:"currency"`
	TotalQuantity   int              `json:"totalQuantity" binding:"required"`
	IsAdvertised    bool             `json:"isAdvertised"`
}

// POST /api/vendor/routes
func (h *Handler) CreateRoute(c *gin.Context) {
	var req createRouteRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	route, err := h.App.Routes(middleware.GetRequestID(c)).CreateRoute(c.Request.Context(), middleware.CurrentUser(c), services.CreateRouteInput{
		VendorID:        req.VendorID,
		OperatorName:    req.OperatorName,
		OperatorContact: req.OperatorContact,
		TransportType:   req.TransportType,
		Class:           req.Class,
		FromLocation:    req.FromLocation,
		ToLocation:      req.ToLocation,
		DepartureTimes:  req.DepartureTimes,
		ArrivalTime:     req.ArrivalTime,
		DurationMinutes: req.DurationMinutes,
		Days:            req.Days,
		BaseFare:        req.BaseFare,
		Price:           req.Price,
		Currency:        req.Currency,
		TotalQuantity:   req.TotalQuantity,
		IsAdvertised:    req.IsAdvertised,
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, "route submitted for verification", route)
}

// GET /api/routes/:id
func (h *Handler) GetRoute(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	route, err := h.App.Routes(middleware.GetRequestID(c)).GetRoute(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "route", route)
}

type verifyRouteRequest struct {
	Status string `json:"status" binding:"required"`
}

// PUT /api/admin/routes/:id/verification
func (h *Handler) VerifyRoute(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req verifyRouteRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	route, err := h.App.Routes(middleware.GetRequestID(c)).VerifyRoute(c.Request.Context(), middleware.CurrentUser(c), id, models.VerificationStatus(req.Status))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "route verification updated", route)
}
