package handlers

import (
	"net/http"

	"ticketbackend/internal/http/middleware"
	"ticketbackend/internal/services"

	"github.com/gin-gonic/gin"
)

type createBookingRequest struct {
	RouteID     int64    `json:"routeId" binding:"required"`
	Quantity    int      `json:"quantity" binding:"required"`
	BookingDate string   `json:"bookingDate"`
	Passengers  []string `json:"passengers"`
}

// POST /api/bookings
func (h *Handler) CreateBooking(c *gin.Context) {
	var req createBookingRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	actor := middleware.CurrentUser(c)
	b, err := h.App.Bookings(middleware.GetRequestID(c)).CreateBooking(c.Request.Context(), services.CreateBookingInput{
		RouteID:     req.RouteID,
		UserID:      actor.UserID,
		Quantity:    req.Quantity,
		BookingDate: req.BookingDate,
		Passengers:  req.Passengers,
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, "booking request sent to vendor", b)
}

// GET /api/bookings/:id
func (h *Handler) GetBooking(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	b, err := h.App.Bookings(middleware.GetRequestID(c)).GetBooking(c.Request.Context(), id, middleware.CurrentUser(c))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "booking", b)
}

// GET /api/bookings
func (h *Handler) ListMyBookings(c *gin.Context) {
	items, p, err := h.App.Bookings(middleware.GetRequestID(c)).ListUserBookings(c.Request.Context(), middleware.CurrentUser(c), pagination(c))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "bookings", listBody(items, p))
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// POST /api/bookings/:id/cancel
func (h *Handler) CancelBooking(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if c.Request.ContentLength > 0 && !BindJSONOrError(c, &req) {
		return
	}
	b, err := h.App.Bookings(middleware.GetRequestID(c)).CancelOrRefund(c.Request.Context(), id, middleware.CurrentUser(c), req.Reason)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "booking cancelled", b)
}

// GET /api/bookings/:id/e-ticket
func (h *Handler) GetETicket(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	pdf, filename, err := h.App.Docs(middleware.GetRequestID(c)).GenerateETicket(c.Request.Context(), id, middleware.CurrentUser(c))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.Header("Content-Disposition", `inline; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// GET /api/bookings/:id/receipt
func (h *Handler) GetReceipt(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	pdf, filename, err := h.App.Docs(middleware.GetRequestID(c)).GenerateReceipt(c.Request.Context(), id, middleware.CurrentUser(c))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.Header("Content-Disposition", `inline; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}
