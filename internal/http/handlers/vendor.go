package handlers

import (
	"net/http"

	"ticketbackend/internal/domain/models"
	"ticketbackend/internal/http/middleware"

	"github.com/gin-gonic/gin"
)

type notesRequest struct {
	Notes string `json:"notes"`
}

// GET /api/vendor/bookings
func (h *Handler) ListVendorBookings(c *gin.Context) {
	items, p, err := h.App.Bookings(middleware.GetRequestID(c)).ListVendorBookings(c.Request.Context(), middleware.CurrentUser(c), pagination(c))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "bookings", listBody(items, p))
}

func (h *Handler) decide(c *gin.Context, message string, act func(id int64, notes string) (models.Booking, error)) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req notesRequest
	if c.Request.ContentLength > 0 && !BindJSONOrError(c, &req) {
		return
	}
	b, err := act(id, req.Notes)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondOK(c, http.StatusOK, message, b)
}

// PUT /api/vendor/bookings/:id/accept
func (h *Handler) AcceptBooking(c *gin.Context) {
	svc := h.App.Bookings(middleware.GetRequestID(c))
	h.decide(c, "booking accepted", func(id int64, notes string) (models.Booking, error) {
		return svc.AcceptBooking(c.Request.Context(), id, middleware.CurrentUser(c), notes)
	})
}

// PUT /api/vendor/bookings/:id/reject
func (h *Handler) RejectBooking(c *gin.Context) {
	svc := h.App.Bookings(middleware.GetRequestID(c))
	h.decide(c, "booking rejected", func(id int64, notes string) (models.Booking, error) {
		return svc.RejectBooking(c.Request.Context(), id, middleware.CurrentUser(c), notes)
	})
}

// PUT /api/vendor/bookings/:id/complete
func (h *Handler) CompleteBooking(c *gin.Context) {
	svc := h.App.Bookings(middleware.GetRequestID(c))
	h.decide(c, "booking completed", func(id int64, _ string) (models.Booking, error) {
		return svc.CompleteBooking(c.Request.Context(), id, middleware.CurrentUser(c))
	})
}
