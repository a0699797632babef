package handlers

import (
	"bytes"
	"io"
	"net/http"

	"ticketbackend/internal/http/middleware"
	"ticketbackend/internal/services"
	"ticketbackend/internal/utils"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 16

type checkoutRequest struct {
	BookingID  int64  `json:"bookingId" binding:"required"`
	SuccessURL string `json:"successUrl" binding:"required"`
	CancelURL  string `json:"cancelUrl" binding:"required"`
}

// POST /api/payments/create-checkout-session
func (h *Handler) CreateCheckoutSession(c *gin.Context) {
	var req checkoutRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	res, err := h.App.Payments(middleware.GetRequestID(c)).InitiateCheckout(c.Request.Context(), services.CheckoutInput{
		BookingID:  req.BookingID,
		Actor:      middleware.CurrentUser(c),
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "checkout session created", res)
}

type updateStatusRequest struct {
	BookingID int64  `json:"bookingId" binding:"required"`
	SessionID string `json:"sessionId"`
}

// POST /api/payments/update-payment-status
// Public: the outcome is always re-read from the gateway, never trusted
// from the request.
func (h *Handler) UpdatePaymentStatus(c *gin.Context) {
	var req updateStatusRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	res, err := h.App.Payments(middleware.GetRequestID(c)).ConfirmPayment(c.Request.Context(), req.BookingID, req.SessionID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	msg := "payment confirmed"
	if res.AlreadyPaid {
		msg = "booking already paid"
	}
	respondOK(c, http.StatusOK, msg, res)
}

type refundRequest struct {
	PaymentID int64  `json:"paymentId" binding:"required"`
	Reason    string `json:"reason"`
}

// POST /api/payments/refund
func (h *Handler) RequestRefund(c *gin.Context) {
	var req refundRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	res, err := h.App.Payments(middleware.GetRequestID(c)).RequestRefund(c.Request.Context(), req.PaymentID, middleware.CurrentUser(c), req.Reason)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "refund processed", res)
}

// POST /api/payments/webhook
func (h *Handler) PaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil || len(bytes.TrimSpace(payload)) == 0 {
		respondError(c, http.StatusBadRequest, "validation_error", "empty webhook body", nil)
		return
	}
	sig := c.GetHeader("Stripe-Signature")
	if sig == "" {
		sig = c.GetHeader("X-Webhook-Signature")
	}
	res, err := h.App.Payments(middleware.GetRequestID(c)).HandleWebhook(c.Request.Context(), payload, sig)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "received", res)
}

// GET /api/payments/history
func (h *Handler) PaymentHistory(c *gin.Context) {
	items, p, err := h.App.Payments(middleware.GetRequestID(c)).GetHistory(c.Request.Context(), middleware.CurrentUser(c), pagination(c))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "payments", listBody(items, p))
}

// GET /api/payments/status/:bookingId
func (h *Handler) PaymentStatus(c *gin.Context) {
	id, ok := paramID(c, "bookingId")
	if !ok {
		return
	}
	res, err := h.App.Payments(middleware.GetRequestID(c)).GetStatus(c.Request.Context(), id, middleware.CurrentUser(c))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "payment status", res)
}

// GET /api/payments/export
func (h *Handler) ExportPayments(c *gin.Context) {
	var buf bytes.Buffer
	actor := middleware.CurrentUser(c)
	if _, err := h.App.Payments(middleware.GetRequestID(c)).ExportCSV(c.Request.Context(), actor, &buf); err != nil {
		RespondDomainError(c, err)
		return
	}
	name := "payments_" + utils.FormatDate(utils.NowUTC()) + ".csv"
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
