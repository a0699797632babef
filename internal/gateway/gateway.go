// Package gateway abstracts the hosted-checkout payment provider.
package gateway

import (
	"context"
	"errors"
	"strconv"
)

// Metadata keys attached to every checkout session.
const (
	MetaBookingID = "booking_id"
	MetaUserID    = "user_id"
	MetaPaymentID = "payment_id"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrSessionNotFound  = errors.New("checkout session not found")
)

// Gateway is the external capability the payment service depends on.
type Gateway interface {
	Name() string
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	RetrieveSession(ctx context.Context, sessionID string) (CheckoutSession, error)
	Refund(ctx context.Context, req RefundRequest) (Refund, error)
	ParseWebhook(payload []byte, signature string) (WebhookEvent, error)
}

type CheckoutRequest struct {
	BookingID        int64
	UserID           int64
	PaymentID        int64
	BookingReference string
	Description      string
	AmountMinor      int64
	Currency         string
	SuccessURL       string
	CancelURL        string
	IdempotencyKey   string
}

func (r CheckoutRequest) Metadata() map[string]string {
	return map[string]string{
		MetaBookingID: strconv.FormatInt(r.BookingID, 10),
		MetaUserID:    strconv.FormatInt(r.UserID, 10),
		MetaPaymentID: strconv.FormatInt(r.PaymentID, 10),
	}
}

const (
	SessionOpen     = "open"
	SessionComplete = "complete"
	SessionExpired  = "expired"
)

type CheckoutSession struct {
	ID          string
	URL         string
	Status      string
	Paid        bool
	IntentID    string
	AmountMinor int64
	Currency    string
	Metadata    map[string]string
}

// BookingID reads the booking id the session was created for.
func (s CheckoutSession) BookingID() (int64, bool) {
	raw, ok := s.Metadata[MetaBookingID]
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s CheckoutSession) Expired() bool { return s.Status == SessionExpired }

type RefundRequest struct {
	PaymentID      int64
	IntentID       string
	SessionID      string
	AmountMinor    int64
	Currency       string
	Reason         string
	IdempotencyKey string
}

type Refund struct {
	ID          string
	Status      string
	AmountMinor int64
}

type EventKind string

const (
	EventCheckoutCompleted EventKind = "checkout.completed"
	EventCheckoutExpired   EventKind = "checkout.expired"
	EventDisputeOpened     EventKind = "dispute.opened"
	EventDisputeClosed     EventKind = "dispute.closed"
	EventIgnored           EventKind = "ignored"
)

// WebhookEvent is a verified provider event reduced to what reconciliation needs.
type WebhookEvent struct {
	ID            string
	Kind          EventKind
	RawType       string
	SessionID     string
	BookingID     int64
	IntentID      string
	DisputeID     string
	DisputeStatus string
	DisputeReason string
}

// CheckoutKey is the idempotency key for the n-th checkout attempt of a payment.
func CheckoutKey(paymentID int64, attempt int) string {
	return "checkout-" + strconv.FormatInt(paymentID, 10) + "-" + strconv.Itoa(attempt)
}

// RefundKey is stable per payment so retries never refund twice.
func RefundKey(paymentID int64) string {
	return "refund-" + strconv.FormatInt(paymentID, 10)
}
