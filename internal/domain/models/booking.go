package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BookingStatus is the vendor decision on a booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingAccepted  BookingStatus = "accepted"
	BookingRejected  BookingStatus = "rejected"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

// BookingPaymentStatus is the payment outcome as seen from the booking.
type BookingPaymentStatus string

const (
	BookingPaymentPending   BookingPaymentStatus = "pending"
	BookingPaymentPaid      BookingPaymentStatus = "paid"
	BookingPaymentFailed    BookingPaymentStatus = "failed"
	BookingPaymentCancelled BookingPaymentStatus = "cancelled"
	BookingPaymentRefunded  BookingPaymentStatus = "refunded"
)

// LifecycleStatus is the summary persisted in bookings.status for queries.
type LifecycleStatus string

const (
	LifecyclePending   LifecycleStatus = "pending"
	LifecycleConfirmed LifecycleStatus = "confirmed"
	LifecycleCancelled LifecycleStatus = "cancelled"
	LifecycleCompleted LifecycleStatus = "completed"
	LifecycleRefunded  LifecycleStatus = "refunded"
)

var allowedBookingStates = map[BookingStatus][]BookingPaymentStatus{
	BookingPending:   {BookingPaymentPending},
	BookingAccepted:  {BookingPaymentPending, BookingPaymentFailed, BookingPaymentPaid},
	BookingRejected:  {BookingPaymentCancelled},
	BookingCompleted: {BookingPaymentPaid},
	BookingCancelled: {BookingPaymentCancelled, BookingPaymentRefunded},
}

// ValidateBookingState rejects combinations such as rejected+paid.
func ValidateBookingState(b BookingStatus, p BookingPaymentStatus) error {
	allowed, ok := allowedBookingStates[b]
	if !ok {
		return fmt.Errorf("unknown booking status %q", b)
	}
	for _, a := range allowed {
		if a == p {
			return nil
		}
	}
	return fmt.Errorf("booking status %q cannot carry payment status %q", b, p)
}

// DeriveLifecycle computes bookings.status from the pair. The pair must be
// valid per ValidateBookingState.
func DeriveLifecycle(b BookingStatus, p BookingPaymentStatus) LifecycleStatus {
	switch b {
	case BookingAccepted:
		if p == BookingPaymentPaid {
			return LifecycleConfirmed
		}
		return LifecyclePending
	case BookingRejected:
		return LifecycleCancelled
	case BookingCompleted:
		return LifecycleCompleted
	case BookingCancelled:
		if p == BookingPaymentRefunded {
			return LifecycleRefunded
		}
		return LifecycleCancelled
	default:
		return LifecyclePending
	}
}

// Terminal reports whether no further vendor or user transition applies.
func (s BookingStatus) Terminal() bool {
	return s == BookingRejected || s == BookingCancelled || s == BookingCompleted
}

type Passenger struct {
	Index        int    `json:"index"`
	Name         string `json:"name"`
	TicketNumber string `json:"ticketNumber"`
}

type Booking struct {
	ID               int64                `json:"id"`
	BookingReference string               `json:"bookingReference"`
	RouteID          int64                `json:"routeId"`
	UserID           int64                `json:"userId"`
	VendorID         int64                `json:"vendorId"`
	Quantity         int                  `json:"bookingQuantity"`
	DepartureDate    time.Time            `json:"departureDate"`
	BaseFare         decimal.Decimal      `json:"baseFare"`
	TotalAmount      decimal.Decimal      `json:"totalAmount"`
	Currency         string               `json:"currency"`
	BookingStatus    BookingStatus        `json:"bookingStatus"`
	PaymentStatus    BookingPaymentStatus `json:"paymentStatus"`
	Status           LifecycleStatus      `json:"status"`
	VendorNotes      string               `json:"vendorNotes,omitempty"`
	RespondedAt      *time.Time           `json:"respondedAt,omitempty"`
	PaidAt           *time.Time           `json:"paidAt,omitempty"`
	CancelledAt      *time.Time           `json:"cancelledAt,omitempty"`
	CancelReason     string               `json:"cancelReason,omitempty"`
	Passengers       []Passenger          `json:"passengers"`
	CreatedAt        time.Time            `json:"createdAt"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

// Paid is true once a completed payment was reconciled into the booking.
func (b Booking) Paid() bool { return b.PaymentStatus == BookingPaymentPaid }
