package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ticketbackend/internal/authz"
	intdb "ticketbackend/internal/db"
	"ticketbackend/internal/domain"
	"ticketbackend/internal/domain/models"
	"ticketbackend/internal/events"
	"ticketbackend/internal/repositories"
	"ticketbackend/internal/utils"

	"github.com/shopspring/decimal"
)

const (
	maxBookingQuantity   = 50
	referenceInsertTries = 3
)

// Refunder is implemented by PaymentService; a paid booking is cancelled by
// refunding its payment.
type Refunder interface {
	RequestRefund(ctx context.Context, paymentID int64, actor domain.RequestContext, reason string) (RefundResult, error)
}

// BookingService drives the vendor-decision side of the booking lifecycle.
type BookingService struct {
	DB              *sql.DB
	Authz           *authz.Authorizer
	Ledger          InventoryLedger
	Notifier        events.Notifier
	Refunder        Refunder
	Refs            utils.RefGenerator
	PlaceholderFare decimal.Decimal
	DefaultCurrency string
	Location        *time.Location
	Now             func() time.Time
	RequestID       string
}

type CreateBookingInput struct {
	RouteID     int64
	UserID      int64
	Quantity    int
	BookingDate string
	Passengers  []string
}

func (s BookingService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return utils.NowUTC()
}

func (s BookingService) refs() utils.RefGenerator {
	if s.Refs != nil {
		return s.Refs
	}
	return utils.UUIDRefs{}
}

func (s BookingService) bookings() repositories.BookingRepository {
	return repositories.BookingRepository{DB: s.DB}
}

func (s BookingService) routes() repositories.RouteRepository {
	return repositories.RouteRepository{DB: s.DB}
}

// CreateBooking records a pending request against a route. Inventory is not
// touched until the vendor accepts.
func (s BookingService) CreateBooking(ctx context.Context, in CreateBookingInput) (models.Booking, error) {
	if in.RouteID <= 0 {
		return models.Booking{}, domain.ValidationError{Field: "routeId", Msg: "is required"}
	}
	if in.UserID <= 0 {
		return models.Booking{}, domain.ValidationError{Field: "userId", Msg: "is required"}
	}
	if in.Quantity < 1 || in.Quantity > maxBookingQuantity {
		return models.Booking{}, domain.ValidationError{
			Field: "quantity", Msg: fmt.Sprintf("must be between 1 and %d", maxBookingQuantity),
		}
	}
	if len(in.Passengers) > in.Quantity {
		return models.Booking{}, domain.ValidationError{Field: "passengers", Msg: "more passengers than quantity"}
	}

	route, err := s.routes().GetByID(ctx, in.RouteID)
	if err != nil {
		return models.Booking{}, err
	}
	if !route.Approved() {
		return models.Booking{}, domain.ValidationError{
			Field: "routeId", Code: domain.CodeRouteNotBookable, Msg: "route is not open for booking",
		}
	}
	if route.AvailableQuantity <= 0 || in.Quantity > route.AvailableQuantity {
		return models.Booking{}, domain.ConflictError{
			Resource: "route",
			Code:     domain.CodeInsufficientInventory,
			Msg:      fmt.Sprintf("only %d tickets available", route.AvailableQuantity),
		}
	}

	now := s.now()
	departure, err := utils.ResolveDeparture(in.BookingDate, route.FirstDepartureTime(), now, s.Location)
	if err != nil {
		return models.Booking{}, domain.ValidationError{
			Field: "bookingDate", Code: domain.CodeInvalidDeparture, Msg: err.Error(), Err: err,
		}
	}

	vendorID, err := s.routes().ResolveVendor(ctx, route.Vendor)
	if err != nil {
		return models.Booking{}, err
	}

	fare, priced := route.Fare(s.PlaceholderFare)
	if !priced {
		utils.Log(s.RequestID, "booking").WithField("route_id", route.ID).
			Warn("route has no fare, using placeholder")
	}
	currency := strings.ToUpper(strings.TrimSpace(route.Currency))
	if currency == "" {
		currency = s.DefaultCurrency
	}

	var booking models.Booking
	for attempt := 1; attempt <= referenceInsertTries; attempt++ {
		booking = models.Booking{
			BookingReference: s.refs().BookingReference(now),
			RouteID:          route.ID,
			UserID:           in.UserID,
			VendorID:         vendorID,
			Quantity:         in.Quantity,
			DepartureDate:    departure,
			BaseFare:         fare,
			TotalAmount:      fare.Mul(decimal.NewFromInt(int64(in.Quantity))),
			Currency:         currency,
			BookingStatus:    models.BookingPending,
			PaymentStatus:    models.BookingPaymentPending,
			Status:           models.LifecyclePending,
			Passengers:       s.passengers(route.ID, in),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		err = intdb.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
			return repositories.BookingRepository{DB: tx}.Insert(ctx, &booking)
		})
		if err == nil || !intdb.IsDuplicateKey(err) {
			break
		}
		utils.LogEvent(s.RequestID, "booking", "create", fmt.Sprintf("reference collision, attempt=%d", attempt))
	}
	if err != nil {
		return models.Booking{}, domain.InternalError{Msg: "could not create booking", Err: err}
	}

	utils.LogEvent(s.RequestID, "booking", "create",
		fmt.Sprintf("booking_id=%d ref=%s route_id=%d qty=%d", booking.ID, booking.BookingReference, route.ID, in.Quantity))
	s.publish(ctx, events.Event{
		Kind:             events.BookingCreated,
		Topic:            events.VendorTopic(vendorID),
		BookingID:        booking.ID,
		BookingReference: booking.BookingReference,
		Fields:           map[string]any{"bookingStatus": booking.BookingStatus, "quantity": booking.Quantity},
	})
	return booking, nil
}

func (s BookingService) passengers(routeID int64, in CreateBookingInput) []models.Passenger {
	out := make([]models.Passenger, 0, in.Quantity)
	for i := 1; i <= in.Quantity; i++ {
		name := ""
		if i <= len(in.Passengers) {
			name = utils.NormalizeSpace(in.Passengers[i-1])
		}
		if name == "" {
			name = fmt.Sprintf("Passenger %d", i)
		}
		out = append(out, models.Passenger{
			Index:        i,
			Name:         utils.Truncate(name, 160),
			TicketNumber: s.refs().TicketNumber(routeID, i),
		})
	}
	return out
}

func alreadyProcessed() error {
	return domain.ConflictError{Resource: "booking", Code: domain.CodeAlreadyProcessed, Msg: "booking already processed"}
}

// decidable loads a booking and checks the caller may decide on it.
func (s BookingService) decidable(ctx context.Context, bookingID int64, actor domain.RequestContext) (models.Booking, error) {
	b, err := s.bookings().GetByID(ctx, bookingID)
	if err != nil {
		return models.Booking{}, err
	}
	if err := s.Authz.Require(ctx, authz.BookingDecide, actor, authz.Resource{UserID: b.UserID, VendorID: b.VendorID}); err != nil {
		return models.Booking{}, err
	}
	if b.BookingStatus != models.BookingPending {
		return models.Booking{}, alreadyProcessed()
	}
	return b, nil
}

// AcceptBooking flips the booking to accepted and reserves its seats in one
// transaction; if the reservation fails nothing is committed.
func (s BookingService) AcceptBooking(ctx context.Context, bookingID int64, actor domain.RequestContext, notes string) (models.Booking, error) {
	b, err := s.decidable(ctx, bookingID, actor)
	if err != nil {
		return models.Booking{}, err
	}

	now := s.now()
	var balance int
	err = intdb.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		moved, err := repositories.BookingRepository{DB: tx}.Transition(ctx, repositories.TransitionInput{
			ID:          b.ID,
			FromBooking: []models.BookingStatus{models.BookingPending},
			FromPayment: []models.BookingPaymentStatus{models.BookingPaymentPending},
			ToBooking:   models.BookingAccepted,
			ToPayment:   models.BookingPaymentPending,
			Notes:       &notes,
			RespondedAt: &now,
			Now:         now,
		})
		if err != nil {
			return err
		}
		if !moved {
			return alreadyProcessed()
		}
		balance, err = s.Ledger.Reserve(ctx, tx, b.RouteID, b.Quantity)
		return err
	})
	if err != nil {
		return models.Booking{}, err
	}

	utils.LogEvent(s.RequestID, "booking", "accept",
		fmt.Sprintf("booking_id=%d route_id=%d qty=%d balance=%d", b.ID, b.RouteID, b.Quantity, balance))
	updated, err := s.bookings().GetByID(ctx, b.ID)
	if err != nil {
		return models.Booking{}, err
	}
	s.publish(ctx, events.Event{
		Kind:             events.BookingAccepted,
		Topic:            events.UserTopic(b.UserID),
		BookingID:        b.ID,
		BookingReference: b.BookingReference,
		Fields:           map[string]any{"bookingStatus": updated.BookingStatus, "vendorNotes": notes},
	})
	return updated, nil
}

// RejectBooking declines a pending booking. Nothing was reserved, so
// inventory is untouched.
func (s BookingService) RejectBooking(ctx context.Context, bookingID int64, actor domain.RequestContext, notes string) (models.Booking, error) {
	b, err := s.decidable(ctx, bookingID, actor)
	if err != nil {
		return models.Booking{}, err
	}

	now := s.now()
	moved, err := s.bookings().Transition(ctx, repositories.TransitionInput{
		ID:          b.ID,
		FromBooking: []models.BookingStatus{models.BookingPending},
		FromPayment: []models.BookingPaymentStatus{models.BookingPaymentPending},
		ToBooking:   models.BookingRejected,
		ToPayment:   models.BookingPaymentCancelled,
		Notes:       &notes,
		RespondedAt: &now,
		Now:         now,
	})
	if err != nil {
		return models.Booking{}, err
	}
	if !moved {
		return models.Booking{}, alreadyProcessed()
	}

	utils.LogEvent(s.RequestID, "booking", "reject", fmt.Sprintf("booking_id=%d", b.ID))
	updated, err := s.bookings().GetByID(ctx, b.ID)
	if err != nil {
		return models.Booking{}, err
	}
	s.publish(ctx, events.Event{
		Kind:             events.BookingRejected,
		Topic:            events.UserTopic(b.UserID),
		BookingID:        b.ID,
		BookingReference: b.BookingReference,
		Fields:           map[string]any{"bookingStatus": updated.BookingStatus, "vendorNotes": notes},
	})
	return updated, nil
}

// CancelOrRefund cancels a booking from whatever live state it is in. A
// paid booking is refunded through the payment service.
func (s BookingService) CancelOrRefund(ctx context.Context, bookingID int64, actor domain.RequestContext, reason string) (models.Booking, error) {
	b, err := s.bookings().GetByID(ctx, bookingID)
	if err != nil {
		return models.Booking{}, err
	}
	if err := s.Authz.Require(ctx, authz.BookingCancel, actor, authz.Resource{UserID: b.UserID, VendorID: b.VendorID}); err != nil {
		return models.Booking{}, err
	}
	reason = utils.Truncate(utils.NormalizeSpace(reason), 255)
	now := s.now()

	switch {
	case b.BookingStatus == models.BookingPending:
		moved, err := s.bookings().Transition(ctx, repositories.TransitionInput{
			ID:           b.ID,
			FromBooking:  []models.BookingStatus{models.BookingPending},
			FromPayment:  []models.BookingPaymentStatus{models.BookingPaymentPending},
			ToBooking:    models.BookingCancelled,
			ToPayment:    models.BookingPaymentCancelled,
			CancelledAt:  &now,
			CancelReason: &reason,
			Now:          now,
		})
		if err != nil {
			return models.Booking{}, err
		}
		if !moved {
			return models.Booking{}, alreadyProcessed()
		}

	case b.BookingStatus == models.BookingAccepted && !b.Paid():
		err = intdb.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
			moved, err := repositories.BookingRepository{DB: tx}.Transition(ctx, repositories.TransitionInput{
				ID:           b.ID,
				FromBooking:  []models.BookingStatus{models.BookingAccepted},
				FromPayment:  []models.BookingPaymentStatus{models.BookingPaymentPending, models.BookingPaymentFailed},
				ToBooking:    models.BookingCancelled,
				ToPayment:    models.BookingPaymentCancelled,
				CancelledAt:  &now,
				CancelReason: &reason,
				Now:          now,
			})
			if err != nil {
				return err
			}
			if !moved {
				return alreadyProcessed()
			}
			if _, err := (repositories.PaymentRepository{DB: tx}).CancelPendingForBooking(ctx, b.ID, "booking cancelled", now); err != nil {
				return err
			}
			_, err = s.Ledger.Release(ctx, tx, b.RouteID, b.Quantity)
			return err
		})
		if err != nil {
			return models.Booking{}, err
		}

	case b.BookingStatus == models.BookingAccepted && b.Paid():
		if s.Refunder == nil {
			return models.Booking{}, domain.InternalError{Msg: "refunds are not configured"}
		}
		payment, err := repositories.PaymentRepository{DB: s.DB}.FindCompletedByBooking(ctx, b.ID)
		if err != nil {
			if domain.IsNotFound(err) {
				return models.Booking{}, domain.ConflictError{
					Resource: "booking", Code: domain.CodeNotRefundable, Msg: "no completed payment to refund",
				}
			}
			return models.Booking{}, err
		}
		if _, err := s.Refunder.RequestRefund(ctx, payment.ID, actor, reason); err != nil {
			return models.Booking{}, err
		}
		return s.bookings().GetByID(ctx, b.ID)

	default:
		return models.Booking{}, alreadyProcessed()
	}

	utils.LogEvent(s.RequestID, "booking", "cancel", fmt.Sprintf("booking_id=%d from=%s", b.ID, b.BookingStatus))
	updated, err := s.bookings().GetByID(ctx, b.ID)
	if err != nil {
		return models.Booking{}, err
	}
	s.publish(ctx, events.Event{
		Kind:             events.BookingCancelled,
		Topic:            events.BookingTopic(b.ID),
		BookingID:        b.ID,
		BookingReference: b.BookingReference,
		Fields:           map[string]any{"bookingStatus": updated.BookingStatus, "paymentStatus": updated.PaymentStatus},
	})
	return updated, nil
}

// CompleteBooking marks a paid trip as fulfilled.
func (s BookingService) CompleteBooking(ctx context.Context, bookingID int64, actor domain.RequestContext) (models.Booking, error) {
	b, err := s.bookings().GetByID(ctx, bookingID)
	if err != nil {
		return models.Booking{}, err
	}
	if err := s.Authz.Require(ctx, authz.BookingComplete, actor, authz.Resource{UserID: b.UserID, VendorID: b.VendorID}); err != nil {
		return models.Booking{}, err
	}
	if b.BookingStatus.Terminal() {
		return models.Booking{}, alreadyProcessed()
	}
	if b.BookingStatus != models.BookingAccepted || !b.Paid() {
		return models.Booking{}, domain.ConflictError{
			Resource: "booking", Code: domain.CodePaymentNotCompleted, Msg: "booking is not paid",
		}
	}

	now := s.now()
	moved, err := s.bookings().Transition(ctx, repositories.TransitionInput{
		ID:          b.ID,
		FromBooking: []models.BookingStatus{models.BookingAccepted},
		FromPayment: []models.BookingPaymentStatus{models.BookingPaymentPaid},
		ToBooking:   models.BookingCompleted,
		ToPayment:   models.BookingPaymentPaid,
		Now:         now,
	})
	if err != nil {
		return models.Booking{}, err
	}
	if !moved {
		return models.Booking{}, alreadyProcessed()
	}

	utils.LogEvent(s.RequestID, "booking", "complete", fmt.Sprintf("booking_id=%d", b.ID))
	updated, err := s.bookings().GetByID(ctx, b.ID)
	if err != nil {
		return models.Booking{}, err
	}
	s.publish(ctx, events.Event{
		Kind:             events.BookingCompleted,
		Topic:            events.UserTopic(b.UserID),
		BookingID:        b.ID,
		BookingReference: b.BookingReference,
		Fields:           map[string]any{"bookingStatus": updated.BookingStatus},
	})
	return updated, nil
}

// GetBooking returns the booking to its owner, its vendor or an admin.
func (s BookingService) GetBooking(ctx context.Context, bookingID int64, actor domain.RequestContext) (models.Booking, error) {
	b, err := s.bookings().GetByID(ctx, bookingID)
	if err != nil {
		return models.Booking{}, err
	}
	if err := s.Authz.Require(ctx, authz.BookingView, actor, authz.Resource{UserID: b.UserID, VendorID: b.VendorID}); err != nil {
		return models.Booking{}, err
	}
	return b, nil
}

func (s BookingService) ListUserBookings(ctx context.Context, actor domain.RequestContext, p domain.Pagination) ([]models.Booking, domain.Pagination, error) {
	items, total, err := s.bookings().ListByUser(ctx, actor.UserID, p)
	p.Total = total
	return items, p, err
}

func (s BookingService) ListVendorBookings(ctx context.Context, actor domain.RequestContext, p domain.Pagination) ([]models.Booking, domain.Pagination, error) {
	if !actor.IsVendor() {
		return nil, p, domain.AuthorizationError{Action: "list vendor bookings"}
	}
	items, total, err := s.bookings().ListByVendor(ctx, actor.UserID, p)
	p.Total = total
	return items, p, err
}

func (s BookingService) publish(ctx context.Context, ev events.Event) {
	publish(ctx, s.Notifier, s.RequestID, s.now(), ev)
}

// publish is best effort; the state change already committed.
func publish(ctx context.Context, n events.Notifier, requestID string, now time.Time, ev events.Event) {
	if n == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = now
	}
	if err := n.Publish(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		utils.Log(requestID, "events").WithError(err).WithField("kind", string(ev.Kind)).Warn("publish failed")
	}
}
