package services

import (
	"sync"
	"testing"

	"ticketbackend/internal/domain"
	"ticketbackend/internal/domain/models"
	"ticketbackend/internal/events"

	"github.com/stretchr/testify/require"
)

func TestCreateBookingLeavesInventoryAlone(t *testing.T) {
	h := newHarness(t)

	b, err := h.bookings().CreateBooking(h.ctx, CreateBookingInput{
		RouteID:     h.routeID,
		UserID:      h.user.UserID,
		Quantity:    2,
		BookingDate: "2026-10-25",
		Passengers:  []string{"  Ana   Silva "},
	})
	require.NoError(t, err)
	require.Equal(t, models.BookingPending, b.BookingStatus)
	require.Equal(t, models.BookingPaymentPending, b.PaymentStatus)
	require.Equal(t, "BK2610-00000001", b.BookingReference)
	require.Equal(t, "50.00", b.TotalAmount.StringFixed(2))
	require.Equal(t, h.vendor.UserID, b.VendorID)
	require.Equal(t, harnessRouteQuantity, h.available())

	stored := h.booking(b.ID)
	require.Len(t, stored.Passengers, 2)
	require.Equal(t, "Ana Silva", stored.Passengers[0].Name)
	require.Equal(t, "Passenger 2", stored.Passengers[1].Name)
	require.Equal(t, 1, h.rec.Count(events.BookingCreated))
}

func TestCreateBookingValidation(t *testing.T) {
	h := newHarness(t)
	pendingRoute := h.seedRoute(models.VendorByID(h.vendor.UserID), 5, models.VerificationPending)

	cases := []struct {
		name string
		in   CreateBookingInput
		code string
	}{
		{
			name: "past departure",
			in:   CreateBookingInput{RouteID: h.routeID, UserID: h.user.UserID, Quantity: 1, BookingDate: "2026-10-18"},
			code: domain.CodeInvalidDeparture,
		},
		{
			name: "route not approved",
			in:   CreateBookingInput{RouteID: pendingRoute, UserID: h.user.UserID, Quantity: 1, BookingDate: "2026-10-25"},
			code: domain.CodeRouteNotBookable,
		},
		{
			name: "more than available",
			in:   CreateBookingInput{RouteID: h.routeID, UserID: h.user.UserID, Quantity: harnessRouteQuantity + 1, BookingDate: "2026-10-25"},
			code: domain.CodeInsufficientInventory,
		},
		{
			name: "zero quantity",
			in:   CreateBookingInput{RouteID: h.routeID, UserID: h.user.UserID, Quantity: 0, BookingDate: "2026-10-25"},
			code: domain.CodeValidation,
		},
		{
			name: "unknown route",
			in:   CreateBookingInput{RouteID: 4242, UserID: h.user.UserID, Quantity: 1, BookingDate: "2026-10-25"},
			code: domain.CodeNotFound,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.bookings().CreateBooking(h.ctx, tc.in)
			require.Error(t, err)
			require.Equal(t, tc.code, domain.CodeOf(err))
		})
	}
	require.Equal(t, harnessRouteQuantity, h.available())
}

func TestAcceptBookingReservesOnce(t *testing.T) {
	h := newHarness(t)
	b := h.createBooking(3)

	accepted, err := h.bookings().AcceptBooking(h.ctx, b.ID, h.vendor, "ok")
	require.NoError(t, err)
	require.Equal(t, models.BookingAccepted, accepted.BookingStatus)
	require.Equal(t, models.BookingPaymentPending, accepted.PaymentStatus)
	require.Equal(t, models.LifecyclePending, accepted.Status)
	require.Equal(t, "ok", accepted.VendorNotes)
	require.NotNil(t, accepted.RespondedAt)
	require.Equal(t, 7, h.available())

	_, err = h.bookings().AcceptBooking(h.ctx, b.ID, h.vendor, "again")
	require.True(t, domain.HasCode(err, domain.CodeAlreadyProcessed), "got %v", err)
	require.Equal(t, 7, h.available())
}

func TestRejectBookingKeepsInventory(t *testing.T) {
	h := newHarness(t)
	b := h.createBooking(2)

	rejected, err := h.bookings().RejectBooking(h.ctx, b.ID, h.vendor, "fully booked")
	require.NoError(t, err)
	require.Equal(t, models.BookingRejected, rejected.BookingStatus)
	require.Equal(t, models.BookingPaymentCancelled, rejected.PaymentStatus)
	require.Equal(t, harnessRouteQuantity, h.available())

	_, err = h.bookings().AcceptBooking(h.ctx, b.ID, h.vendor, "")
	require.True(t, domain.HasCode(err, domain.CodeAlreadyProcessed))
}

func TestDecisionRequiresOwningVendor(t *testing.T) {
	h := newHarness(t)
	b := h.createBooking(1)

	_, err := h.bookings().AcceptBooking(h.ctx, b.ID, h.otherVendor, "")
	require.True(t, domain.IsAuthorization(err), "got %v", err)
	_, err = h.bookings().AcceptBooking(h.ctx, b.ID, h.user, "")
	require.True(t, domain.IsAuthorization(err))
	_, err = h.bookings().RejectBooking(h.ctx, b.ID, h.admin, "")
	require.True(t, domain.IsAuthorization(err))

	require.Equal(t, models.BookingPending, h.booking(b.ID).BookingStatus)
}

func TestConcurrentAcceptsNeverOversell(t *testing.T) {
	h := newHarness(t)
	ids := make([]int64, 4)
	for i := range ids {
		ids[i] = h.createBooking(3).ID
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		errs []error
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := h.bookings().AcceptBooking(h.ctx, id, h.vendor, "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			errs = append(errs, err)
		}(id)
	}
	wg.Wait()

	require.Equal(t, 3, ok)
	require.Len(t, errs, 1)
	require.True(t, domain.HasCode(errs[0], domain.CodeInsufficientInventory), "got %v", errs[0])
	require.Equal(t, 1, h.available())

	pending := 0
	for _, id := range ids {
		if h.booking(id).BookingStatus == models.BookingPending {
			pending++
		}
	}
	require.Equal(t, 1, pending)
}

func TestCancelAcceptedUnpaidReleasesSeats(t *testing.T) {
	h := newHarness(t)
	b := h.accepted(4)
	co := h.checkout(b.ID)
	require.Equal(t, 6, h.available())

	cancelled, err := h.bookings().CancelOrRefund(h.ctx, b.ID, h.user, "change of plans")
	require.NoError(t, err)
	require.Equal(t, models.BookingCancelled, cancelled.BookingStatus)
	require.Equal(t, models.BookingPaymentCancelled, cancelled.PaymentStatus)
	require.Equal(t, "change of plans", cancelled.CancelReason)
	require.Equal(t, harnessRouteQuantity, h.available())
	require.Equal(t, models.PaymentCancelled, h.payment(co.PaymentID).Status)

	_, err = h.bookings().CancelOrRefund(h.ctx, b.ID, h.user, "")
	require.True(t, domain.HasCode(err, domain.CodeAlreadyProcessed))
	require.Equal(t, harnessRouteQuantity, h.available())
}

func TestCancelPendingBooking(t *testing.T) {
	h := newHarness(t)
	b := h.createBooking(2)

	_, err := h.bookings().CancelOrRefund(h.ctx, b.ID, h.otherUser, "")
	require.True(t, domain.IsAuthorization(err))

	cancelled, err := h.bookings().CancelOrRefund(h.ctx, b.ID, h.user, "")
	require.NoError(t, err)
	require.Equal(t, models.BookingCancelled, cancelled.BookingStatus)
	require.Equal(t, harnessRouteQuantity, h.available())
	require.Equal(t, 1, h.rec.Count(events.BookingCancelled))
}

func TestCompleteBookingRequiresPayment(t *testing.T) {
	h := newHarness(t)
	b := h.accepted(1)

	_, err := h.bookings().CompleteBooking(h.ctx, b.ID, h.vendor)
	require.True(t, domain.HasCode(err, domain.CodePaymentNotCompleted), "got %v", err)

	paid, _ := h.paid(1)
	done, err := h.bookings().CompleteBooking(h.ctx, paid.ID, h.vendor)
	require.NoError(t, err)
	require.Equal(t, models.BookingCompleted, done.BookingStatus)
	require.Equal(t, models.BookingPaymentPaid, done.PaymentStatus)
	require.Equal(t, models.LifecycleCompleted, done.Status)

	_, err = h.bookings().CompleteBooking(h.ctx, paid.ID, h.vendor)
	require.True(t, domain.HasCode(err, domain.CodeAlreadyProcessed))
}

func TestBookingVisibility(t *testing.T) {
	h := newHarness(t)
	b := h.createBooking(1)

	for _, actor := range []domain.RequestContext{h.user, h.vendor, h.admin} {
		_, err := h.bookings().GetBooking(h.ctx, b.ID, actor)
		require.NoError(t, err)
	}
	_, err := h.bookings().GetBooking(h.ctx, b.ID, h.otherUser)
	require.True(t, domain.IsAuthorization(err))
	_, err = h.bookings().GetBooking(h.ctx, b.ID, h.otherVendor)
	require.True(t, domain.IsAuthorization(err))

	items, page, err := h.bookings().ListVendorBookings(h.ctx, h.vendor, domain.NewPagination(1, 10))
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 1, page.Total)

	_, _, err = h.bookings().ListVendorBookings(h.ctx, h.user, domain.NewPagination(1, 10))
	require.True(t, domain.IsAuthorization(err))

	mine, _, err := h.bookings().ListUserBookings(h.ctx, h.otherUser, domain.NewPagination(1, 10))
	require.NoError(t, err)
	require.Empty(t, mine)
}
