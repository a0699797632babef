package services

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ticketbackend/internal/authz"
	"ticketbackend/internal/config"
	intdb "ticketbackend/internal/db"
	"ticketbackend/internal/domain"
	"ticketbackend/internal/domain/models"
	"ticketbackend/internal/events"
	"ticketbackend/internal/gateway"
	"ticketbackend/internal/repositories"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type seqRefs struct {
	bookings atomic.Int64
	tickets  atomic.Int64
}

func (r *seqRefs) BookingReference(now time.Time) string {
	return fmt.Sprintf("BK%s-%08X", now.UTC().Format("0601"), r.bookings.Add(1))
}

func (r *seqRefs) TicketNumber(routeID int64, idx int) string {
	return fmt.Sprintf("TK-%06d-%02d-%06X", routeID, idx, r.tickets.Add(1))
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	db    *sql.DB
	gw    *gateway.MockGateway
	rec   *events.Recorder
	az    *authz.Authorizer
	clock *testClock
	refs  *seqRefs

	user, otherUser, vendor, otherVendor, admin domain.RequestContext
	routeID                                     int64
}

const harnessRouteQuantity = 10

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	conn, err := config.Open(ctx, config.DatabaseConfig{
		Driver: intdb.DialectSQLite,
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, intdb.Migrate(ctx, conn, intdb.DialectSQLite))

	az, err := authz.New(ctx)
	require.NoError(t, err)

	h := &harness{
		t:     t,
		ctx:   ctx,
		db:    conn,
		gw:    gateway.NewMockGateway("whsec_test", "http://checkout.test"),
		rec:   &events.Recorder{},
		az:    az,
		clock: &testClock{now: time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)},
		refs:  &seqRefs{},
	}
	h.user = h.seedUser("Ana", "ana@example.com", domain.RoleUser)
	h.otherUser = h.seedUser("Rui", "rui@example.com", domain.RoleUser)
	h.vendor = h.seedUser("Coastline Express", "ops@coastline.example", domain.RoleVendor)
	h.otherVendor = h.seedUser("Northline", "ops@northline.example", domain.RoleVendor)
	h.admin = h.seedUser("Admin", "admin@example.com", domain.RoleAdmin)
	h.routeID = h.seedRoute(models.VendorByID(h.vendor.UserID), harnessRouteQuantity, models.VerificationApproved)
	return h
}

func (h *harness) seedUser(name, email, role string) domain.RequestContext {
	h.t.Helper()
	u := models.User{Name: name, Email: email, PasswordHash: "x", Role: role}
	require.NoError(h.t, repositories.UserRepository{DB: h.db}.Create(h.ctx, &u, h.clock.Now()))
	return domain.RequestContext{UserID: u.ID, Role: role}
}

func (h *harness) seedRoute(vendor models.VendorRef, qty int, status models.VerificationStatus) int64 {
	h.t.Helper()
	r := models.Route{
		Vendor:             vendor,
		OperatorName:       "Coastline Express",
		OperatorContact:    "ops@coastline.example",
		TransportType:      "bus",
		FromLocation:       "Lisbon",
		ToLocation:         "Porto",
		DepartureTimes:     []string{"09:00", "15:30"},
		BaseFare:           decimal.NewNullDecimal(decimal.RequireFromString("25.00")),
		Currency:           "USD",
		TotalQuantity:      qty,
		VerificationStatus: status,
	}
	require.NoError(h.t, repositories.RouteRepository{DB: h.db}.Create(h.ctx, &r, h.clock.Now()))
	return r.ID
}

func (h *harness) payments() PaymentService {
	svc, err := NewPaymentService(h.db, h.gw, config.Default().Payments, h.az, h.rec)
	require.NoError(h.t, err)
	svc.Ledger = InventoryLedger{Now: h.clock.Now}
	svc.Now = h.clock.Now
	svc.RequestID = "test"
	return svc
}

func (h *harness) bookings() BookingService {
	return BookingService{
		DB:              h.db,
		Authz:           h.az,
		Ledger:          InventoryLedger{Now: h.clock.Now},
		Notifier:        h.rec,
		Refunder:        h.payments(),
		Refs:            h.refs,
		PlaceholderFare: decimal.RequireFromString("100.00"),
		DefaultCurrency: "USD",
		Location:        time.UTC,
		Now:             h.clock.Now,
		RequestID:       "test",
	}
}

func (h *harness) available() int {
	h.t.Helper()
	qty, found, err := repositories.RouteRepository{DB: h.db}.AvailableQuantity(h.ctx, h.routeID)
	require.NoError(h.t, err)
	require.True(h.t, found)
	return qty
}

func (h *harness) booking(id int64) models.Booking {
	h.t.Helper()
	b, err := repositories.BookingRepository{DB: h.db}.GetByID(h.ctx, id)
	require.NoError(h.t, err)
	return b
}

func (h *harness) payment(id int64) models.Payment {
	h.t.Helper()
	p, err := repositories.PaymentRepository{DB: h.db}.GetByID(h.ctx, id)
	require.NoError(h.t, err)
	return p
}

func (h *harness) countPayments(bookingID int64, status models.PaymentStatus) int {
	h.t.Helper()
	var n int
	require.NoError(h.t, h.db.QueryRowContext(h.ctx,
		`SELECT COUNT(*) FROM payments WHERE booking_id = ? AND status = ?`, bookingID, string(status)).Scan(&n))
	return n
}

func (h *harness) createBooking(qty int) models.Booking {
	h.t.Helper()
	b, err := h.bookings().CreateBooking(h.ctx, CreateBookingInput{
		RouteID:     h.routeID,
		UserID:      h.user.UserID,
		Quantity:    qty,
		BookingDate: "2026-10-25",
	})
	require.NoError(h.t, err)
	return b
}

func (h *harness) accepted(qty int) models.Booking {
	h.t.Helper()
	b := h.createBooking(qty)
	b, err := h.bookings().AcceptBooking(h.ctx, b.ID, h.vendor, "see you on board")
	require.NoError(h.t, err)
	return b
}

func (h *harness) checkout(bookingID int64) CheckoutResult {
	h.t.Helper()
	res, err := h.payments().InitiateCheckout(h.ctx, CheckoutInput{
		BookingID:  bookingID,
		Actor:      h.user,
		SuccessURL: "https://app.example/success",
		CancelURL:  "https://app.example/cancel",
	})
	require.NoError(h.t, err)
	return res
}

// paid walks a booking through acceptance, checkout and confirmation.
func (h *harness) paid(qty int) (models.Booking, CheckoutResult) {
	h.t.Helper()
	b := h.accepted(qty)
	co := h.checkout(b.ID)
	_, err := h.gw.Complete(co.SessionID)
	require.NoError(h.t, err)
	_, err = h.payments().ConfirmPayment(h.ctx, b.ID, co.SessionID)
	require.NoError(h.t, err)
	return h.booking(b.ID), co
}
