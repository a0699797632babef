package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	intdb "ticketbackend/internal/db"
	"ticketbackend/internal/domain"
	"ticketbackend/internal/domain/models"
)

type BookingRepository struct {
	DB intdb.DBTX
}

const bookingColumns = `id, booking_reference, route_id, user_id, vendor_id, booking_quantity,
	departure_date, base_fare, total_amount, currency, booking_status, payment_status, status,
	COALESCE(vendor_notes,''), responded_at, paid_at, cancelled_at, COALESCE(cancel_reason,''),
	created_at, updated_at`

func scanBooking(row rowScanner) (models.Booking, error) {
	var (
		b                              models.Booking
		bookingStatus, payStatus, stat string
		respondedAt, paidAt, cancelled sql.NullTime
	)
	err := row.Scan(
		&b.ID, &b.BookingReference, &b.RouteID, &b.UserID, &b.VendorID, &b.Quantity,
		&b.DepartureDate, &b.BaseFare, &b.TotalAmount, &b.Currency, &bookingStatus, &payStatus, &stat,
		&b.VendorNotes, &respondedAt, &paidAt, &cancelled, &b.CancelReason,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return models.Booking{}, err
	}
	b.BookingStatus = models.BookingStatus(bookingStatus)
	b.PaymentStatus = models.BookingPaymentStatus(payStatus)
	b.Status = models.LifecycleStatus(stat)
	b.RespondedAt = intdb.TimePtr(respondedAt)
	b.PaidAt = intdb.TimePtr(paidAt)
	b.CancelledAt = intdb.TimePtr(cancelled)
	b.Passengers = []models.Passenger{}
	return b, nil
}

// Insert stores the booking and its passengers. A duplicate reference or
// ticket number surfaces as a duplicate-key error for the caller to retry.
func (r BookingRepository) Insert(ctx context.Context, b *models.Booking) error {
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO bookings (booking_reference, route_id, user_id, vendor_id, booking_quantity,
			departure_date, base_fare, total_amount, currency, booking_status, payment_status, status,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.BookingReference, b.RouteID, b.UserID, b.VendorID, b.Quantity,
		b.DepartureDate.UTC(), b.BaseFare, b.TotalAmount, b.Currency,
		string(b.BookingStatus), string(b.PaymentStatus), string(b.Status),
		b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert booking id: %w", err)
	}
	b.ID = id

	for _, p := range b.Passengers {
		if _, err := r.DB.ExecContext(ctx, `
			INSERT INTO booking_passengers (booking_id, passenger_index, passenger_name, ticket_number)
			VALUES (?, ?, ?, ?)`,
			b.ID, p.Index, p.Name, p.TicketNumber,
		); err != nil {
			return fmt.Errorf("insert passenger %d: %w", p.Index, err)
		}
	}
	return nil
}

func (r BookingRepository) GetByID(ctx context.Context, id int64) (models.Booking, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Booking{}, domain.NotFoundError{Resource: "booking"}
		}
		return models.Booking{}, fmt.Errorf("get booking %d: %w", id, err)
	}
	if b.Passengers, err = r.passengers(ctx, id); err != nil {
		return models.Booking{}, err
	}
	return b, nil
}

func (r BookingRepository) passengers(ctx context.Context, bookingID int64) ([]models.Passenger, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT passenger_index, passenger_name, ticket_number
		FROM booking_passengers WHERE booking_id = ? ORDER BY passenger_index`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list passengers: %w", err)
	}
	defer rows.Close()

	out := []models.Passenger{}
	for rows.Next() {
		var p models.Passenger
		if err := rows.Scan(&p.Index, &p.Name, &p.TicketNumber); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListByUser returns the user's bookings newest first.
func (r BookingRepository) ListByUser(ctx context.Context, userID int64, p domain.Pagination) ([]models.Booking, int, error) {
	return r.list(ctx, "user_id", userID, p)
}

// ListByVendor returns bookings on the vendor's routes newest first.
func (r BookingRepository) ListByVendor(ctx context.Context, vendorID int64, p domain.Pagination) ([]models.Booking, int, error) {
	return r.list(ctx, "vendor_id", vendorID, p)
}

func (r BookingRepository) list(ctx context.Context, column string, id int64, p domain.Pagination) ([]models.Booking, int, error) {
	var total int
	if err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE `+column+` = ?`, id).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count bookings: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE `+column+` = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, id, p.Limit, p.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	out := []models.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	return out, total, rows.Err()
}

// TransitionInput describes a compare-and-set on a booking's status pair.
// Optional fields are written only when set.
type TransitionInput struct {
	ID           int64
	FromBooking  []models.BookingStatus
	FromPayment  []models.BookingPaymentStatus
	ToBooking    models.BookingStatus
	ToPayment    models.BookingPaymentStatus
	Notes        *string
	RespondedAt  *time.Time
	PaidAt       *time.Time
	CancelledAt  *time.Time
	CancelReason *string
	Now          time.Time
}

// Transition moves a booking to a new status pair if it is still in one of
// the expected source states. The derived lifecycle status is written in the
// same statement. It reports false when another request got there first.
func (r BookingRepository) Transition(ctx context.Context, in TransitionInput) (bool, error) {
	if err := models.ValidateBookingState(in.ToBooking, in.ToPayment); err != nil {
		return false, domain.InvariantError{Code: domain.CodeInvalidState, Msg: err.Error(), Err: err}
	}
	if len(in.FromBooking) == 0 || len(in.FromPayment) == 0 {
		return false, fmt.Errorf("transition booking %d: source states required", in.ID)
	}

	sets := []string{"booking_status = ?", "payment_status = ?", "status = ?", "updated_at = ?"}
	args := []any{
		string(in.ToBooking), string(in.ToPayment),
		string(models.DeriveLifecycle(in.ToBooking, in.ToPayment)), in.Now,
	}
	if in.Notes != nil {
		sets = append(sets, "vendor_notes = ?")
		args = append(args, intdb.NullIfEmpty(*in.Notes))
	}
	if in.RespondedAt != nil {
		sets = append(sets, "responded_at = ?")
		args = append(args, intdb.NullTime(in.RespondedAt))
	}
	if in.PaidAt != nil {
		sets = append(sets, "paid_at = ?")
		args = append(args, intdb.NullTime(in.PaidAt))
	}
	if in.CancelledAt != nil {
		sets = append(sets, "cancelled_at = ?")
		args = append(args, intdb.NullTime(in.CancelledAt))
	}
	if in.CancelReason != nil {
		sets = append(sets, "cancel_reason = ?")
		args = append(args, intdb.NullIfEmpty(*in.CancelReason))
	}

	args = append(args, in.ID)
	for _, s := range in.FromBooking {
		args = append(args, string(s))
	}
	for _, s := range in.FromPayment {
		args = append(args, string(s))
	}

	query := `UPDATE bookings SET ` + strings.Join(sets, ", ") +
		` WHERE id = ? AND booking_status IN (` + placeholders(len(in.FromBooking)) + `)` +
		` AND payment_status IN (` + placeholders(len(in.FromPayment)) + `)`

	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition booking %d: %w", in.ID, err)
	}
	return affectedOne(res)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
