package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	intdb "ticketbackend/internal/db"
	"ticketbackend/internal/domain"
	"ticketbackend/internal/domain/models"

	"github.com/shopspring/decimal"
)

type PaymentRepository struct {
	DB intdb.DBTX
}

const paymentColumns = `id, booking_id, user_id, amount, currency, status,
	COALESCE(session_id,''), COALESCE(session_url,''), COALESCE(intent_id,''), COALESCE(transaction_id,''),
	processing_fee, gateway_fee, platform_fee, total_fees, vendor_payout_amount, vendor_payout_set_at,
	COALESCE(refund_id,''), refund_amount, COALESCE(refund_status,''), COALESCE(refund_reason,''),
	refund_requested_at, refunded_at,
	COALESCE(dispute_id,''), COALESCE(dispute_status,''), COALESCE(dispute_reason,''),
	dispute_opened_at, dispute_closed_at,
	attempts, COALESCE(failure_reason,''), completed_at, created_at, updated_at`

func scanPayment(row rowScanner) (models.Payment, error) {
	var (
		p                                 models.Payment
		status                            string
		payoutAt, refundReqAt, refundedAt sql.NullTime
		disputeOpened, disputeClosed      sql.NullTime
		completedAt                       sql.NullTime
	)
	err := row.Scan(
		&p.ID, &p.BookingID, &p.UserID, &p.Amount, &p.Currency, &status,
		&p.SessionID, &p.SessionURL, &p.IntentID, &p.TransactionID,
		&p.Fees.Processing, &p.Fees.Gateway, &p.Fees.Platform, &p.Fees.Total, &p.VendorPayout, &payoutAt,
		&p.Refund.ID, &p.Refund.Amount, &p.Refund.Status, &p.Refund.Reason,
		&refundReqAt, &refundedAt,
		&p.Dispute.ID, &p.Dispute.Status, &p.Dispute.Reason,
		&disputeOpened, &disputeClosed,
		&p.Attempts, &p.FailureReason, &completedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return models.Payment{}, err
	}
	p.Status = models.PaymentStatus(status)
	p.VendorPayoutSetAt = intdb.TimePtr(payoutAt)
	p.Refund.RequestedAt = intdb.TimePtr(refundReqAt)
	p.Refund.RefundedAt = intdb.TimePtr(refundedAt)
	p.Dispute.OpenedAt = intdb.TimePtr(disputeOpened)
	p.Dispute.ClosedAt = intdb.TimePtr(disputeClosed)
	p.CompletedAt = intdb.TimePtr(completedAt)
	return p, nil
}

func (r PaymentRepository) one(ctx context.Context, where string, args ...any) (models.Payment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE `+where, args...)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Payment{}, domain.NotFoundError{Resource: "payment"}
		}
		return models.Payment{}, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// Insert creates a pending payment. A second pending row for the same
// booking fails with a duplicate-key error.
func (r PaymentRepository) Insert(ctx context.Context, p *models.Payment) error {
	p.RecomputeFees()
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO payments (booking_id, user_id, amount, currency, status,
			processing_fee, gateway_fee, platform_fee, total_fees, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.BookingID, p.UserID, p.Amount, p.Currency, string(p.Status),
		p.Fees.Processing, p.Fees.Gateway, p.Fees.Platform, p.Fees.Total, p.Attempts,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert payment id: %w", err)
	}
	p.ID = id
	return nil
}

func (r PaymentRepository) GetByID(ctx context.Context, id int64) (models.Payment, error) {
	return r.one(ctx, `id = ?`, id)
}

func (r PaymentRepository) FindPendingByBooking(ctx context.Context, bookingID int64) (models.Payment, error) {
	return r.one(ctx, `booking_id = ? AND status = 'pending'`, bookingID)
}

func (r PaymentRepository) FindCompletedByBooking(ctx context.Context, bookingID int64) (models.Payment, error) {
	return r.one(ctx, `booking_id = ? AND status = 'completed' ORDER BY id DESC LIMIT 1`, bookingID)
}

func (r PaymentRepository) FindBySession(ctx context.Context, sessionID string) (models.Payment, error) {
	return r.one(ctx, `session_id = ? ORDER BY id DESC LIMIT 1`, sessionID)
}

func (r PaymentRepository) FindByIntent(ctx context.Context, intentID string) (models.Payment, error) {
	return r.one(ctx, `intent_id = ? ORDER BY id DESC LIMIT 1`, intentID)
}

// LatestByBooking returns the most recent payment of any status.
func (r PaymentRepository) LatestByBooking(ctx context.Context, bookingID int64) (models.Payment, error) {
	return r.one(ctx, `booking_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, bookingID)
}

// AttachSession records the checkout session on a still-pending payment.
func (r PaymentRepository) AttachSession(ctx context.Context, id int64, sessionID, sessionURL string, attempts models.Attempts, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE payments SET session_id = ?, session_url = ?, attempts = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		sessionID, intdb.NullIfEmpty(sessionURL), attempts, now, id,
	)
	if err != nil {
		return false, fmt.Errorf("attach session to payment %d: %w", id, err)
	}
	return affectedOne(res)
}

func (r PaymentRepository) UpdateAttempts(ctx context.Context, id int64, attempts models.Attempts, now time.Time) error {
	if _, err := r.DB.ExecContext(ctx,
		`UPDATE payments SET attempts = ?, updated_at = ? WHERE id = ?`, attempts, now, id); err != nil {
		return fmt.Errorf("update payment %d attempts: %w", id, err)
	}
	return nil
}

type CompleteInput struct {
	ID            int64
	SessionID     string
	IntentID      string
	TransactionID string
	Fees          models.Fees
	Payout        decimal.Decimal
	Attempts      models.Attempts
	Now           time.Time
}

// MarkCompleted is the pending to completed compare-and-set. The vendor
// payout is written here and nowhere else.
func (r PaymentRepository) MarkCompleted(ctx context.Context, in CompleteInput) (bool, error) {
	fees := in.Fees
	fees.Total = fees.Processing.Add(fees.Gateway).Add(fees.Platform)
	res, err := r.DB.ExecContext(ctx, `
		UPDATE payments SET status = 'completed', session_id = ?, intent_id = ?, transaction_id = ?,
			processing_fee = ?, gateway_fee = ?, platform_fee = ?, total_fees = ?,
			vendor_payout_amount = ?, vendor_payout_set_at = ?, attempts = ?,
			completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending' AND vendor_payout_amount IS NULL`,
		intdb.NullIfEmpty(in.SessionID), intdb.NullIfEmpty(in.IntentID), intdb.NullIfEmpty(in.TransactionID),
		fees.Processing, fees.Gateway, fees.Platform, fees.Total,
		in.Payout, in.Now, in.Attempts,
		in.Now, in.Now, in.ID,
	)
	if err != nil {
		return false, fmt.Errorf("complete payment %d: %w", in.ID, err)
	}
	return affectedOne(res)
}

func (r PaymentRepository) MarkFailed(ctx context.Context, id int64, reason string, attempts models.Attempts, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE payments SET status = 'failed', failure_reason = ?, attempts = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		intdb.NullIfEmpty(reason), attempts, now, id,
	)
	if err != nil {
		return false, fmt.Errorf("fail payment %d: %w", id, err)
	}
	return affectedOne(res)
}

// CancelPendingForBooking closes the booking's open checkout, if any.
func (r PaymentRepository) CancelPendingForBooking(ctx context.Context, bookingID int64, reason string, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE payments SET status = 'cancelled', failure_reason = ?, updated_at = ?
		WHERE booking_id = ? AND status = 'pending'`,
		intdb.NullIfEmpty(reason), now, bookingID,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel pending payment for booking %d: %w", bookingID, err)
	}
	return res.RowsAffected()
}

// MarkRefundRequested claims the payment for a refund. A failed or
// interrupted earlier request may be retried; a succeeded one may not.
func (r PaymentRepository) MarkRefundRequested(ctx context.Context, id int64, reason string, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE payments SET refund_status = 'requested', refund_reason = ?, refund_requested_at = ?, updated_at = ?
		WHERE id = ? AND status = 'completed'
			AND (refund_status IS NULL OR refund_status IN ('requested', 'failed'))
			AND (dispute_status IS NULL OR dispute_status <> 'open')`,
		intdb.NullIfEmpty(reason), now, now, id,
	)
	if err != nil {
		return false, fmt.Errorf("request refund for payment %d: %w", id, err)
	}
	return affectedOne(res)
}

func (r PaymentRepository) MarkRefundFailed(ctx context.Context, id int64, reason string, now time.Time) error {
	if _, err := r.DB.ExecContext(ctx, `
		UPDATE payments SET refund_status = 'failed', failure_reason = ?, updated_at = ?
		WHERE id = ? AND status = 'completed'`,
		intdb.NullIfEmpty(reason), now, id,
	); err != nil {
		return fmt.Errorf("mark refund failed for payment %d: %w", id, err)
	}
	return nil
}

// MarkRefunded is the completed to refunded compare-and-set.
func (r PaymentRepository) MarkRefunded(ctx context.Context, id int64, refundID string, amount decimal.Decimal, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE payments SET status = 'refunded', refund_id = ?, refund_amount = ?, refund_status = 'succeeded',
			refunded_at = ?, updated_at = ?
		WHERE id = ? AND status = 'completed'`,
		refundID, amount, now, now, id,
	)
	if err != nil {
		return false, fmt.Errorf("refund payment %d: %w", id, err)
	}
	return affectedOne(res)
}

// OpenDispute records a chargeback. A completed payment becomes disputed;
// a refunded one keeps its status and only gains the dispute record.
func (r PaymentRepository) OpenDispute(ctx context.Context, id int64, disputeID, reason string, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE payments SET
			status = CASE WHEN status = 'completed' THEN 'disputed' ELSE status END,
			dispute_id = ?, dispute_status = 'open', dispute_reason = ?, dispute_opened_at = ?,
			dispute_closed_at = NULL, updated_at = ?
		WHERE id = ? AND status IN ('completed', 'refunded')
			AND (dispute_status IS NULL OR dispute_status <> 'open')`,
		disputeID, intdb.NullIfEmpty(reason), now, now, id,
	)
	if err != nil {
		return false, fmt.Errorf("open dispute on payment %d: %w", id, err)
	}
	return affectedOne(res)
}

// CloseDispute resolves an open dispute. A won dispute returns a disputed
// payment to completed; a lost one leaves it disputed.
func (r PaymentRepository) CloseDispute(ctx context.Context, disputeID, outcome string, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE payments SET
			status = CASE WHEN status = 'disputed' AND ? = 'won' THEN 'completed' ELSE status END,
			dispute_status = ?, dispute_closed_at = ?, updated_at = ?
		WHERE dispute_id = ? AND dispute_status = 'open'`,
		outcome, outcome, now, now, disputeID,
	)
	if err != nil {
		return false, fmt.Errorf("close dispute %s: %w", disputeID, err)
	}
	return affectedOne(res)
}

// ListByUser returns payments newest first.
func (r PaymentRepository) ListByUser(ctx context.Context, userID int64, p domain.Pagination) ([]models.Payment, int, error) {
	var total int
	if err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payments WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, userID, p.Limit, p.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	out := []models.Payment{}
	for rows.Next() {
		pm, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, pm)
	}
	return out, total, rows.Err()
}

// ExportRow is one line of the payment CSV export.
type ExportRow struct {
	PaymentID        int64
	BookingID        int64
	BookingReference string
	Route            string
	Amount           decimal.Decimal
	Currency         string
	Status           string
	BookingStatus    string
	PaymentStatus    string
	RefundAmount     decimal.NullDecimal
	CreatedAt        time.Time
}

func (r PaymentRepository) ListForExport(ctx context.Context, userID int64) ([]ExportRow, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT p.id, p.booking_id, b.booking_reference, rt.from_location, rt.to_location,
			p.amount, p.currency, p.status, b.booking_status, b.payment_status, p.refund_amount, p.created_at
		FROM payments p
		JOIN bookings b ON b.id = p.booking_id
		JOIN routes rt ON rt.id = b.route_id
		WHERE p.user_id = ?
		ORDER BY p.created_at DESC, p.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("export payments: %w", err)
	}
	defer rows.Close()

	out := []ExportRow{}
	for rows.Next() {
		var (
			row      ExportRow
			from, to string
		)
		if err := rows.Scan(&row.PaymentID, &row.BookingID, &row.BookingReference, &from, &to,
			&row.Amount, &row.Currency, &row.Status, &row.BookingStatus, &row.PaymentStatus,
			&row.RefundAmount, &row.CreatedAt); err != nil {
			return nil, err
		}
		row.Route = from + " - " + to
		out = append(out, row)
	}
	return out, rows.Err()
}
