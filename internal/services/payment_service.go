package services

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"ticketbackend/internal/authz"
	"ticketbackend/internal/config"
	intdb "ticketbackend/internal/db"
	"ticketbackend/internal/domain"
	"ticketbackend/internal/domain/models"
	"ticketbackend/internal/events"
	"ticketbackend/internal/gateway"
	"ticketbackend/internal/repositories"
	"ticketbackend/internal/utils"

	"github.com/shopspring/decimal"
)

// PaymentService reconciles gateway outcomes with payments and bookings.
type PaymentService struct {
	DB        *sql.DB
	Gateway   gateway.Gateway
	Config    config.Payments
	Fees      models.FeeSchedule
	Authz     *authz.Authorizer
	Ledger    InventoryLedger
	Notifier  events.Notifier
	Now       func() time.Time
	RequestID string
}

// NewPaymentService wires the gateway explicitly; a missing gateway or a bad
// fee schedule is a startup error.
func NewPaymentService(conn *sql.DB, gw gateway.Gateway, cfg config.Payments, az *authz.Authorizer, n events.Notifier) (PaymentService, error) {
	if conn == nil {
		return PaymentService{}, errors.New("payment service: database is required")
	}
	if gw == nil {
		return PaymentService{}, errors.New("payment service: gateway is required")
	}
	if az == nil {
		return PaymentService{}, errors.New("payment service: authorizer is required")
	}
	fees, err := cfg.FeeSchedule()
	if err != nil {
		return PaymentService{}, fmt.Errorf("payment service: %w", err)
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	return PaymentService{DB: conn, Gateway: gw, Config: cfg, Fees: fees, Authz: az, Notifier: n}, nil
}

type CheckoutInput struct {
	BookingID  int64
	Actor      domain.RequestContext
	SuccessURL string
	CancelURL  string
}

type CheckoutResult struct {
	SessionID  string `json:"sessionId"`
	SessionURL string `json:"sessionUrl"`
	BookingID  int64  `json:"bookingId"`
	PaymentID  int64  `json:"paymentId"`
}

type ConfirmResult struct {
	BookingID     int64                       `json:"bookingId"`
	PaymentID     int64                       `json:"paymentId,omitempty"`
	BookingStatus models.BookingStatus        `json:"bookingStatus"`
	PaymentStatus models.BookingPaymentStatus `json:"paymentStatus"`
	Status        models.LifecycleStatus      `json:"status"`
	AlreadyPaid   bool                        `json:"alreadyPaid"`
}

type RefundResult struct {
	RefundID  string          `json:"refundId"`
	PaymentID int64           `json:"paymentId"`
	BookingID int64           `json:"bookingId"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
}

type StatusResult struct {
	Booking models.Booking  `json:"booking"`
	Payment *models.Payment `json:"payment,omitempty"`
}

type WebhookResult struct {
	EventID string `json:"eventId"`
	Kind    string `json:"kind"`
	Handled bool   `json:"handled"`
}

var errAlreadyConfirmed = errors.New("booking already confirmed")

func (s PaymentService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return utils.NowUTC()
}

func (s PaymentService) payments() repositories.PaymentRepository {
	return repositories.PaymentRepository{DB: s.DB}
}

func (s PaymentService) bookings() repositories.BookingRepository {
	return repositories.BookingRepository{DB: s.DB}
}

func (s PaymentService) gatewayCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.Config.GatewayTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (s PaymentService) upstream(op string, err error) error {
	utils.Log(s.RequestID, "payment").WithError(err).WithField("op", op).Error("gateway call failed")
	return domain.UpstreamError{Op: op, Msg: "payment gateway unavailable, please retry", Err: err}
}

func notCompleted(msg string) error {
	return domain.ConflictError{Resource: "payment", Code: domain.CodePaymentNotCompleted, Msg: msg}
}

// InitiateCheckout opens (or reuses) the booking's single pending payment
// and returns a hosted checkout session for it. The gateway is called
// outside any transaction; if it fails the pending payment stays as is.
func (s PaymentService) InitiateCheckout(ctx context.Context, in CheckoutInput) (CheckoutResult, error) {
	if strings.TrimSpace(in.SuccessURL) == "" || strings.TrimSpace(in.CancelURL) == "" {
		return CheckoutResult{}, domain.ValidationError{Field: "successUrl", Msg: "successUrl and cancelUrl are required"}
	}
	b, err := s.bookings().GetByID(ctx, in.BookingID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if err := s.Authz.Require(ctx, authz.PaymentCheckout, in.Actor, authz.Resource{UserID: b.UserID, VendorID: b.VendorID}); err != nil {
		return CheckoutResult{}, err
	}
	if b.Paid() || b.BookingStatus == models.BookingCompleted {
		return CheckoutResult{}, domain.ConflictError{Resource: "booking", Code: domain.CodeAlreadyPaid, Msg: "booking already paid"}
	}
	if b.BookingStatus == models.BookingPending {
		available, _, err := repositories.RouteRepository{DB: s.DB}.AvailableQuantity(ctx, b.RouteID)
		if err != nil {
			return CheckoutResult{}, err
		}
		if available < b.Quantity {
			return CheckoutResult{}, domain.ConflictError{
				Resource: "route", Code: domain.CodeInsufficientInventory, Msg: "not enough tickets available",
			}
		}
	}
	if b.BookingStatus != models.BookingAccepted {
		return CheckoutResult{}, domain.ConflictError{
			Resource: "booking", Code: domain.CodeNotPayable, Msg: "booking must be accepted by the vendor before payment",
		}
	}

	payment, err := s.ensurePending(ctx, b)
	if err != nil {
		return CheckoutResult{}, err
	}

	if payment.SessionID != "" {
		if existing, ok := s.reusableSession(ctx, payment.SessionID); ok {
			return CheckoutResult{SessionID: existing.ID, SessionURL: existing.URL, BookingID: b.ID, PaymentID: payment.ID}, nil
		}
	}

	amountMinor, err := utils.ToMinorUnits(payment.Amount, payment.Currency)
	if err != nil {
		return CheckoutResult{}, domain.InternalError{Msg: "invalid payment amount", Err: err}
	}
	attempt := len(payment.Attempts) + 1
	req := gateway.CheckoutRequest{
		BookingID:        b.ID,
		UserID:           b.UserID,
		PaymentID:        payment.ID,
		BookingReference: b.BookingReference,
		Description:      fmt.Sprintf("Booking %s (%d tickets)", b.BookingReference, b.Quantity),
		AmountMinor:      amountMinor,
		Currency:         payment.Currency,
		SuccessURL:       in.SuccessURL,
		CancelURL:        in.CancelURL,
		IdempotencyKey:   gateway.CheckoutKey(payment.ID, attempt),
	}

	gctx, cancel := s.gatewayCtx(ctx)
	session, gwErr := s.Gateway.CreateCheckoutSession(gctx, req)
	cancel()

	now := s.now()
	attempts := append(payment.Attempts, models.PaymentAttempt{At: now, Action: "checkout", SessionID: session.ID, Outcome: "created"})
	if gwErr != nil {
		attempts[len(attempts)-1].Outcome = "error"
		attempts[len(attempts)-1].Error = utils.Truncate(gwErr.Error(), 200)
		if err := s.payments().UpdateAttempts(ctx, payment.ID, attempts, now); err != nil {
			utils.Log(s.RequestID, "payment").WithError(err).Warn("could not record failed attempt")
		}
		return CheckoutResult{}, s.upstream("checkout", gwErr)
	}

	attached, err := s.payments().AttachSession(ctx, payment.ID, session.ID, session.URL, attempts, now)
	if err != nil {
		return CheckoutResult{}, err
	}
	if !attached {
		return CheckoutResult{}, domain.ConflictError{Resource: "payment", Code: domain.CodeNotPayable, Msg: "payment is no longer open"}
	}

	utils.LogEvent(s.RequestID, "payment", "checkout",
		fmt.Sprintf("booking_id=%d payment_id=%d session=%s attempt=%d", b.ID, payment.ID, session.ID, attempt))
	return CheckoutResult{SessionID: session.ID, SessionURL: session.URL, BookingID: b.ID, PaymentID: payment.ID}, nil
}

// ensurePending returns the booking's pending payment, creating it when
// absent. Losing an insert race to a concurrent request reuses the winner.
func (s PaymentService) ensurePending(ctx context.Context, b models.Booking) (models.Payment, error) {
	existing, err := s.payments().FindPendingByBooking(ctx, b.ID)
	if err == nil {
		return existing, nil
	}
	if !domain.IsNotFound(err) {
		return models.Payment{}, err
	}

	scale, err := utils.CurrencyScale(b.Currency)
	if err != nil {
		return models.Payment{}, domain.InternalError{Msg: "unsupported currency", Err: err}
	}
	now := s.now()
	p := models.Payment{
		BookingID: b.ID,
		UserID:    b.UserID,
		Amount:    b.TotalAmount,
		Currency:  b.Currency,
		Status:    models.PaymentPending,
		Fees:      s.Fees.Compute(b.TotalAmount, scale),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = intdb.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		if err := (repositories.PaymentRepository{DB: tx}).Insert(ctx, &p); err != nil {
			return err
		}
		// a retry after an expired session reopens the booking for payment
		_, err := repositories.BookingRepository{DB: tx}.Transition(ctx, repositories.TransitionInput{
			ID:          b.ID,
			FromBooking: []models.BookingStatus{models.BookingAccepted},
			FromPayment: []models.BookingPaymentStatus{models.BookingPaymentFailed},
			ToBooking:   models.BookingAccepted,
			ToPayment:   models.BookingPaymentPending,
			Now:         now,
		})
		return err
	})
	if err == nil {
		return p, nil
	}
	if intdb.IsDuplicateKey(err) {
		utils.LogEvent(s.RequestID, "payment", "checkout", fmt.Sprintf("booking_id=%d reusing concurrent pending payment", b.ID))
		return s.payments().FindPendingByBooking(ctx, b.ID)
	}
	return models.Payment{}, err
}

func (s PaymentService) reusableSession(ctx context.Context, sessionID string) (gateway.CheckoutSession, bool) {
	gctx, cancel := s.gatewayCtx(ctx)
	defer cancel()
	session, err := s.Gateway.RetrieveSession(gctx, sessionID)
	if err != nil {
		return gateway.CheckoutSession{}, false
	}
	return session, session.Status == gateway.SessionOpen && !session.Paid && session.URL != ""
}

// ConfirmPayment reconciles a checkout session into the booking. Calling it
// again after success returns the current state without side effects.
// Inventory is never touched here; seats were reserved at acceptance.
func (s PaymentService) ConfirmPayment(ctx context.Context, bookingID int64, sessionID string) (ConfirmResult, error) {
	b, err := s.bookings().GetByID(ctx, bookingID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if b.Paid() {
		return s.confirmResult(ctx, b, true)
	}
	if b.BookingStatus != models.BookingAccepted {
		return ConfirmResult{}, domain.ConflictError{Resource: "booking", Code: domain.CodeNotPayable, Msg: "booking is not awaiting payment"}
	}

	payment, err := s.paymentForConfirm(ctx, b.ID, sessionID)
	if err != nil {
		return ConfirmResult{}, err
	}
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		sid = payment.SessionID
	}
	if sid == "" {
		return ConfirmResult{}, notCompleted("checkout has not been started")
	}

	gctx, cancel := s.gatewayCtx(ctx)
	session, err := s.Gateway.RetrieveSession(gctx, sid)
	cancel()
	if err != nil {
		if errors.Is(err, gateway.ErrSessionNotFound) {
			return ConfirmResult{}, notCompleted("checkout session not found")
		}
		return ConfirmResult{}, s.upstream("retrieve_session", err)
	}
	if metaID, ok := session.BookingID(); !ok || metaID != b.ID {
		utils.Log(s.RequestID, "payment").WithField("booking_id", b.ID).WithField("session", sid).
			Error("checkout session metadata does not match booking")
		return ConfirmResult{}, domain.InvariantError{
			Code: domain.CodePaymentNotCompleted, Msg: "checkout session does not belong to this booking",
		}
	}

	// A replaced session never touches the payment that now carries a newer one.
	stale := sid != payment.SessionID

	now := s.now()
	if session.Expired() {
		if stale {
			return ConfirmResult{}, notCompleted("checkout session expired")
		}
		if err := s.failPayment(ctx, payment, "checkout session expired", now); err != nil {
			return ConfirmResult{}, err
		}
		return ConfirmResult{}, notCompleted("checkout session expired")
	}
	if !session.Paid {
		return ConfirmResult{}, notCompleted("payment has not been settled")
	}
	if stale {
		utils.Log(s.RequestID, "payment").WithField("booking_id", b.ID).WithField("session", sid).
			WithField("current_session", payment.SessionID).Warn("confirmation for a replaced checkout session")
		return ConfirmResult{}, notCompleted("checkout session has been replaced")
	}

	scale, err := utils.CurrencyScale(payment.Currency)
	if err != nil {
		return ConfirmResult{}, domain.InternalError{Msg: "unsupported currency", Err: err}
	}
	fees := s.Fees.Compute(payment.Amount, scale)
	attempts := append(payment.Attempts, models.PaymentAttempt{At: now, Action: "confirm", SessionID: sid, Outcome: "paid"})

	err = intdb.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		payments := repositories.PaymentRepository{DB: tx}
		bookings := repositories.BookingRepository{DB: tx}

		completed, err := payments.MarkCompleted(ctx, repositories.CompleteInput{
			ID:            payment.ID,
			SessionID:     sid,
			IntentID:      session.IntentID,
			TransactionID: session.IntentID,
			Fees:          fees,
			Payout:        payment.Amount.Sub(fees.Total),
			Attempts:      attempts,
			Now:           now,
		})
		if err != nil {
			return err
		}
		if !completed {
			current, err := payments.GetByID(ctx, payment.ID)
			if err != nil {
				return err
			}
			if current.Status != models.PaymentCompleted {
				if current.Status == models.PaymentCancelled {
					utils.Log(s.RequestID, "payment").WithField("payment_id", payment.ID).WithField("session", sid).
						Error("gateway captured payment for a cancelled checkout, manual refund required")
				}
				return notCompleted("payment is no longer pending")
			}
		}

		moved, err := bookings.Transition(ctx, repositories.TransitionInput{
			ID:          b.ID,
			FromBooking: []models.BookingStatus{models.BookingAccepted},
			FromPayment: []models.BookingPaymentStatus{models.BookingPaymentPending, models.BookingPaymentFailed},
			ToBooking:   models.BookingAccepted,
			ToPayment:   models.BookingPaymentPaid,
			PaidAt:      &now,
			Now:         now,
		})
		if err != nil {
			return err
		}
		if !moved {
			current, err := bookings.GetByID(ctx, b.ID)
			if err != nil {
				return err
			}
			if current.Paid() {
				return errAlreadyConfirmed
			}
			utils.Log(s.RequestID, "payment").WithField("booking_id", b.ID).WithField("session", sid).
				Error("gateway captured payment for a booking that left accepted, manual refund required")
			return domain.ConflictError{Resource: "booking", Code: domain.CodeNotPayable, Msg: "booking is no longer awaiting payment"}
		}
		return nil
	})
	if errors.Is(err, errAlreadyConfirmed) {
		current, err := s.bookings().GetByID(ctx, b.ID)
		if err != nil {
			return ConfirmResult{}, err
		}
		return s.confirmResult(ctx, current, true)
	}
	if err != nil {
		return ConfirmResult{}, err
	}

	utils.LogEvent(s.RequestID, "payment", "confirm",
		fmt.Sprintf("booking_id=%d payment_id=%d session=%s", b.ID, payment.ID, sid))
	updated, err := s.bookings().GetByID(ctx, b.ID)
	if err != nil {
		return ConfirmResult{}, err
	}
	publish(ctx, s.Notifier, s.RequestID, now, events.Event{
		Kind:             events.PaymentConfirmed,
		Topic:            events.BookingTopic(b.ID),
		BookingID:        b.ID,
		BookingReference: b.BookingReference,
		Fields: map[string]any{
			"paymentStatus": updated.PaymentStatus,
			"bookingStatus": updated.BookingStatus,
			"status":        updated.Status,
		},
	})
	publish(ctx, s.Notifier, s.RequestID, now, events.Event{
		Kind:             events.PaymentReceived,
		Topic:            events.VendorTopic(b.VendorID),
		BookingID:        b.ID,
		BookingReference: b.BookingReference,
		Fields:           map[string]any{"amount": utils.FormatAmount(payment.Amount, payment.Currency), "currency": payment.Currency},
	})
	res, err := s.confirmResult(ctx, updated, false)
	res.PaymentID = payment.ID
	return res, err
}

func (s PaymentService) paymentForConfirm(ctx context.Context, bookingID int64, sessionID string) (models.Payment, error) {
	if sid := strings.TrimSpace(sessionID); sid != "" {
		p, err := s.payments().FindBySession(ctx, sid)
		if err == nil {
			if p.BookingID != bookingID {
				return models.Payment{}, domain.InvariantError{
					Code: domain.CodePaymentNotCompleted, Msg: "checkout session does not belong to this booking",
				}
			}
			return p, nil
		}
		if !domain.IsNotFound(err) {
			return models.Payment{}, err
		}
	}
	p, err := s.payments().FindPendingByBooking(ctx, bookingID)
	if domain.IsNotFound(err) {
		return models.Payment{}, notCompleted("no pending payment for booking")
	}
	return p, err
}

func (s PaymentService) confirmResult(ctx context.Context, b models.Booking, already bool) (ConfirmResult, error) {
	res := ConfirmResult{
		BookingID:     b.ID,
		BookingStatus: b.BookingStatus,
		PaymentStatus: b.PaymentStatus,
		Status:        b.Status,
		AlreadyPaid:   already,
	}
	if p, err := s.payments().LatestByBooking(ctx, b.ID); err == nil {
		res.PaymentID = p.ID
	} else if !domain.IsNotFound(err) {
		return ConfirmResult{}, err
	}
	return res, nil
}

// failPayment marks an abandoned checkout failed; the booking keeps its
// reservation and may start a new checkout.
func (s PaymentService) failPayment(ctx context.Context, p models.Payment, reason string, now time.Time) error {
	attempts := append(p.Attempts, models.PaymentAttempt{At: now, Action: "confirm", SessionID: p.SessionID, Outcome: "expired"})
	err := intdb.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		failed, err := repositories.PaymentRepository{DB: tx}.MarkFailed(ctx, p.ID, reason, attempts, now)
		if err != nil || !failed {
			return err
		}
		_, err = repositories.BookingRepository{DB: tx}.Transition(ctx, repositories.TransitionInput{
			ID:          p.BookingID,
			FromBooking: []models.BookingStatus{models.BookingAccepted},
			FromPayment: []models.BookingPaymentStatus{models.BookingPaymentPending},
			ToBooking:   models.BookingAccepted,
			ToPayment:   models.BookingPaymentFailed,
			Now:         now,
		})
		return err
	})
	if err == nil {
		utils.LogEvent(s.RequestID, "payment", "fail", fmt.Sprintf("payment_id=%d reason=%s", p.ID, reason))
	}
	return err
}

// RequestRefund returns a completed payment to the customer, cancels the
// booking and puts its seats back on sale.
func (s PaymentService) RequestRefund(ctx context.Context, paymentID int64, actor domain.RequestContext, reason string) (RefundResult, error) {
	p, err := s.payments().GetByID(ctx, paymentID)
	if err != nil {
		return RefundResult{}, err
	}
	allowed, err := s.Authz.Allow(ctx, authz.PaymentRefund, actor, authz.Resource{UserID: p.UserID})
	if err != nil {
		return RefundResult{}, domain.InternalError{Msg: "authorization check failed", Err: err}
	}
	if !allowed {
		return RefundResult{}, domain.NotFoundError{Resource: "payment"}
	}
	if p.RefundDone() {
		return RefundResult{}, domain.ConflictError{Resource: "payment", Code: domain.CodeAlreadyRefunded, Msg: "payment already refunded or disputed"}
	}
	if p.Status != models.PaymentCompleted {
		return RefundResult{}, domain.ConflictError{Resource: "payment", Code: domain.CodeNotRefundable, Msg: "only completed payments can be refunded"}
	}
	b, err := s.bookings().GetByID(ctx, p.BookingID)
	if err != nil {
		return RefundResult{}, err
	}
	if b.BookingStatus != models.BookingAccepted || !b.Paid() {
		return RefundResult{}, domain.ConflictError{Resource: "booking", Code: domain.CodeNotRefundable, Msg: "only paid bookings that have not run can be refunded"}
	}

	reason = utils.Truncate(utils.NormalizeSpace(reason), 255)
	now := s.now()
	claimed, err := s.payments().MarkRefundRequested(ctx, p.ID, reason, now)
	if err != nil {
		return RefundResult{}, err
	}
	if !claimed {
		current, err := s.payments().GetByID(ctx, p.ID)
		if err != nil {
			return RefundResult{}, err
		}
		if current.RefundDone() {
			return RefundResult{}, domain.ConflictError{Resource: "payment", Code: domain.CodeAlreadyRefunded, Msg: "payment already refunded or disputed"}
		}
		return RefundResult{}, domain.ConflictError{Resource: "payment", Code: domain.CodeNotRefundable, Msg: "payment cannot be refunded"}
	}

	amountMinor, err := utils.ToMinorUnits(p.Amount, p.Currency)
	if err != nil {
		return RefundResult{}, domain.InternalError{Msg: "invalid payment amount", Err: err}
	}
	gctx, cancel := s.gatewayCtx(ctx)
	refund, gwErr := s.Gateway.Refund(gctx, gateway.RefundRequest{
		PaymentID:      p.ID,
		IntentID:       p.IntentID,
		SessionID:      p.SessionID,
		AmountMinor:    amountMinor,
		Currency:       p.Currency,
		Reason:         reason,
		IdempotencyKey: gateway.RefundKey(p.ID),
	})
	cancel()
	if gwErr != nil {
		if err := s.payments().MarkRefundFailed(ctx, p.ID, utils.Truncate(gwErr.Error(), 255), s.now()); err != nil {
			utils.Log(s.RequestID, "payment").WithError(err).Warn("could not record refund failure")
		}
		return RefundResult{}, s.upstream("refund", gwErr)
	}

	refunded := p.Amount
	if refund.AmountMinor > 0 {
		if amt, err := utils.FromMinorUnits(refund.AmountMinor, p.Currency); err == nil {
			refunded = amt
		}
	}

	now = s.now()
	err = intdb.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		ok, err := repositories.PaymentRepository{DB: tx}.MarkRefunded(ctx, p.ID, refund.ID, refunded, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ConflictError{Resource: "payment", Code: domain.CodeAlreadyRefunded, Msg: "payment already refunded"}
		}
		moved, err := repositories.BookingRepository{DB: tx}.Transition(ctx, repositories.TransitionInput{
			ID:           b.ID,
			FromBooking:  []models.BookingStatus{models.BookingAccepted},
			FromPayment:  []models.BookingPaymentStatus{models.BookingPaymentPaid},
			ToBooking:    models.BookingCancelled,
			ToPayment:    models.BookingPaymentRefunded,
			CancelledAt:  &now,
			CancelReason: &reason,
			Now:          now,
		})
		if err != nil {
			return err
		}
		if !moved {
			return domain.InvariantError{Code: domain.CodeInvalidState, Msg: "booking is not in a refundable state"}
		}
		_, err = s.Ledger.Release(ctx, tx, b.RouteID, b.Quantity)
		return err
	})
	if err != nil {
		utils.Log(s.RequestID, "payment").WithError(err).WithField("payment_id", p.ID).WithField("refund_id", refund.ID).
			Error("refund issued but local commit failed; retry is safe")
		return RefundResult{}, err
	}

	utils.LogEvent(s.RequestID, "payment", "refund",
		fmt.Sprintf("payment_id=%d booking_id=%d refund_id=%s qty_released=%d", p.ID, b.ID, refund.ID, b.Quantity))
	publish(ctx, s.Notifier, s.RequestID, now, events.Event{
		Kind:             events.PaymentRefunded,
		Topic:            events.UserTopic(p.UserID),
		BookingID:        b.ID,
		BookingReference: b.BookingReference,
		Fields:           map[string]any{"refundId": refund.ID, "amount": utils.FormatAmount(refunded, p.Currency)},
	})
	publish(ctx, s.Notifier, s.RequestID, now, events.Event{
		Kind:             events.BookingCancelled,
		Topic:            events.BookingTopic(b.ID),
		BookingID:        b.ID,
		BookingReference: b.BookingReference,
		Fields: map[string]any{
			"bookingStatus": models.BookingCancelled,
			"paymentStatus": models.BookingPaymentRefunded,
		},
	})
	return RefundResult{
		RefundID:  refund.ID,
		PaymentID: p.ID,
		BookingID: b.ID,
		Amount:    refunded,
		Currency:  p.Currency,
		Status:    string(models.PaymentRefunded),
	}, nil
}

// HandleWebhook applies a verified gateway event. Events that cannot apply
// (stale, already processed) are acknowledged so the gateway stops
// redelivering; only retryable failures are returned as errors.
func (s PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	ev, err := s.Gateway.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) {
			return WebhookResult{}, domain.ValidationError{Field: "signature", Code: "invalid_signature", Msg: "webhook signature verification failed"}
		}
		return WebhookResult{}, domain.ValidationError{Field: "payload", Msg: "malformed webhook event", Err: err}
	}
	res := WebhookResult{EventID: ev.ID, Kind: string(ev.Kind)}
	now := s.now()

	switch ev.Kind {
	case gateway.EventCheckoutCompleted:
		bookingID := ev.BookingID
		if bookingID == 0 && ev.SessionID != "" {
			if p, err := s.payments().FindBySession(ctx, ev.SessionID); err == nil {
				bookingID = p.BookingID
			}
		}
		if bookingID == 0 {
			break
		}
		_, err = s.ConfirmPayment(ctx, bookingID, ev.SessionID)
		res.Handled = err == nil

	case gateway.EventCheckoutExpired:
		p, ferr := s.payments().FindBySession(ctx, ev.SessionID)
		if ferr != nil {
			err = ferr
			break
		}
		if p.Status == models.PaymentPending {
			err = s.failPayment(ctx, p, "checkout session expired", now)
			res.Handled = err == nil
		}

	case gateway.EventDisputeOpened:
		p, ferr := s.payments().FindByIntent(ctx, ev.IntentID)
		if ferr != nil {
			err = ferr
			break
		}
		res.Handled, err = s.payments().OpenDispute(ctx, p.ID, ev.DisputeID, utils.Truncate(ev.DisputeReason, 255), now)

	case gateway.EventDisputeClosed:
		outcome := models.DisputeLost
		if ev.DisputeStatus == "won" || ev.DisputeStatus == "warning_closed" {
			outcome = models.DisputeWon
		}
		res.Handled, err = s.payments().CloseDispute(ctx, ev.DisputeID, outcome, now)
	}

	utils.LogEvent(s.RequestID, "payment", "webhook",
		fmt.Sprintf("event=%s kind=%s raw=%s handled=%t", ev.ID, ev.Kind, ev.RawType, res.Handled))
	if err != nil && (domain.IsUpstream(err) || domain.IsInternal(err) || domain.CodeOf(err) == "") {
		return res, err
	}
	if err != nil {
		utils.Log(s.RequestID, "payment").WithError(err).WithField("event", ev.ID).Warn("webhook event not applied")
	}
	return res, nil
}

// GetHistory lists the user's payments newest first.
func (s PaymentService) GetHistory(ctx context.Context, actor domain.RequestContext, p domain.Pagination) ([]models.Payment, domain.Pagination, error) {
	items, total, err := s.payments().ListByUser(ctx, actor.UserID, p)
	p.Total = total
	return items, p, err
}

// GetStatus returns the booking with its latest payment.
func (s PaymentService) GetStatus(ctx context.Context, bookingID int64, actor domain.RequestContext) (StatusResult, error) {
	b, err := s.bookings().GetByID(ctx, bookingID)
	if err != nil {
		return StatusResult{}, err
	}
	if err := s.Authz.Require(ctx, authz.PaymentView, actor, authz.Resource{UserID: b.UserID, VendorID: b.VendorID}); err != nil {
		return StatusResult{}, err
	}
	out := StatusResult{Booking: b}
	p, err := s.payments().LatestByBooking(ctx, b.ID)
	switch {
	case err == nil:
		out.Payment = &p
	case !domain.IsNotFound(err):
		return StatusResult{}, err
	}
	return out, nil
}

var exportHeader = []string{
	"payment_id", "booking_id", "booking_reference", "route", "amount", "currency",
	"payment_status", "booking_status", "booking_payment_status", "refund_amount", "created_at",
}

// ExportCSV writes the user's payments as CSV, newest first.
func (s PaymentService) ExportCSV(ctx context.Context, actor domain.RequestContext, w io.Writer) (int, error) {
	rows, err := s.payments().ListForExport(ctx, actor.UserID)
	if err != nil {
		return 0, err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return 0, err
	}
	for _, r := range rows {
		refund := ""
		if r.RefundAmount.Valid {
			refund = utils.FormatAmount(r.RefundAmount.Decimal, r.Currency)
		}
		record := []string{
			strconv.FormatInt(r.PaymentID, 10),
			strconv.FormatInt(r.BookingID, 10),
			r.BookingReference,
			r.Route,
			utils.FormatAmount(r.Amount, r.Currency),
			r.Currency,
			r.Status,
			r.BookingStatus,
			r.PaymentStatus,
			refund,
			r.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	return len(rows), cw.Error()
}
