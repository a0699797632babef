package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"ticketbackend/internal/domain"
	"ticketbackend/internal/domain/models"
	"ticketbackend/internal/events"
	"ticketbackend/internal/gateway"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

func (h *harness) webhook(id, kind string, fill func(ev *gateway.MockEvent)) ([]byte, string) {
	h.t.Helper()
	ev := gateway.MockEvent{ID: id, Type: kind}
	if fill != nil {
		fill(&ev)
	}
	payload, err := json.Marshal(ev)
	require.NoError(h.t, err)
	return payload, h.gw.Sign(payload)
}

func TestPaymentHappyPath(t *testing.T) {
	h := newHarness(t)
	b := h.accepted(2)
	require.Equal(t, 8, h.available())

	co := h.checkout(b.ID)
	require.NotEmpty(t, co.SessionID)
	require.Contains(t, co.SessionURL, co.SessionID)
	require.Equal(t, 1, h.countPayments(b.ID, models.PaymentPending))

	_, err := h.gw.Complete(co.SessionID)
	require.NoError(t, err)
	res, err := h.payments().ConfirmPayment(h.ctx, b.ID, co.SessionID)
	require.NoError(t, err)
	require.False(t, res.AlreadyPaid)
	require.Equal(t, co.PaymentID, res.PaymentID)
	require.Equal(t, models.BookingAccepted, res.BookingStatus)
	require.Equal(t, models.BookingPaymentPaid, res.PaymentStatus)
	require.Equal(t, models.LifecycleConfirmed, res.Status)

	p := h.payment(co.PaymentID)
	require.Equal(t, models.PaymentCompleted, p.Status)
	require.NotEmpty(t, p.IntentID)
	require.Equal(t, "2.50", p.Fees.Platform.StringFixed(2))
	require.Equal(t, "1.75", p.Fees.Gateway.StringFixed(2))
	require.Equal(t, "4.25", p.Fees.Total.StringFixed(2))
	require.True(t, p.VendorPayout.Valid)
	require.Equal(t, "45.75", p.VendorPayout.Decimal.StringFixed(2))
	require.NotNil(t, p.CompletedAt)

	// paying never touches inventory again
	require.Equal(t, 8, h.available())
	require.NotNil(t, h.booking(b.ID).PaidAt)
	require.Equal(t, 1, h.rec.Count(events.PaymentConfirmed))
	require.Equal(t, 1, h.rec.Count(events.PaymentReceived))
}

func TestConfirmPaymentIsIdempotent(t *testing.T) {
	h := newHarness(t)
	b, co := h.paid(1)

	res, err := h.payments().ConfirmPayment(h.ctx, b.ID, co.SessionID)
	require.NoError(t, err)
	require.True(t, res.AlreadyPaid)
	require.Equal(t, co.PaymentID, res.PaymentID)

	res, err = h.payments().ConfirmPayment(h.ctx, b.ID, "")
	require.NoError(t, err)
	require.True(t, res.AlreadyPaid)

	require.Equal(t, 1, h.rec.Count(events.PaymentConfirmed))
	require.Equal(t, 9, h.available())
}

func TestCheckoutGuards(t *testing.T) {
	h := newHarness(t)

	pending := h.createBooking(1)
	_, err := h.payments().InitiateCheckout(h.ctx, CheckoutInput{
		BookingID: pending.ID, Actor: h.user,
		SuccessURL: "https://app.example/s", CancelURL: "https://app.example/c",
	})
	require.True(t, domain.HasCode(err, domain.CodeNotPayable), "got %v", err)

	paid, _ := h.paid(1)
	_, err = h.payments().InitiateCheckout(h.ctx, CheckoutInput{
		BookingID: paid.ID, Actor: h.user,
		SuccessURL: "https://app.example/s", CancelURL: "https://app.example/c",
	})
	require.True(t, domain.HasCode(err, domain.CodeAlreadyPaid), "got %v", err)

	accepted := h.accepted(1)
	_, err = h.payments().InitiateCheckout(h.ctx, CheckoutInput{
		BookingID: accepted.ID, Actor: h.otherUser,
		SuccessURL: "https://app.example/s", CancelURL: "https://app.example/c",
	})
	require.True(t, domain.IsAuthorization(err), "got %v", err)

	_, err = h.payments().InitiateCheckout(h.ctx, CheckoutInput{BookingID: accepted.ID, Actor: h.user})
	require.True(t, domain.IsValidation(err))
}

func TestConcurrentCheckoutKeepsOnePendingPayment(t *testing.T) {
	h := newHarness(t)
	b := h.accepted(2)

	const n = 5
	var (
		wg      sync.WaitGroup
		results = make([]CheckoutResult, n)
		errs    = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.payments().InitiateCheckout(h.ctx, CheckoutInput{
				BookingID: b.ID, Actor: h.user,
				SuccessURL: "https://app.example/s", CancelURL: "https://app.example/c",
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, results[0].PaymentID, results[i].PaymentID)
		require.Equal(t, results[0].SessionID, results[i].SessionID)
	}
	require.Equal(t, 1, h.countPayments(b.ID, models.PaymentPending))
}

func TestCheckoutGatewayFailureKeepsPendingPayment(t *testing.T) {
	h := newHarness(t)
	b := h.accepted(1)

	h.gw.FailNext(gateway.OpCheckout, errors.New("connection reset"))
	_, err := h.payments().InitiateCheckout(h.ctx, CheckoutInput{
		BookingID: b.ID, Actor: h.user,
		SuccessURL: "https://app.example/s", CancelURL: "https://app.example/c",
	})
	require.True(t, domain.IsUpstream(err), "got %v", err)
	require.Equal(t, 1, h.countPayments(b.ID, models.PaymentPending))

	h.gw.FailNext(gateway.OpCheckout, nil)
	co := h.checkout(b.ID)
	p := h.payment(co.PaymentID)
	require.Equal(t, models.PaymentPending, p.Status)
	require.Len(t, p.Attempts, 2)
	require.Equal(t, "error", p.Attempts[0].Outcome)
	require.Equal(t, "created", p.Attempts[1].Outcome)
	require.Equal(t, 1, h.countPayments(b.ID, models.PaymentPending))
}

func TestCheckoutReusesOpenSession(t *testing.T) {
	h := newHarness(t)
	b := h.accepted(1)

	first := h.checkout(b.ID)
	second := h.checkout(b.ID)
	require.Equal(t, first.SessionID, second.SessionID)
	require.Equal(t, first.PaymentID, second.PaymentID)
	require.Equal(t, 1, h.gw.Calls(gateway.OpCheckout))
}

func TestConfirmUnpaidSession(t *testing.T) {
	h := newHarness(t)
	b := h.accepted(1)
	co := h.checkout(b.ID)

	_, err := h.payments().ConfirmPayment(h.ctx, b.ID, co.SessionID)
	require.True(t, domain.HasCode(err, domain.CodePaymentNotCompleted), "got %v", err)
	require.Equal(t, models.BookingPaymentPending, h.booking(b.ID).PaymentStatus)
	require.Equal(t, models.PaymentPending, h.payment(co.PaymentID).Status)
	require.Zero(t, h.rec.Count(events.PaymentConfirmed))
}

func TestConfirmRejectsForeignSession(t *testing.T) {
	h := newHarness(t)
	a := h.accepted(1)
	b := h.accepted(1)
	coA := h.checkout(a.ID)
	h.checkout(b.ID)
	_, err := h.gw.Complete(coA.SessionID)
	require.NoError(t, err)

	_, err = h.payments().ConfirmPayment(h.ctx, b.ID, coA.SessionID)
	require.True(t, domain.IsInvariant(err), "got %v", err)
	require.False(t, h.booking(b.ID).Paid())
}

func TestExpiredSessionAllowsRetry(t *testing.T) {
	h := newHarness(t)
	b := h.accepted(1)
	co := h.checkout(b.ID)
	require.NoError(t, h.gw.Expire(co.SessionID))

	_, err := h.payments().ConfirmPayment(h.ctx, b.ID, co.SessionID)
	require.True(t, domain.HasCode(err, domain.CodePaymentNotCompleted), "got %v", err)
	require.Equal(t, models.PaymentFailed, h.payment(co.PaymentID).Status)
	stored := h.booking(b.ID)
	require.Equal(t, models.BookingAccepted, stored.BookingStatus)
	require.Equal(t, models.BookingPaymentFailed, stored.PaymentStatus)
	require.Equal(t, 9, h.available())

	retry := h.checkout(b.ID)
	require.NotEqual(t, co.PaymentID, retry.PaymentID)
	require.Equal(t, models.BookingPaymentPending, h.booking(b.ID).PaymentStatus)

	_, err = h.gw.Complete(retry.SessionID)
	require.NoError(t, err)
	res, err := h.payments().ConfirmPayment(h.ctx, b.ID, retry.SessionID)
	require.NoError(t, err)
	require.Equal(t, models.BookingPaymentPaid, res.PaymentStatus)
}

func TestReplacedSessionDoesNotFailLiveCheckout(t *testing.T) {
	h := newHarness(t)
	b := h.accepted(1)
	first := h.checkout(b.ID)
	require.NoError(t, h.gw.Expire(first.SessionID))

	second := h.checkout(b.ID)
	require.Equal(t, first.PaymentID, second.PaymentID)
	require.NotEqual(t, first.SessionID, second.SessionID)

	_, err := h.payments().ConfirmPayment(h.ctx, b.ID, first.SessionID)
	require.True(t, domain.HasCode(err, domain.CodePaymentNotCompleted), "got %v", err)
	p := h.payment(second.PaymentID)
	require.Equal(t, models.PaymentPending, p.Status)
	require.Equal(t, second.SessionID, p.SessionID)
	require.Equal(t, models.BookingPaymentPending, h.booking(b.ID).PaymentStatus)

	_, err = h.gw.Complete(second.SessionID)
	require.NoError(t, err)
	res, err := h.payments().ConfirmPayment(h.ctx, b.ID, second.SessionID)
	require.NoError(t, err)
	require.Equal(t, models.BookingPaymentPaid, res.PaymentStatus)
	require.Equal(t, models.PaymentCompleted, h.payment(second.PaymentID).Status)
	require.Equal(t, 1, h.rec.Count(events.PaymentConfirmed))
}

func TestRefundRestoresInventory(t *testing.T) {
	h := newHarness(t)
	b, co := h.paid(3)
	require.Equal(t, 7, h.available())

	res, err := h.payments().RequestRefund(h.ctx, co.PaymentID, h.user, "trip cancelled")
	require.NoError(t, err)
	require.Equal(t, "75.00", res.Amount.StringFixed(2))
	require.Equal(t, string(models.PaymentRefunded), res.Status)
	require.NotEmpty(t, res.RefundID)

	require.Equal(t, harnessRouteQuantity, h.available())
	stored := h.booking(b.ID)
	require.Equal(t, models.BookingCancelled, stored.BookingStatus)
	require.Equal(t, models.BookingPaymentRefunded, stored.PaymentStatus)
	require.Equal(t, models.LifecycleRefunded, stored.Status)
	p := h.payment(co.PaymentID)
	require.Equal(t, models.PaymentRefunded, p.Status)
	require.Equal(t, models.RefundSucceeded, p.Refund.Status)
	require.Equal(t, res.RefundID, p.Refund.ID)

	_, err = h.payments().RequestRefund(h.ctx, co.PaymentID, h.user, "again")
	require.True(t, domain.HasCode(err, domain.CodeAlreadyRefunded), "got %v", err)
	require.Equal(t, harnessRouteQuantity, h.available())
	require.Equal(t, 1, h.rec.Count(events.PaymentRefunded))
}

func TestRefundGuards(t *testing.T) {
	h := newHarness(t)
	b := h.accepted(1)
	co := h.checkout(b.ID)

	_, err := h.payments().RequestRefund(h.ctx, co.PaymentID, h.user, "")
	require.True(t, domain.HasCode(err, domain.CodeNotRefundable), "got %v", err)

	_, paidCo := h.paid(1)
	_, err = h.payments().RequestRefund(h.ctx, paidCo.PaymentID, h.otherUser, "")
	require.True(t, domain.IsNotFound(err), "got %v", err)
	require.Equal(t, models.PaymentCompleted, h.payment(paidCo.PaymentID).Status)
}

func TestRefundRejectsCompletedBooking(t *testing.T) {
	h := newHarness(t)
	b, co := h.paid(2)
	_, err := h.bookings().CompleteBooking(h.ctx, b.ID, h.vendor)
	require.NoError(t, err)
	require.Equal(t, 8, h.available())

	_, err = h.payments().RequestRefund(h.ctx, co.PaymentID, h.user, "changed my mind")
	require.True(t, domain.HasCode(err, domain.CodeNotRefundable), "got %v", err)
	require.Equal(t, 0, h.gw.Calls(gateway.OpRefund))
	require.Equal(t, 8, h.available())
	stored := h.booking(b.ID)
	require.Equal(t, models.BookingCompleted, stored.BookingStatus)
	require.Equal(t, models.BookingPaymentPaid, stored.PaymentStatus)
	p := h.payment(co.PaymentID)
	require.Equal(t, models.PaymentCompleted, p.Status)
	require.True(t, p.CanRefund(), "refund sub-record must stay untouched")
}

func TestRefundGatewayFailureCanBeRetried(t *testing.T) {
	h := newHarness(t)
	b, co := h.paid(2)

	h.gw.FailNext(gateway.OpRefund, errors.New("timeout"))
	_, err := h.payments().RequestRefund(h.ctx, co.PaymentID, h.user, "")
	require.True(t, domain.IsUpstream(err), "got %v", err)
	p := h.payment(co.PaymentID)
	require.Equal(t, models.PaymentCompleted, p.Status)
	require.Equal(t, models.RefundFailed, p.Refund.Status)
	require.Equal(t, 8, h.available())
	require.True(t, h.booking(b.ID).Paid())

	h.gw.FailNext(gateway.OpRefund, nil)
	_, err = h.payments().RequestRefund(h.ctx, co.PaymentID, h.user, "")
	require.NoError(t, err)
	require.Equal(t, 2, h.gw.Calls(gateway.OpRefund))
	require.Equal(t, harnessRouteQuantity, h.available())
}

func TestCancelPaidBookingRefunds(t *testing.T) {
	h := newHarness(t)
	b, co := h.paid(2)

	cancelled, err := h.bookings().CancelOrRefund(h.ctx, b.ID, h.user, "sick")
	require.NoError(t, err)
	require.Equal(t, models.BookingCancelled, cancelled.BookingStatus)
	require.Equal(t, models.BookingPaymentRefunded, cancelled.PaymentStatus)
	require.Equal(t, models.PaymentRefunded, h.payment(co.PaymentID).Status)
	require.Equal(t, harnessRouteQuantity, h.available())
}

func TestWebhookCompletesPayment(t *testing.T) {
	h := newHarness(t)
	b := h.accepted(1)
	co := h.checkout(b.ID)
	_, err := h.gw.Complete(co.SessionID)
	require.NoError(t, err)

	payload, sig := h.webhook("evt_1", string(gateway.EventCheckoutCompleted), func(ev *gateway.MockEvent) {
		ev.Data.SessionID = co.SessionID
	})
	res, err := h.payments().HandleWebhook(h.ctx, payload, sig)
	require.NoError(t, err)
	require.True(t, res.Handled)
	require.True(t, h.booking(b.ID).Paid())

	// redelivery is acknowledged without a second confirmation
	res, err = h.payments().HandleWebhook(h.ctx, payload, sig)
	require.NoError(t, err)
	require.True(t, res.Handled)
	require.Equal(t, 1, h.rec.Count(events.PaymentConfirmed))
}

func TestWebhookExpiredSession(t *testing.T) {
	h := newHarness(t)
	b := h.accepted(1)
	co := h.checkout(b.ID)
	require.NoError(t, h.gw.Expire(co.SessionID))

	payload, sig := h.webhook("evt_2", string(gateway.EventCheckoutExpired), func(ev *gateway.MockEvent) {
		ev.Data.SessionID = co.SessionID
	})
	res, err := h.payments().HandleWebhook(h.ctx, payload, sig)
	require.NoError(t, err)
	require.True(t, res.Handled)
	require.Equal(t, models.PaymentFailed, h.payment(co.PaymentID).Status)
	require.Equal(t, models.BookingPaymentFailed, h.booking(b.ID).PaymentStatus)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	payload, _ := h.webhook("evt_3", string(gateway.EventCheckoutCompleted), nil)

	_, err := h.payments().HandleWebhook(h.ctx, payload, "deadbeef")
	require.True(t, domain.HasCode(err, "invalid_signature"), "got %v", err)
}

func TestWebhookIgnoresUnknownEvents(t *testing.T) {
	h := newHarness(t)
	payload, sig := h.webhook("evt_4", "customer.created", nil)

	res, err := h.payments().HandleWebhook(h.ctx, payload, sig)
	require.NoError(t, err)
	require.False(t, res.Handled)
	require.Equal(t, string(gateway.EventIgnored), res.Kind)
}

func TestDisputeBlocksRefundUntilWon(t *testing.T) {
	h := newHarness(t)
	_, co := h.paid(1)
	intent := h.payment(co.PaymentID).IntentID

	payload, sig := h.webhook("evt_5", string(gateway.EventDisputeOpened), func(ev *gateway.MockEvent) {
		ev.Data.IntentID = intent
		ev.Data.DisputeID = "dp_1"
		ev.Data.Reason = "fraudulent"
	})
	res, err := h.payments().HandleWebhook(h.ctx, payload, sig)
	require.NoError(t, err)
	require.True(t, res.Handled)

	p := h.payment(co.PaymentID)
	require.Equal(t, models.PaymentDisputed, p.Status)
	require.Equal(t, models.DisputeOpen, p.Dispute.Status)

	_, err = h.payments().RequestRefund(h.ctx, co.PaymentID, h.user, "")
	require.True(t, domain.HasCode(err, domain.CodeAlreadyRefunded), "got %v", err)

	payload, sig = h.webhook("evt_6", string(gateway.EventDisputeClosed), func(ev *gateway.MockEvent) {
		ev.Data.DisputeID = "dp_1"
		ev.Data.DisputeStatus = "won"
	})
	_, err = h.payments().HandleWebhook(h.ctx, payload, sig)
	require.NoError(t, err)
	p = h.payment(co.PaymentID)
	require.Equal(t, models.PaymentCompleted, p.Status)
	require.Equal(t, models.DisputeWon, p.Dispute.Status)

	_, err = h.payments().RequestRefund(h.ctx, co.PaymentID, h.user, "")
	require.NoError(t, err)
}

func TestPaymentStatusAndHistory(t *testing.T) {
	h := newHarness(t)
	b, co := h.paid(1)

	st, err := h.payments().GetStatus(h.ctx, b.ID, h.user)
	require.NoError(t, err)
	require.NotNil(t, st.Payment)
	require.Equal(t, co.PaymentID, st.Payment.ID)

	_, err = h.payments().GetStatus(h.ctx, b.ID, h.otherUser)
	require.True(t, domain.IsAuthorization(err))
	_, err = h.payments().GetStatus(h.ctx, b.ID, h.otherVendor)
	require.True(t, domain.IsAuthorization(err))
	st, err = h.payments().GetStatus(h.ctx, b.ID, h.vendor)
	require.NoError(t, err)
	require.Equal(t, models.BookingPaymentPaid, st.Booking.PaymentStatus)

	items, page, err := h.payments().GetHistory(h.ctx, h.user, domain.NewPagination(1, 20))
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 1, page.Total)
}

func TestExportCSV(t *testing.T) {
	h := newHarness(t)
	_, refunded := h.paid(2)
	_, err := h.payments().RequestRefund(h.ctx, refunded.PaymentID, h.user, "")
	require.NoError(t, err)
	h.paid(1)

	var buf bytes.Buffer
	n, err := h.payments().ExportCSV(h.ctx, h.user, &buf)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
	g.Assert(t, "payments_export", buf.Bytes())
}
