package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingStateMatrix(t *testing.T) {
	valid := map[BookingStatus][]BookingPaymentStatus{
		BookingPending:   {BookingPaymentPending},
		BookingAccepted:  {BookingPaymentPending, BookingPaymentFailed, BookingPaymentPaid},
		BookingRejected:  {BookingPaymentCancelled},
		BookingCompleted: {BookingPaymentPaid},
		BookingCancelled: {BookingPaymentCancelled, BookingPaymentRefunded},
	}
	allPayment := []BookingPaymentStatus{
		BookingPaymentPending, BookingPaymentPaid, BookingPaymentFailed, BookingPaymentCancelled, BookingPaymentRefunded,
	}
	for b, ok := range valid {
		for _, p := range allPayment {
			want := false
			for _, v := range ok {
				if v == p {
					want = true
				}
			}
			err := ValidateBookingState(b, p)
			assert.Equal(t, want, err == nil, "%s/%s", b, p)
		}
	}
	assert.Error(t, ValidateBookingState("shipped", BookingPaymentPaid))
}

func TestDeriveLifecycle(t *testing.T) {
	cases := []struct {
		b    BookingStatus
		p    BookingPaymentStatus
		want LifecycleStatus
	}{
		{BookingPending, BookingPaymentPending, LifecyclePending},
		{BookingAccepted, BookingPaymentPending, LifecyclePending},
		{BookingAccepted, BookingPaymentFailed, LifecyclePending},
		{BookingAccepted, BookingPaymentPaid, LifecycleConfirmed},
		{BookingRejected, BookingPaymentCancelled, LifecycleCancelled},
		{BookingCompleted, BookingPaymentPaid, LifecycleCompleted},
		{BookingCancelled, BookingPaymentCancelled, LifecycleCancelled},
		{BookingCancelled, BookingPaymentRefunded, LifecycleRefunded},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DeriveLifecycle(tc.b, tc.p), "%s/%s", tc.b, tc.p)
	}
}

func TestFeeScheduleCompute(t *testing.T) {
	fs := FeeSchedule{
		PlatformPercent: decimal.RequireFromString("5"),
		GatewayPercent:  decimal.RequireFromString("2.9"),
		GatewayFixed:    decimal.RequireFromString("0.30"),
	}
	f := fs.Compute(decimal.RequireFromString("50.00"), 2)
	assert.Equal(t, "2.50", f.Platform.StringFixed(2))
	assert.Equal(t, "1.75", f.Gateway.StringFixed(2))
	assert.True(t, f.Processing.IsZero())
	assert.Equal(t, "4.25", f.Total.StringFixed(2))

	yen := fs.Compute(decimal.RequireFromString("1000"), 0)
	assert.Equal(t, "50", yen.Platform.String())
	assert.Equal(t, "29", yen.Gateway.String())
}

func TestPaymentRefundFlags(t *testing.T) {
	p := Payment{Status: PaymentCompleted, Amount: decimal.RequireFromString("20")}
	assert.True(t, p.CanRefund())

	p.Dispute.Status = DisputeOpen
	assert.True(t, p.RefundDone())
	assert.False(t, p.CanRefund())

	p.Dispute.Status = DisputeWon
	p.Refund.Status = RefundFailed
	assert.True(t, p.CanRefund())

	p.Status = PaymentRefunded
	assert.True(t, p.Status.Frozen())
	assert.False(t, p.CanRefund())
}

func TestAttemptsColumn(t *testing.T) {
	v, err := Attempts(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	var a Attempts
	require.NoError(t, a.Scan([]byte(`[{"action":"checkout","outcome":"created","sessionId":"cs_1"}]`)))
	require.Len(t, a, 1)
	assert.Equal(t, "cs_1", a[0].SessionID)

	require.NoError(t, a.Scan(nil))
	assert.Nil(t, a)
	assert.Error(t, a.Scan(42))
}

func TestRouteFare(t *testing.T) {
	placeholder := decimal.RequireFromString("100")

	r := Route{Price: decimal.NewNullDecimal(decimal.RequireFromString("12.50"))}
	fare, ok := r.Fare(placeholder)
	assert.True(t, ok)
	assert.Equal(t, "12.5", fare.String())

	r.BaseFare = decimal.NewNullDecimal(decimal.RequireFromString("9"))
	fare, _ = r.Fare(placeholder)
	assert.Equal(t, "9", fare.String())

	fare, ok = Route{BaseFare: decimal.NewNullDecimal(decimal.Zero)}.Fare(placeholder)
	assert.False(t, ok)
	assert.True(t, fare.Equal(placeholder))
}

func TestVendorRef(t *testing.T) {
	id, ok := VendorByID(7).ID()
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)

	name, contact, ok := EmbeddedVendor(" Coastline ", "").Embedded()
	assert.True(t, ok)
	assert.Equal(t, "Coastline", name)
	assert.Empty(t, contact)

	assert.True(t, VendorRef{}.IsZero())
	_, _, ok = VendorByID(3).Embedded()
	assert.False(t, ok)
}

func TestDepartureTimesList(t *testing.T) {
	times := SplitDepartureTimes(" 09:00, ,15:30 ")
	assert.Equal(t, []string{"09:00", "15:30"}, times)
	assert.Equal(t, "09:00,15:30", JoinDepartureTimes([]string{"09:00", " ", "15:30"}))
	assert.Equal(t, "09:00", Route{DepartureTimes: []string{"", "09:00"}}.FirstDepartureTime())
}
