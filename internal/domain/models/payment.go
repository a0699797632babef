package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCancelled  PaymentStatus = "cancelled"
	PaymentRefunded   PaymentStatus = "refunded"
	PaymentDisputed   PaymentStatus = "disputed"
)

func (s PaymentStatus) IsCompleted() bool { return s == PaymentCompleted }

// Frozen statuses only change through dispute resolution.
func (s PaymentStatus) Frozen() bool { return s == PaymentRefunded || s == PaymentDisputed }

const (
	RefundRequested = "requested"
	RefundSucceeded = "succeeded"
	RefundFailed    = "failed"
)

const (
	DisputeOpen = "open"
	DisputeWon  = "won"
	DisputeLost = "lost"
)

type RefundRecord struct {
	ID          string              `json:"refundId,omitempty"`
	Amount      decimal.NullDecimal `json:"amount"`
	Status      string              `json:"status,omitempty"`
	Reason      string              `json:"reason,omitempty"`
	RequestedAt *time.Time          `json:"requestedAt,omitempty"`
	RefundedAt  *time.Time          `json:"refundedAt,omitempty"`
}

type DisputeRecord struct {
	ID       string     `json:"disputeId,omitempty"`
	Status   string     `json:"status,omitempty"`
	Reason   string     `json:"reason,omitempty"`
	OpenedAt *time.Time `json:"openedAt,omitempty"`
	ClosedAt *time.Time `json:"closedAt,omitempty"`
}

// PaymentAttempt is one checkout or verification round trip with the gateway.
type PaymentAttempt struct {
	At        time.Time `json:"at"`
	Action    string    `json:"action"`
	SessionID string    `json:"sessionId,omitempty"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
}

// Attempts is stored as a JSON column.
type Attempts []PaymentAttempt

func (a Attempts) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *Attempts) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("attempts: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*a = nil
		return nil
	}
	return json.Unmarshal(raw, a)
}

type Fees struct {
	Processing decimal.Decimal `json:"processingFee"`
	Gateway    decimal.Decimal `json:"gatewayFee"`
	Platform   decimal.Decimal `json:"platformFee"`
	Total      decimal.Decimal `json:"totalFees"`
}

// FeeSchedule turns a charge amount into the fee breakdown. Percentages are
// expressed as numbers like 2.9 for 2.9%.
type FeeSchedule struct {
	PlatformPercent decimal.Decimal
	GatewayPercent  decimal.Decimal
	GatewayFixed    decimal.Decimal
	ProcessingFixed decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

func (s FeeSchedule) Compute(amount decimal.Decimal, scale int32) Fees {
	f := Fees{
		Processing: s.ProcessingFixed.Round(scale),
		Gateway:    amount.Mul(s.GatewayPercent).Div(hundred).Add(s.GatewayFixed).Round(scale),
		Platform:   amount.Mul(s.PlatformPercent).Div(hundred).Round(scale),
	}
	f.Total = f.Processing.Add(f.Gateway).Add(f.Platform)
	return f
}

type Payment struct {
	ID                int64               `json:"id"`
	BookingID         int64               `json:"bookingId"`
	UserID            int64               `json:"userId"`
	Amount            decimal.Decimal     `json:"amount"`
	Currency          string              `json:"currency"`
	Status            PaymentStatus       `json:"status"`
	SessionID         string              `json:"sessionId,omitempty"`
	SessionURL        string              `json:"sessionUrl,omitempty"`
	IntentID          string              `json:"intentId,omitempty"`
	TransactionID     string              `json:"transactionId,omitempty"`
	Fees              Fees                `json:"fees"`
	VendorPayout      decimal.NullDecimal `json:"vendorPayout"`
	VendorPayoutSetAt *time.Time          `json:"vendorPayoutSetAt,omitempty"`
	Refund            RefundRecord        `json:"refund"`
	Dispute           DisputeRecord       `json:"dispute"`
	Attempts          Attempts            `json:"attempts"`
	FailureReason     string              `json:"failureReason,omitempty"`
	CompletedAt       *time.Time          `json:"completedAt,omitempty"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

// RecomputeFees keeps Total equal to the sum of its parts.
func (p *Payment) RecomputeFees() {
	p.Fees.Total = p.Fees.Processing.Add(p.Fees.Gateway).Add(p.Fees.Platform)
}

// Payout is what the vendor receives once the payment completes.
func (p Payment) Payout() decimal.Decimal {
	return p.Amount.Sub(p.Fees.Processing.Add(p.Fees.Gateway).Add(p.Fees.Platform))
}

func (p Payment) DisputeOpen() bool { return p.Dispute.Status == DisputeOpen }

// RefundDone is true when money already went back or a chargeback is open.
func (p Payment) RefundDone() bool {
	return p.Status == PaymentRefunded || p.Refund.Status == RefundSucceeded || p.DisputeOpen()
}

func (p Payment) CanRefund() bool {
	return p.Status == PaymentCompleted && !p.RefundDone()
}
