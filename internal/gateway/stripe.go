package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeGateway talks to Stripe Checkout. It is built explicitly from
// config; there is no package-level key.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

func NewStripeGateway(secretKey, webhookSecret string) (*StripeGateway, error) {
	if secretKey == "" || webhookSecret == "" {
		return nil, fmt.Errorf("stripe gateway: secret key and webhook secret are required")
	}
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{api: api, webhookSecret: webhookSecret}, nil
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	name := req.Description
	if name == "" {
		name = "Booking " + req.BookingReference
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(strconv.FormatInt(req.BookingID, 10)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.AmountMinor),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: req.Metadata(),
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata() {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe create session: %w", err)
	}
	return fromStripeSession(s), nil
}

func (g *StripeGateway) RetrieveSession(ctx context.Context, sessionID string) (CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	s, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		if se, ok := err.(*stripe.Error); ok && se.HTTPStatusCode == 404 {
			return CheckoutSession{}, ErrSessionNotFound
		}
		return CheckoutSession{}, fmt.Errorf("stripe retrieve session: %w", err)
	}
	return fromStripeSession(s), nil
}

func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (Refund, error) {
	intentID := req.IntentID
	if intentID == "" && req.SessionID != "" {
		s, err := g.RetrieveSession(ctx, req.SessionID)
		if err != nil {
			return Refund{}, err
		}
		intentID = s.IntentID
	}
	if intentID == "" {
		return Refund{}, fmt.Errorf("stripe refund: payment %d has no payment intent", req.PaymentID)
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(req.AmountMinor),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.AddMetadata(MetaPaymentID, strconv.FormatInt(req.PaymentID, 10))
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return Refund{}, fmt.Errorf("stripe refund: %w", err)
	}
	if r.Status == stripe.RefundStatusFailed || r.Status == stripe.RefundStatusCanceled {
		return Refund{}, fmt.Errorf("stripe refund %s ended %s", r.ID, r.Status)
	}
	return Refund{ID: r.ID, Status: string(r.Status), AmountMinor: r.Amount}, nil
}

func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	ev, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := WebhookEvent{ID: ev.ID, RawType: string(ev.Type), Kind: EventIgnored}
	switch string(ev.Type) {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded",
		"checkout.session.expired", "checkout.session.async_payment_failed":
		var s stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return WebhookEvent{}, fmt.Errorf("decode checkout session: %w", err)
		}
		cs := fromStripeSession(&s)
		out.SessionID = cs.ID
		out.IntentID = cs.IntentID
		out.BookingID, _ = cs.BookingID()
		if strings.HasSuffix(string(ev.Type), "expired") || strings.HasSuffix(string(ev.Type), "failed") {
			out.Kind = EventCheckoutExpired
		} else {
			out.Kind = EventCheckoutCompleted
		}
	case "charge.dispute.created", "charge.dispute.closed":
		var d stripe.Dispute
		if err := json.Unmarshal(ev.Data.Raw, &d); err != nil {
			return WebhookEvent{}, fmt.Errorf("decode dispute: %w", err)
		}
		out.DisputeID = d.ID
		out.DisputeReason = string(d.Reason)
		if d.PaymentIntent != nil {
			out.IntentID = d.PaymentIntent.ID
		}
		if ev.Type == "charge.dispute.created" {
			out.Kind = EventDisputeOpened
		} else {
			out.Kind = EventDisputeClosed
			out.DisputeStatus = string(d.Status)
		}
	}
	return out, nil
}

func fromStripeSession(s *stripe.CheckoutSession) CheckoutSession {
	out := CheckoutSession{
		ID:          s.ID,
		URL:         s.URL,
		Status:      string(s.Status),
		Paid:        s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		AmountMinor: s.AmountTotal,
		Currency:    strings.ToUpper(string(s.Currency)),
		Metadata:    s.Metadata,
	}
	if s.PaymentIntent != nil {
		out.IntentID = s.PaymentIntent.ID
	}
	return out
}
