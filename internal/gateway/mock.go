package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MockGateway is an in-process gateway for local runs and tests. Sessions
// stay open until Complete or Expire is called. Calls with a repeated
// idempotency key return the first result.
type MockGateway struct {
	mu       sync.Mutex
	secret   string
	baseURL  string
	sessions map[string]*CheckoutSession
	byKey    map[string]string
	refunds  map[string]Refund
	failures map[string]error
	calls    map[string]int
}

func NewMockGateway(webhookSecret, baseURL string) *MockGateway {
	return &MockGateway{
		secret:   webhookSecret,
		baseURL:  strings.TrimRight(baseURL, "/"),
		sessions: map[string]*CheckoutSession{},
		byKey:    map[string]string{},
		refunds:  map[string]Refund{},
		failures: map[string]error{},
		calls:    map[string]int{},
	}
}

func (m *MockGateway) Name() string { return "mock" }

// Mock operation names for FailNext and Calls.
const (
	OpCheckout = "checkout"
	OpRetrieve = "retrieve"
	OpRefund   = "refund"
)

// FailNext makes every call to op fail with err until cleared with nil.
func (m *MockGateway) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls reports how many times op reached the gateway.
func (m *MockGateway) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MockGateway) enter(ctx context.Context, op string) error {
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.failures[op]
}

func (m *MockGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpCheckout); err != nil {
		return CheckoutSession{}, err
	}
	if req.AmountMinor <= 0 {
		return CheckoutSession{}, fmt.Errorf("mock checkout: amount must be positive")
	}
	if id, ok := m.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return *m.sessions[id], nil
	}

	id := "cs_mock_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s := &CheckoutSession{
		ID:          id,
		URL:         m.baseURL + "/" + id,
		Status:      SessionOpen,
		AmountMinor: req.AmountMinor,
		Currency:    strings.ToUpper(req.Currency),
		Metadata:    req.Metadata(),
	}
	m.sessions[id] = s
	if req.IdempotencyKey != "" {
		m.byKey[req.IdempotencyKey] = id
	}
	return *s, nil
}

func (m *MockGateway) RetrieveSession(ctx context.Context, sessionID string) (CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpRetrieve); err != nil {
		return CheckoutSession{}, err
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return CheckoutSession{}, ErrSessionNotFound
	}
	return *s, nil
}

// Complete simulates the customer paying on the hosted page.
func (m *MockGateway) Complete(sessionID string) (CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return CheckoutSession{}, ErrSessionNotFound
	}
	if s.Status == SessionExpired {
		return CheckoutSession{}, fmt.Errorf("mock session %s expired", sessionID)
	}
	s.Status = SessionComplete
	s.Paid = true
	if s.IntentID == "" {
		s.IntentID = "pi_mock_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	}
	return *s, nil
}

// Expire simulates the hosted page timing out unpaid.
func (m *MockGateway) Expire(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Paid {
		return fmt.Errorf("mock session %s already paid", sessionID)
	}
	s.Status = SessionExpired
	return nil
}

func (m *MockGateway) Refund(ctx context.Context, req RefundRequest) (Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpRefund); err != nil {
		return Refund{}, err
	}
	if r, ok := m.refunds[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return r, nil
	}
	r := Refund{
		ID:          "re_mock_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		Status:      "succeeded",
		AmountMinor: req.AmountMinor,
	}
	if req.IdempotencyKey != "" {
		m.refunds[req.IdempotencyKey] = r
	}
	return r, nil
}

// MockEvent is the JSON body the mock gateway posts to the webhook endpoint.
type MockEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		SessionID     string `json:"session_id,omitempty"`
		IntentID      string `json:"intent_id,omitempty"`
		DisputeID     string `json:"dispute_id,omitempty"`
		DisputeStatus string `json:"dispute_status,omitempty"`
		Reason        string `json:"reason,omitempty"`
	} `json:"data"`
}

// Sign returns the signature header value for payload.
func (m *MockGateway) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(m.secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (m *MockGateway) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	want := m.Sign(payload)
	if !hmac.Equal([]byte(want), []byte(strings.TrimSpace(signature))) {
		return WebhookEvent{}, ErrInvalidSignature
	}
	var ev MockEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode mock event: %w", err)
	}

	out := WebhookEvent{
		ID:            ev.ID,
		RawType:       ev.Type,
		Kind:          EventKind(ev.Type),
		SessionID:     ev.Data.SessionID,
		IntentID:      ev.Data.IntentID,
		DisputeID:     ev.Data.DisputeID,
		DisputeStatus: ev.Data.DisputeStatus,
		DisputeReason: ev.Data.Reason,
	}
	switch out.Kind {
	case EventCheckoutCompleted, EventCheckoutExpired, EventDisputeOpened, EventDisputeClosed:
	default:
		out.Kind = EventIgnored
	}

	if out.SessionID != "" {
		m.mu.Lock()
		if s, ok := m.sessions[out.SessionID]; ok {
			out.BookingID, _ = s.BookingID()
			if out.IntentID == "" {
				out.IntentID = s.IntentID
			}
		}
		m.mu.Unlock()
	}
	return out, nil
}
