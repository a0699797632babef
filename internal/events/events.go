// Package events is the boundary to realtime delivery. Services publish
// lifecycle events after their transaction commits; transport is external.
package events

import (
	"context"
	"strconv"
	"sync"
	"time"

	"ticketbackend/internal/utils"

	"github.com/sirupsen/logrus"
)

type Kind string

const (
	BookingCreated   Kind = "booking-created"
	BookingAccepted  Kind = "booking-accepted"
	BookingRejected  Kind = "booking-rejected"
	BookingCancelled Kind = "booking-cancelled"
	BookingCompleted Kind = "booking-completed"
	PaymentConfirmed Kind = "payment-confirmed"
	PaymentReceived  Kind = "payment-received"
	PaymentRefunded  Kind = "payment-refunded"
)

type Event struct {
	Kind             Kind           `json:"kind"`
	Topic            string         `json:"topic"`
	BookingID        int64          `json:"bookingId"`
	BookingReference string         `json:"bookingReference"`
	Fields           map[string]any `json:"fields,omitempty"`
	At               time.Time      `json:"at"`
}

func BookingTopic(id int64) string { return "booking:" + strconv.FormatInt(id, 10) }
func VendorTopic(id int64) string  { return "vendor:" + strconv.FormatInt(id, 10) }
func UserTopic(id int64) string    { return "user:" + strconv.FormatInt(id, 10) }

type Notifier interface {
	Publish(ctx context.Context, ev Event) error
}

// LogNotifier writes events to the structured log; a delivery service can
// tail them.
type LogNotifier struct {
	Logger *logrus.Logger
}

func (n LogNotifier) Publish(_ context.Context, ev Event) error {
	l := n.Logger
	if l == nil {
		l = utils.Logger
	}
	fields := logrus.Fields{
		"module":            "events",
		"kind":              string(ev.Kind),
		"topic":             ev.Topic,
		"booking_id":        ev.BookingID,
		"booking_reference": ev.BookingReference,
	}
	for k, v := range ev.Fields {
		fields["field_"+k] = v
	}
	l.WithFields(fields).Info("event published")
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// Multi fans an event out to several notifiers and returns the first error.
type Multi []Notifier

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, n := range m {
		if err := n.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
