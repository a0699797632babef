package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RefGenerator produces booking references and ticket numbers. Values are
// random; the UNIQUE constraints in storage catch the rare collision.
type RefGenerator interface {
	BookingReference(now time.Time) string
	TicketNumber(routeID int64, passengerIndex int) string
}

type UUIDRefs struct{}

// BookingReference renders BK<YYMM>-<8 hex>.
func (UUIDRefs) BookingReference(now time.Time) string {
	return fmt.Sprintf("BK%s-%s", now.UTC().Format("0601"), strings.ToUpper(randomHex(8)))
}

// TicketNumber renders TK-<route 6 digits>-<index 2 digits>-<6 hex>.
func (UUIDRefs) TicketNumber(routeID int64, passengerIndex int) string {
	return fmt.Sprintf("TK-%06d-%02d-%s", routeID%1_000_000, passengerIndex, strings.ToUpper(randomHex(6)))
}

func randomHex(n int) string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:n]
}

// NewRequestID returns a fresh id for request tracing and idempotency keys.
func NewRequestID() string {
	return uuid.NewString()
}
