package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationApproved VerificationStatus = "approved"
	VerificationRejected VerificationStatus = "rejected"
)

func (s VerificationStatus) Valid() bool {
	switch s {
	case VerificationPending, VerificationApproved, VerificationRejected:
		return true
	}
	return false
}

// VendorRef identifies who owns a route. A route either points at a vendor
// user directly or carries only the operator's name/contact as entered by
// the vendor; the latter is matched to a vendor account when resolved.
type VendorRef struct {
	id      int64
	name    string
	contact string
}

func VendorByID(id int64) VendorRef { return VendorRef{id: id} }

func EmbeddedVendor(name, contact string) VendorRef {
	return VendorRef{name: strings.TrimSpace(name), contact: strings.TrimSpace(contact)}
}

// ID returns the vendor user id and true for a ById reference.
func (v VendorRef) ID() (int64, bool) { return v.id, v.id > 0 }

// Embedded returns the operator name/contact for an embedded reference.
func (v VendorRef) Embedded() (name, contact string, ok bool) {
	if v.id > 0 {
		return "", "", false
	}
	return v.name, v.contact, v.name != "" || v.contact != ""
}

func (v VendorRef) IsZero() bool { return v.id <= 0 && v.name == "" && v.contact == "" }

type Route struct {
	ID                 int64               `json:"id"`
	Vendor             VendorRef           `json:"-"`
	VendorID           int64               `json:"vendorId,omitempty"`
	OperatorName       string              `json:"operatorName"`
	OperatorContact    string              `json:"operatorContact,omitempty"`
	TransportType      string              `json:"transportType"`
	Class              string              `json:"class,omitempty"`
	FromLocation       string              `json:"fromLocation"`
	ToLocation         string              `json:"toLocation"`
	DepartureTimes     []string            `json:"departureTimes"`
	ArrivalTime        string              `json:"arrivalTime,omitempty"`
	DurationMinutes    int                 `json:"durationMinutes,omitempty"`
	Days               string              `json:"days,omitempty"`
	BaseFare           decimal.NullDecimal `json:"baseFare"`
	Price              decimal.NullDecimal `json:"price"`
	Currency           string              `json:"currency"`
	TotalQuantity      int                 `json:"totalQuantity"`
	AvailableQuantity  int                 `json:"availableQuantity"`
	VerificationStatus VerificationStatus  `json:"verificationStatus"`
	IsAdvertised       bool                `json:"isAdvertised"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

var transportTypes = map[string]bool{
	"bus": true, "train": true, "flight": true, "launch": true, "ferry": true,
}

func ValidTransportType(t string) bool {
	return transportTypes[strings.ToLower(strings.TrimSpace(t))]
}

// FirstDepartureTime returns the earliest listed "HH:MM" departure, or "".
func (r Route) FirstDepartureTime() string {
	for _, t := range r.DepartureTimes {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	return ""
}

// Approved reports whether an admin cleared the route for sale.
func (r Route) Approved() bool { return r.VerificationStatus == VerificationApproved }

// Fare walks the pricing fields; ok is false when the placeholder was used.
func (r Route) Fare(placeholder decimal.Decimal) (fare decimal.Decimal, ok bool) {
	if r.BaseFare.Valid && r.BaseFare.Decimal.IsPositive() {
		return r.BaseFare.Decimal, true
	}
	if r.Price.Valid && r.Price.Decimal.IsPositive() {
		return r.Price.Decimal, true
	}
	return placeholder, false
}

// SplitDepartureTimes parses the stored comma list.
func SplitDepartureTimes(raw string) []string {
	out := []string{}
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func JoinDepartureTimes(times []string) string {
	clean := make([]string, 0, len(times))
	for _, t := range times {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	return strings.Join(clean, ",")
}
