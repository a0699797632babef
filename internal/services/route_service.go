package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"ticketbackend/internal/authz"
	"ticketbackend/internal/domain"
	"ticketbackend/internal/domain/models"
	"ticketbackend/internal/repositories"
	"ticketbackend/internal/utils"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

type RouteService struct {
	DB              *sql.DB
	Authz           *authz.Authorizer
	DefaultCurrency string
	Now             func() time.Time
	RequestID       string
}

type CreateRouteInput struct {
	VendorID        int64
	OperatorName    string
	OperatorContact string
	TransportType   string
	Class           string
	FromLocation    string
	ToLocation      string
	DepartureTimes  []string
	ArrivalTime     string
	DurationMinutes int
	Days            string
	BaseFare        *decimal.Decimal
	Price           *decimal.Decimal
	Currency        string
	TotalQuantity   int
	IsAdvertised    bool
}

func (s RouteService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return utils.NowUTC()
}

func (s RouteService) routes() repositories.RouteRepository {
	return repositories.RouteRepository{DB: s.DB}
}

// CreateRoute lists a route for admin review. Vendors always own what they
// create; admins may attach a vendor id or just the operator's details.
func (s RouteService) CreateRoute(ctx context.Context, actor domain.RequestContext, in CreateRouteInput) (models.Route, error) {
	if err := s.Authz.Require(ctx, authz.RouteCreate, actor, authz.Resource{}); err != nil {
		return models.Route{}, err
	}
	route, err := s.buildRoute(actor, in)
	if err != nil {
		return models.Route{}, err
	}
	if id, ok := route.Vendor.ID(); ok {
		if _, err := s.routes().ResolveVendor(ctx, models.VendorByID(id)); err != nil {
			return models.Route{}, err
		}
	}
	if err := s.routes().Create(ctx, &route, s.now()); err != nil {
		return models.Route{}, err
	}
	route.VendorID, _ = route.Vendor.ID()
	utils.LogEvent(s.RequestID, "route", "create",
		fmt.Sprintf("route_id=%d %s->%s qty=%d", route.ID, route.FromLocation, route.ToLocation, route.TotalQuantity))
	return route, nil
}

func (s RouteService) buildRoute(actor domain.RequestContext, in CreateRouteInput) (models.Route, error) {
	r := models.Route{
		OperatorName:    utils.NormalizeSpace(in.OperatorName),
		OperatorContact: strings.TrimSpace(in.OperatorContact),
		TransportType:   strings.ToLower(strings.TrimSpace(in.TransportType)),
		Class:           strings.TrimSpace(in.Class),
		FromLocation:    utils.NormalizeSpace(in.FromLocation),
		ToLocation:      utils.NormalizeSpace(in.ToLocation),
		ArrivalTime:     strings.TrimSpace(in.ArrivalTime),
		DurationMinutes: in.DurationMinutes,
		Days:            strings.TrimSpace(in.Days),
		Currency:        strings.ToUpper(strings.TrimSpace(in.Currency)),
		TotalQuantity:   in.TotalQuantity,
		IsAdvertised:    in.IsAdvertised,
	}
	switch {
	case r.FromLocation == "" || r.ToLocation == "":
		return r, domain.ValidationError{Field: "fromLocation", Msg: "fromLocation and toLocation are required"}
	case strings.EqualFold(r.FromLocation, r.ToLocation):
		return r, domain.ValidationError{Field: "toLocation", Msg: "must differ from fromLocation"}
	case !models.ValidTransportType(r.TransportType):
		return r, domain.ValidationError{Field: "transportType", Msg: "unsupported transport type"}
	case r.TotalQuantity <= 0:
		return r, domain.ValidationError{Field: "totalQuantity", Msg: "must be positive"}
	case in.DurationMinutes < 0:
		return r, domain.ValidationError{Field: "durationMinutes", Msg: "must not be negative"}
	}

	for _, t := range in.DepartureTimes {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, _, err := utils.ParseClock(t); err != nil {
			return r, domain.ValidationError{Field: "departureTimes", Msg: fmt.Sprintf("invalid time %q, want HH:MM", t)}
		}
		r.DepartureTimes = append(r.DepartureTimes, t)
	}
	if r.ArrivalTime != "" {
		if _, _, err := utils.ParseClock(r.ArrivalTime); err != nil {
			return r, domain.ValidationError{Field: "arrivalTime", Msg: "want HH:MM"}
		}
	}

	var err error
	if r.BaseFare, err = fareField("baseFare", in.BaseFare); err != nil {
		return r, err
	}
	if r.Price, err = fareField("price", in.Price); err != nil {
		return r, err
	}

	if r.Currency == "" {
		r.Currency = s.DefaultCurrency
	}
	if _, err := currency.ParseISO(r.Currency); err != nil {
		return r, domain.ValidationError{Field: "currency", Msg: "unknown currency code"}
	}

	if actor.IsVendor() {
		r.Vendor = models.VendorByID(actor.UserID)
		return r, nil
	}
	if in.VendorID > 0 {
		r.Vendor = models.VendorByID(in.VendorID)
		return r, nil
	}
	r.Vendor = models.EmbeddedVendor(r.OperatorName, r.OperatorContact)
	if r.Vendor.IsZero() {
		return r, domain.ValidationError{Field: "operatorName", Msg: "vendorId or operator details are required"}
	}
	return r, nil
}

func fareField(field string, v *decimal.Decimal) (decimal.NullDecimal, error) {
	if v == nil {
		return decimal.NullDecimal{}, nil
	}
	if v.IsNegative() {
		return decimal.NullDecimal{}, domain.ValidationError{Field: field, Msg: "must not be negative"}
	}
	return decimal.NullDecimal{Decimal: *v, Valid: true}, nil
}

func (s RouteService) GetRoute(ctx context.Context, id int64) (models.Route, error) {
	return s.routes().GetByID(ctx, id)
}

// VerifyRoute records the admin decision; only approved routes are bookable.
func (s RouteService) VerifyRoute(ctx context.Context, actor domain.RequestContext, id int64, status models.VerificationStatus) (models.Route, error) {
	if err := s.Authz.Require(ctx, authz.RouteVerify, actor, authz.Resource{}); err != nil {
		return models.Route{}, err
	}
	if !status.Valid() {
		return models.Route{}, domain.ValidationError{Field: "status", Msg: "must be pending, approved or rejected"}
	}
	if err := s.routes().UpdateVerification(ctx, id, status, s.now()); err != nil {
		return models.Route{}, err
	}
	utils.LogEvent(s.RequestID, "route", "verify", fmt.Sprintf("route_id=%d status=%s", id, status))
	return s.routes().GetByID(ctx, id)
}
