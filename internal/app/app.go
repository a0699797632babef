// Package app builds the long-lived dependencies once and hands out
// request-scoped services.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"ticketbackend/internal/auth"
	"ticketbackend/internal/authz"
	"ticketbackend/internal/config"
	"ticketbackend/internal/events"
	"ticketbackend/internal/gateway"
	"ticketbackend/internal/services"
	"ticketbackend/internal/utils"

	"github.com/shopspring/decimal"
)

type App struct {
	Config   config.Config
	DB       *sql.DB
	Gateway  gateway.Gateway
	Authz    *authz.Authorizer
	Notifier events.Notifier
	Tokens   auth.Tokens
	Now      func() time.Time
	Refs     utils.RefGenerator

	payments        services.PaymentService
	placeholderFare decimal.Decimal
	location        *time.Location
}

// NewGateway constructs the configured payment gateway. There is no implicit
// fallback: an unknown name or missing credentials fail startup.
func NewGateway(cfg config.Payments) (gateway.Gateway, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Gateway)) {
	case config.GatewayStripe:
		return gateway.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	case config.GatewayMock:
		return gateway.NewMockGateway(cfg.MockWebhookSecret, cfg.MockCheckoutURL), nil
	default:
		return nil, fmt.Errorf("unknown payment gateway %q", cfg.Gateway)
	}
}

// New wires the application. gw may be nil, in which case it is built from
// cfg.Payments.
func New(ctx context.Context, cfg config.Config, conn *sql.DB, gw gateway.Gateway, notifier events.Notifier) (*App, error) {
	if conn == nil {
		return nil, fmt.Errorf("app: database is required")
	}
	var err error
	if gw == nil {
		if gw, err = NewGateway(cfg.Payments); err != nil {
			return nil, err
		}
	}
	if notifier == nil {
		notifier = events.LogNotifier{Logger: utils.Logger}
	}
	az, err := authz.New(ctx)
	if err != nil {
		return nil, err
	}
	fare, err := cfg.Booking.PlaceholderFareAmount()
	if err != nil {
		return nil, fmt.Errorf("placeholder fare: %w", err)
	}
	loc, err := cfg.Booking.Location()
	if err != nil {
		return nil, fmt.Errorf("booking timezone: %w", err)
	}
	payments, err := services.NewPaymentService(conn, gw, cfg.Payments, az, notifier)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:          cfg,
		DB:              conn,
		Gateway:         gw,
		Authz:           az,
		Notifier:        notifier,
		Tokens:          auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Refs:            utils.UUIDRefs{},
		payments:        payments,
		placeholderFare: fare,
		location:        loc,
	}
	utils.Log("", "app").WithField("gateway", gw.Name()).WithField("driver", cfg.Database.Driver).Info("application wired")
	return a, nil
}

func (a *App) ledger() services.InventoryLedger {
	return services.InventoryLedger{Now: a.Now}
}

func (a *App) Payments(requestID string) services.PaymentService {
	s := a.payments
	s.Ledger = a.ledger()
	s.Now = a.Now
	s.RequestID = requestID
	return s
}

func (a *App) Bookings(requestID string) services.BookingService {
	return services.BookingService{
		DB:              a.DB,
		Authz:           a.Authz,
		Ledger:          a.ledger(),
		Notifier:        a.Notifier,
		Refunder:        a.Payments(requestID),
		Refs:            a.Refs,
		PlaceholderFare: a.placeholderFare,
		DefaultCurrency: a.Config.Payments.Currency,
		Location:        a.location,
		Now:             a.Now,
		RequestID:       requestID,
	}
}

func (a *App) Routes(requestID string) services.RouteService {
	return services.RouteService{
		DB:              a.DB,
		Authz:           a.Authz,
		DefaultCurrency: a.Config.Payments.Currency,
		Now:             a.Now,
		RequestID:       requestID,
	}
}

func (a *App) Auth(requestID string) services.AuthService {
	return services.AuthService{DB: a.DB, Tokens: a.Tokens, Now: a.Now, RequestID: requestID}
}

func (a *App) Docs(requestID string) services.DocsService {
	return services.DocsService{DB: a.DB, Authz: a.Authz, RequestID: requestID}
}
