package services

import (
	"bytes"
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

	"github.com/phpdave11/gofpdf"
	"github.com/shopspring/decimal"
)

// DocsService renders e-tickets and receipts for paid bookings.
type DocsService struct {
	DB        *sql.DB
	Authz     *authz.Authorizer
	RequestID string
	Loader    func(ctx context.Context, bookingID int64) (bookingDocData, error)
}

type bookingDocData struct {
	BookingID        int64
	BookingReference string
	UserID           int64
	VendorID         int64
	Paid             bool
	OperatorName     string
	TransportType    string
	Class            string
	RouteFrom        string
	RouteTo          string
	Departure        time.Time
	Passengers       []models.Passenger
	Quantity         int
	BaseFare         decimal.Decimal
	TotalAmount      decimal.Decimal
	Currency         string
	PaidAt           *time.Time
}

// GenerateETicket returns one page per passenger.
func (s DocsService) GenerateETicket(ctx context.Context, bookingID int64, actor domain.RequestContext) ([]byte, string, error) {
	data, err := s.loadForActor(ctx, bookingID, actor)
	if err != nil {
		return nil, "", err
	}
	utils.LogEvent(s.RequestID, "docs", "generate_eticket", fmt.Sprintf("booking_id=%d passengers=%d", bookingID, len(data.Passengers)))
	return buildETicketPDF(data)
}

func (s DocsService) GenerateReceipt(ctx context.Context, bookingID int64, actor domain.RequestContext) ([]byte, string, error) {
	data, err := s.loadForActor(ctx, bookingID, actor)
	if err != nil {
		return nil, "", err
	}
	utils.LogEvent(s.RequestID, "docs", "generate_receipt", fmt.Sprintf("booking_id=%d", bookingID))
	return buildReceiptPDF(data)
}

func (s DocsService) loadForActor(ctx context.Context, bookingID int64, actor domain.RequestContext) (bookingDocData, error) {
	data, err := s.load(ctx, bookingID)
	if err != nil {
		return data, err
	}
	if s.Authz != nil {
		if err := s.Authz.Require(ctx, authz.BookingView, actor, authz.Resource{UserID: data.UserID, VendorID: data.VendorID}); err != nil {
			return bookingDocData{}, err
		}
	}
	if !data.Paid {
		return bookingDocData{}, domain.ConflictError{
			Resource: "booking", Code: domain.CodePaymentNotCompleted, Msg: "tickets are issued once the booking is paid",
		}
	}
	return data, nil
}

func (s DocsService) load(ctx context.Context, bookingID int64) (bookingDocData, error) {
	if s.Loader != nil {
		return s.Loader(ctx, bookingID)
	}
	var out bookingDocData
	b, err := repositories.BookingRepository{DB: s.DB}.GetByID(ctx, bookingID)
	if err != nil {
		return out, err
	}
	out.BookingID = b.ID
	out.BookingReference = b.BookingReference
	out.UserID = b.UserID
	out.VendorID = b.VendorID
	out.Paid = b.Paid() || b.BookingStatus == models.BookingCompleted
	out.Departure = b.DepartureDate
	out.Passengers = b.Passengers
	out.Quantity = b.Quantity
	out.BaseFare = b.BaseFare
	out.TotalAmount = b.TotalAmount
	out.Currency = b.Currency
	out.PaidAt = b.PaidAt

	// the route may have been edited since; the booking's own amounts win
	if route, err := (repositories.RouteRepository{DB: s.DB}).GetByID(ctx, b.RouteID); err == nil {
		out.OperatorName = route.OperatorName
		out.TransportType = route.TransportType
		out.Class = route.Class
		out.RouteFrom = route.FromLocation
		out.RouteTo = route.ToLocation
	} else if !domain.IsNotFound(err) {
		return out, err
	}
	return out, nil
}

func buildETicketPDF(d bookingDocData) ([]byte, string, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("E-Ticket "+d.BookingReference, false)

	passengers := d.Passengers
	if len(passengers) == 0 {
		passengers = []models.Passenger{{Index: 1}}
	}
	for _, p := range passengers {
		pdf.AddPage()
		pdf.SetFont("Helvetica", "B", 18)
		pdf.Cell(0, 10, "E-TICKET")
		pdf.Ln(12)

		pdf.SetFont("Helvetica", "", 12)
		lines := []string{
			fmt.Sprintf("Passenger      : %s", safe(p.Name, fmt.Sprintf("Passenger %d", p.Index))),
			fmt.Sprintf("Ticket number  : %s", safe(p.TicketNumber, "-")),
			fmt.Sprintf("Booking ref    : %s", safe(d.BookingReference, "-")),
			fmt.Sprintf("Operator       : %s", safe(d.OperatorName, "-")),
			fmt.Sprintf("Service        : %s %s", safe(d.TransportType, "-"), safe(d.Class, "")),
			fmt.Sprintf("Route          : %s -> %s", safe(d.RouteFrom, "-"), safe(d.RouteTo, "-")),
			fmt.Sprintf("Departure      : %s", departureLabel(d.Departure)),
			fmt.Sprintf("Seat           : %d of %d", p.Index, max(d.Quantity, len(passengers))),
		}
		for _, s := range lines {
			pdf.Cell(0, 7, s)
			pdf.Ln(7)
		}

		pdf.Ln(6)
		pdf.SetFont("Helvetica", "I", 10)
		pdf.MultiCell(0, 6, "Valid for one passenger. Present this ticket at boarding.", "", "", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", err
	}
	filename := fmt.Sprintf("ETICKET_%s.pdf", utils.SafeFilenamePart(d.BookingReference))
	return buf.Bytes(), filename, nil
}

func buildReceiptPDF(d bookingDocData) ([]byte, string, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Receipt "+d.BookingReference, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "RECEIPT")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 7, "Booking ref  : "+safe(d.BookingReference, "-"))
	pdf.Ln(7)
	paidAt := "-"
	if d.PaidAt != nil {
		paidAt = utils.FormatDateTime(*d.PaidAt)
	}
	pdf.Cell(0, 7, "Paid at      : "+paidAt)
	pdf.Ln(10)

	desc := fmt.Sprintf("%s %s -> %s (%s)",
		safe(d.OperatorName, "-"), safe(d.RouteFrom, "-"), safe(d.RouteTo, "-"), departureLabel(d.Departure))
	pdf.SetFont("Helvetica", "", 11)
	pdf.MultiCell(0, 6, desc, "", "", false)
	pdf.Ln(2)

	pdf.Cell(0, 6, fmt.Sprintf("Fare x %d    : %s %s", d.Quantity, utils.FormatAmount(d.BaseFare, d.Currency), d.Currency))
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Total: %s %s", utils.FormatAmount(d.TotalAmount, d.Currency), d.Currency))
	pdf.Ln(12)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", err
	}
	filename := fmt.Sprintf("RECEIPT_%s.pdf", utils.SafeFilenamePart(d.BookingReference))
	return buf.Bytes(), filename, nil
}

func safe(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	return v
}

func departureLabel(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return utils.FormatDateTime(t)
}
