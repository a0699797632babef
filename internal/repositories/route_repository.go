package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	intdb "ticketbackend/internal/db"
	"ticketbackend/internal/domain"
	"ticketbackend/internal/domain/models"
)

type RouteRepository struct {
	DB intdb.DBTX
}

const routeColumns = `id, vendor_id, operator_name, COALESCE(operator_contact,''), transport_type,
	COALESCE(class,''), from_location, to_location, departure_times, COALESCE(arrival_time,''),
	duration_minutes, COALESCE(days,''), base_fare, price, currency, total_quantity,
	available_quantity, verification_status, is_advertised, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoute(row rowScanner) (models.Route, error) {
	var (
		r        models.Route
		vendorID sql.NullInt64
		times    string
		status   string
	)
	err := row.Scan(
		&r.ID, &vendorID, &r.OperatorName, &r.OperatorContact, &r.TransportType,
		&r.Class, &r.FromLocation, &r.ToLocation, &times, &r.ArrivalTime,
		&r.DurationMinutes, &r.Days, &r.BaseFare, &r.Price, &r.Currency, &r.TotalQuantity,
		&r.AvailableQuantity, &status, &r.IsAdvertised, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return models.Route{}, err
	}
	if vendorID.Valid && vendorID.Int64 > 0 {
		r.Vendor = models.VendorByID(vendorID.Int64)
		r.VendorID = vendorID.Int64
	} else {
		r.Vendor = models.EmbeddedVendor(r.OperatorName, r.OperatorContact)
	}
	r.DepartureTimes = models.SplitDepartureTimes(times)
	r.VerificationStatus = models.VerificationStatus(status)
	return r, nil
}

// Create inserts a route with its full quantity available.
func (r RouteRepository) Create(ctx context.Context, route *models.Route, now time.Time) error {
	var vendorID any
	if id, ok := route.Vendor.ID(); ok {
		vendorID = id
	}
	if route.VerificationStatus == "" {
		route.VerificationStatus = models.VerificationPending
	}
	route.AvailableQuantity = route.TotalQuantity
	route.CreatedAt, route.UpdatedAt = now, now

	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO routes (vendor_id, operator_name, operator_contact, transport_type, class,
			from_location, to_location, departure_times, arrival_time, duration_minutes, days,
			base_fare, price, currency, total_quantity, available_quantity, verification_status,
			is_advertised, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		vendorID, route.OperatorName, intdb.NullIfEmpty(route.OperatorContact),
		strings.ToLower(route.TransportType), intdb.NullIfEmpty(route.Class),
		route.FromLocation, route.ToLocation, models.JoinDepartureTimes(route.DepartureTimes),
		intdb.NullIfEmpty(route.ArrivalTime), route.DurationMinutes, intdb.NullIfEmpty(route.Days),
		route.BaseFare, route.Price, route.Currency, route.TotalQuantity, route.AvailableQuantity,
		string(route.VerificationStatus), route.IsAdvertised, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert route: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert route id: %w", err)
	}
	route.ID = id
	return nil
}

func (r RouteRepository) GetByID(ctx context.Context, id int64) (models.Route, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+routeColumns+` FROM routes WHERE id = ?`, id)
	route, err := scanRoute(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Route{}, domain.NotFoundError{Resource: "route"}
		}
		return models.Route{}, fmt.Errorf("get route %d: %w", id, err)
	}
	return route, nil
}

// Decrement takes qty from the route only if enough remains. It reports
// false when the guard failed (or the route is absent).
func (r RouteRepository) Decrement(ctx context.Context, id int64, qty int, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE routes SET available_quantity = available_quantity - ?, updated_at = ?
		WHERE id = ? AND available_quantity >= ?`,
		qty, now, id, qty,
	)
	if err != nil {
		return false, fmt.Errorf("decrement route %d: %w", id, err)
	}
	return affectedOne(res)
}

// Increment returns qty to the route unless that would exceed total_quantity.
func (r RouteRepository) Increment(ctx context.Context, id int64, qty int, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE routes SET available_quantity = available_quantity + ?, updated_at = ?
		WHERE id = ? AND available_quantity + ? <= total_quantity`,
		qty, now, id, qty,
	)
	if err != nil {
		return false, fmt.Errorf("increment route %d: %w", id, err)
	}
	return affectedOne(res)
}

// AvailableQuantity reads the counter; found is false for an unknown route.
func (r RouteRepository) AvailableQuantity(ctx context.Context, id int64) (qty int, found bool, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT available_quantity FROM routes WHERE id = ?`, id).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read route %d quantity: %w", id, err)
	}
	return qty, true, nil
}

func (r RouteRepository) UpdateVerification(ctx context.Context, id int64, status models.VerificationStatus, now time.Time) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE routes SET verification_status = ?, updated_at = ? WHERE id = ?`,
		string(status), now, id,
	)
	if err != nil {
		return fmt.Errorf("update route %d verification: %w", id, err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		// MySQL reports 0 affected rows when nothing changed
		if _, found, err := r.AvailableQuantity(ctx, id); err != nil || found {
			return err
		}
		return domain.NotFoundError{Resource: "route"}
	}
	return nil
}

// ResolveVendor turns a route's VendorRef into a vendor user id. Embedded
// operators are matched by contact email, then by exact name.
func (r RouteRepository) ResolveVendor(ctx context.Context, ref models.VendorRef) (int64, error) {
	var (
		id  int64
		err error
	)
	if vendorID, ok := ref.ID(); ok {
		err = r.DB.QueryRowContext(ctx,
			`SELECT id FROM users WHERE id = ? AND role = 'vendor'`, vendorID).Scan(&id)
	} else if name, contact, ok := ref.Embedded(); ok {
		// contact wins; the operator name is the fallback for stale contacts
		err = sql.ErrNoRows
		if contact != "" {
			err = r.DB.QueryRowContext(ctx, `
				SELECT id FROM users
				WHERE role = 'vendor' AND LOWER(email) = LOWER(?)
				ORDER BY id LIMIT 1`, contact,
			).Scan(&id)
		}
		if errors.Is(err, sql.ErrNoRows) && name != "" {
			err = r.DB.QueryRowContext(ctx, `
				SELECT id FROM users
				WHERE role = 'vendor' AND name = ?
				ORDER BY id LIMIT 1`, name,
			).Scan(&id)
		}
	} else {
		err = sql.ErrNoRows
	}

	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.NotFoundError{Resource: "vendor", Code: domain.CodeVendorNotFound}
	}
	if err != nil {
		return 0, fmt.Errorf("resolve vendor: %w", err)
	}
	return id, nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
