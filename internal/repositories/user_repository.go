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

type UserRepository struct {
	DB intdb.DBTX
}

const userColumns = `id, name, email, COALESCE(phone,''), password_hash, role, status, created_at`

func scanUser(row rowScanner) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.Role, &u.Status, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, domain.NotFoundError{Resource: "user"}
	}
	if err != nil {
		return models.User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// Create inserts a user; a taken email is reported as a conflict.
func (r UserRepository) Create(ctx context.Context, u *models.User, now time.Time) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Status == "" {
		u.Status = "active"
	}
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO users (name, email, phone, password_hash, role, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Name, u.Email, intdb.NullIfEmpty(u.Phone), u.PasswordHash, u.Role, u.Status, now, now,
	)
	if err != nil {
		if intdb.IsDuplicateKey(err) {
			return domain.ConflictError{Resource: "user", Msg: "email already registered"}
		}
		return fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert user id: %w", err)
	}
	u.ID = id
	u.CreatedAt = now
	return nil
}

func (r UserRepository) GetByEmail(ctx context.Context, email string) (models.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(strings.TrimSpace(email))))
}

func (r UserRepository) GetByID(ctx context.Context, id int64) (models.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (r UserRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
