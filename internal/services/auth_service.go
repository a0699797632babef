package services

import (
	"context"
	"database/sql"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"ticketbackend/internal/auth"
	"ticketbackend/internal/domain"
	"ticketbackend/internal/domain/models"
	"ticketbackend/internal/repositories"
	"ticketbackend/internal/utils"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

type AuthService struct {
	DB        *sql.DB
	Tokens    auth.Tokens
	Now       func() time.Time
	RequestID string
}

type RegisterInput struct {
	Name     string
	Email    string
	Phone    string
	Password string
	Role     string
}

type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      models.User `json:"user"`
}

func (s AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return utils.NowUTC()
}

// Register creates a customer or vendor account. Admins are only created
// from the command line through CreateUser.
func (s AuthService) Register(ctx context.Context, in RegisterInput) (models.User, error) {
	role := strings.ToLower(strings.TrimSpace(in.Role))
	if role == "" {
		role = domain.RoleUser
	}
	if role != domain.RoleUser && role != domain.RoleVendor {
		return models.User{}, domain.ValidationError{Field: "role", Msg: "must be user or vendor"}
	}
	in.Role = role
	return s.CreateUser(ctx, in)
}

func (s AuthService) CreateUser(ctx context.Context, in RegisterInput) (models.User, error) {
	name := utils.NormalizeSpace(in.Name)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	switch {
	case name == "":
		return models.User{}, domain.ValidationError{Field: "name", Msg: "is required"}
	case email == "":
		return models.User{}, domain.ValidationError{Field: "email", Msg: "is required"}
	case len(in.Password) < minPasswordLength:
		return models.User{}, domain.ValidationError{Field: "password", Msg: fmt.Sprintf("must be at least %d characters", minPasswordLength)}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return models.User{}, domain.ValidationError{Field: "email", Msg: "is not a valid address"}
	}
	switch in.Role {
	case domain.RoleUser, domain.RoleVendor, domain.RoleAdmin:
	default:
		return models.User{}, domain.ValidationError{Field: "role", Msg: "unknown role"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, domain.InternalError{Msg: "could not hash password", Err: err}
	}
	u := models.User{
		Name:         name,
		Email:        email,
		Phone:        strings.TrimSpace(in.Phone),
		PasswordHash: string(hash),
		Role:         in.Role,
		Status:       "active",
	}
	if err := (repositories.UserRepository{DB: s.DB}).Create(ctx, &u, s.now()); err != nil {
		return models.User{}, err
	}
	utils.LogEvent(s.RequestID, "auth", "register", fmt.Sprintf("user_id=%d role=%s", u.ID, u.Role))
	return u, nil
}

// Login never says which of email or password was wrong.
func (s AuthService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	bad := domain.ValidationError{Field: "credentials", Code: "invalid_credentials", Msg: "email or password is incorrect"}
	u, err := repositories.UserRepository{DB: s.DB}.GetByEmail(ctx, email)
	if domain.IsNotFound(err) {
		return LoginResult{}, bad
	}
	if err != nil {
		return LoginResult{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return LoginResult{}, bad
	}
	if u.Status != "active" {
		return LoginResult{}, domain.AuthorizationError{Action: "login", Msg: "account is not active"}
	}
	token, exp, err := s.Tokens.Issue(u.ID, u.Role)
	if err != nil {
		return LoginResult{}, domain.InternalError{Msg: "could not issue token", Err: err}
	}
	utils.LogEvent(s.RequestID, "auth", "login", fmt.Sprintf("user_id=%d", u.ID))
	return LoginResult{Token: token, ExpiresAt: exp, User: u}, nil
}
