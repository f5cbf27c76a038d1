// Package authpw provides email/password account management.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"inprogress/api/internal/store"
	"inprogress/api/internal/util"
)

// Validation and credential errors surfaced to the HTTP layer.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
)

// ValidationError carries a field-keyed error map for 400 responses.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return "validation failed"
}

// Service provides sign-up, sign-in, and password reset.
type Service struct {
	store UserStore
}

// UserStore defines the storage interface for accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user store.User) error
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	SetPasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetUserByResetToken(ctx context.Context, token string) (store.User, error)
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
}

func NewService(userStore UserStore) *Service {
	return &Service{store: userStore}
}

// SignUpRequest contains sign-up parameters.
type SignUpRequest struct {
	FullName   string
	Username   string
	Email      string
	Password   string
	RePassword string
}

// SignUp creates a new user account and returns it.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	fields := map[string]string{}
	if strings.TrimSpace(req.FullName) == "" {
		fields["fullName"] = "full name is required"
	}
	if strings.TrimSpace(req.Username) == "" {
		fields["username"] = "username is required"
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		fields["cpuEmail"] = "a valid email is required"
	}
	if len(req.Password) < 8 {
		fields["password"] = "password must be at least 8 characters"
	}
	if req.Password != req.RePassword {
		fields["rePassword"] = "passwords do not match"
	}
	if len(fields) > 0 {
		return store.User{}, &ValidationError{Fields: fields}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           util.NewID("usr"),
		FullName:     strings.TrimSpace(req.FullName),
		Username:     strings.TrimSpace(req.Username),
		Email:        email,
		PasswordHash: string(hash),
	}

	// Duplicate email/username surface as store.ErrEmailTaken and
	// store.ErrUsernameTaken via the unique constraints; there is no
	// racy pre-check here.
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, err
	}
	return user, nil
}

// SignInRequest contains sign-in parameters.
type SignInRequest struct {
	Email    string
	Password string
}

// SignIn authenticates a user. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return store.User{}, &ValidationError{Fields: map[string]string{
			"cpuEmail": "email and password are required",
		}}
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// RequestPasswordReset creates a single-use reset token with a one hour
// expiry. The empty return for unknown emails keeps account existence
// private.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (token string, user store.User, err error) {
	user, err = s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return "", store.User{}, nil
	}

	token = util.NewToken()
	expiresAt := time.Now().Add(1 * time.Hour)
	if err := s.store.SetPasswordReset(ctx, user.ID, token, expiresAt); err != nil {
		return "", store.User{}, err
	}
	return token, user, nil
}

// ResetPasswordRequest contains password reset parameters.
type ResetPasswordRequest struct {
	Token       string
	NewPassword string
}

// ResetPassword sets a new password from a live reset token. The token
// is consumed by the password update.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if req.Token == "" {
		return ErrInvalidResetToken
	}
	if len(req.NewPassword) < 8 {
		return &ValidationError{Fields: map[string]string{
			"newPassword": "password must be at least 8 characters",
		}}
	}

	user, err := s.store.GetUserByResetToken(ctx, req.Token)
	if err != nil {
		return ErrInvalidResetToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, user.ID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}
