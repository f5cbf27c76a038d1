package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"inprogress/api/internal/store"
)

// mockUserStore is an in-memory UserStore for testing.
type mockUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string // email -> userID
	resets     map[string]struct {
		userID    string
		expiresAt time.Time
	}
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		emailIndex: make(map[string]string),
		resets: make(map[string]struct {
			userID    string
			expiresAt time.Time
		}),
	}
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) error {
	if _, ok := m.emailIndex[user.Email]; ok {
		return store.ErrEmailTaken
	}
	for _, existing := range m.users {
		if existing.Username == user.Username {
			return store.ErrUsernameTaken
		}
	}
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	return nil
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[email]; ok {
		return m.users[userID], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) SetPasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	m.resets[token] = struct {
		userID    string
		expiresAt time.Time
	}{userID, expiresAt}
	return nil
}

func (m *mockUserStore) GetUserByResetToken(ctx context.Context, token string) (store.User, error) {
	reset, ok := m.resets[token]
	if !ok || time.Now().After(reset.expiresAt) {
		return store.User{}, errors.New("token not found")
	}
	return m.users[reset.userID], nil
}

func (m *mockUserStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	user, ok := m.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	user.PasswordHash = passwordHash
	m.users[userID] = user
	// Consume every token for this user, like the SQL does.
	for token, reset := range m.resets {
		if reset.userID == userID {
			delete(m.resets, token)
		}
	}
	return nil
}

func validSignUp() SignUpRequest {
	return SignUpRequest{
		FullName:   "Avery Perez",
		Username:   "averyp",
		Email:      "avery@cpu.edu.ph",
		Password:   "password123",
		RePassword: "password123",
	}
}

func TestSignUpCreatesUser(t *testing.T) {
	m := newMockUserStore()
	svc := NewService(m)

	user, err := svc.SignUp(context.Background(), validSignUp())
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if user.ID == "" {
		t.Fatal("expected user ID to be assigned")
	}
	if user.Email != "avery@cpu.edu.ph" {
		t.Errorf("unexpected email: %q", user.Email)
	}
	if user.PasswordHash == "password123" || user.PasswordHash == "" {
		t.Error("password must be stored hashed")
	}
}

func TestSignUpValidation(t *testing.T) {
	cases := []struct {
		name  string
		edit  func(*SignUpRequest)
		field string
	}{
		{"missing full name", func(r *SignUpRequest) { r.FullName = " " }, "fullName"},
		{"missing username", func(r *SignUpRequest) { r.Username = "" }, "username"},
		{"bad email", func(r *SignUpRequest) { r.Email = "not-an-email" }, "cpuEmail"},
		{"short password", func(r *SignUpRequest) { r.Password = "short"; r.RePassword = "short" }, "password"},
		{"mismatched passwords", func(r *SignUpRequest) { r.RePassword = "different123" }, "rePassword"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validSignUp()
			tc.edit(&req)
			_, err := svc(t).SignUp(context.Background(), req)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if _, ok := vErr.Fields[tc.field]; !ok {
				t.Fatalf("expected field %q in %v", tc.field, vErr.Fields)
			}
		})
	}
}

func svc(t *testing.T) *Service {
	t.Helper()
	return NewService(newMockUserStore())
}

func TestSignUpDuplicateEmail(t *testing.T) {
	m := newMockUserStore()
	s := NewService(m)

	if _, err := s.SignUp(context.Background(), validSignUp()); err != nil {
		t.Fatalf("first SignUp() error = %v", err)
	}
	req := validSignUp()
	req.Username = "someoneelse"
	_, err := s.SignUp(context.Background(), req)
	if !errors.Is(err, store.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignInRoundTrip(t *testing.T) {
	m := newMockUserStore()
	s := NewService(m)

	created, err := s.SignUp(context.Background(), validSignUp())
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	user, err := s.SignIn(context.Background(), SignInRequest{Email: "avery@cpu.edu.ph", Password: "password123"})
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if user.ID != created.ID {
		t.Fatalf("expected user %s, got %s", created.ID, user.ID)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	m := newMockUserStore()
	s := NewService(m)
	if _, err := s.SignUp(context.Background(), validSignUp()); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	_, err := s.SignIn(context.Background(), SignInRequest{Email: "avery@cpu.edu.ph", Password: "wrongpassword"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestSignInUnknownEmailSameError(t *testing.T) {
	s := NewService(newMockUserStore())
	_, err := s.SignIn(context.Background(), SignInRequest{Email: "nobody@cpu.edu.ph", Password: "password123"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	m := newMockUserStore()
	s := NewService(m)
	created, err := s.SignUp(context.Background(), validSignUp())
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	token, user, err := s.RequestPasswordReset(context.Background(), "avery@cpu.edu.ph")
	if err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	if token == "" || user.ID != created.ID {
		t.Fatalf("unexpected reset result: token=%q user=%s", token, user.ID)
	}

	if err := s.ResetPassword(context.Background(), ResetPasswordRequest{Token: token, NewPassword: "newpassword1"}); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}

	stored := m.users[created.ID]
	if err := bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("newpassword1")); err != nil {
		t.Fatal("new password not stored")
	}

	// The token is single use.
	err = s.ResetPassword(context.Background(), ResetPasswordRequest{Token: token, NewPassword: "anotherpass1"})
	if !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected ErrInvalidResetToken on reuse, got %v", err)
	}
}

func TestRequestPasswordResetUnknownEmail(t *testing.T) {
	s := NewService(newMockUserStore())
	token, _, err := s.RequestPasswordReset(context.Background(), "nobody@cpu.edu.ph")
	if err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	if token != "" {
		t.Fatal("unknown email must not produce a token")
	}
}

func TestResetPasswordExpiredToken(t *testing.T) {
	m := newMockUserStore()
	s := NewService(m)
	created, err := s.SignUp(context.Background(), validSignUp())
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	m.resets["expired"] = struct {
		userID    string
		expiresAt time.Time
	}{created.ID, time.Now().Add(-time.Minute)}

	err = s.ResetPassword(context.Background(), ResetPasswordRequest{Token: "expired", NewPassword: "newpassword1"})
	if !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected ErrInvalidResetToken, got %v", err)
	}
}
