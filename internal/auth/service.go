// ABOUTME: Credential service: registration, login, refresh rotation and revocation
// ABOUTME: Enforces a single active refresh token per user stored on the user record

package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Sahil-Karanje/chat-backend/internal/store"
)

// Credential errors
var (
	ErrMissingToken       = errors.New("no token provided")
	ErrTokenMismatch      = errors.New("refresh token mismatch")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDeleted     = errors.New("account deleted")
	ErrEmailTaken         = errors.New("email already in use")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrMissingField       = errors.New("all fields are required")
	ErrInvalidField       = errors.New("invalid field")
)

var (
	usernamePattern = regexp.MustCompile(`^[a-z0-9_.]{3,30}$`)
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

const (
	minPasswordLength = 8
	// bcrypt rejects longer inputs
	maxPasswordBytes = 72
)

// RegisterInput holds the fields required to create an account.
type RegisterInput struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is the result of a successful register or login.
type Session struct {
	User         *store.User
	AccessToken  string
	RefreshToken string
}

// Service implements the credential lifecycle on top of a UserStore.
type Service struct {
	users      store.UserStore
	tokens     *TokenIssuer
	logger     *slog.Logger
	bcryptCost int
}

// NewService creates a credential service. A nil logger uses slog.Default().
func NewService(users store.UserStore, tokens *TokenIssuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:      users,
		tokens:     tokens,
		logger:     logger.With("component", "auth"),
		bcryptCost: bcrypt.DefaultCost,
	}
}

// Tokens exposes the issuer, e.g. for cookie lifetimes.
func (s *Service) Tokens() *TokenIssuer {
	return s.tokens
}

// normalize trims every field and lowercases the identifiers.
func (in *RegisterInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
}

func (in *RegisterInput) validate() error {
	if in.Name == "" || in.Username == "" || in.Email == "" || in.Password == "" {
		return ErrMissingField
	}
	if n := utf8.RuneCountInString(in.Name); n < 2 || n > 50 {
		return fmt.Errorf("%w: name must be 2-50 characters", ErrInvalidField)
	}
	if !usernamePattern.MatchString(in.Username) {
		return fmt.Errorf("%w: username must be 3-30 characters of a-z, 0-9, '_' or '.'", ErrInvalidField)
	}
	if !emailPattern.MatchString(in.Email) {
		return fmt.Errorf("%w: email is not valid", ErrInvalidField)
	}
	if len(in.Password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidField, minPasswordLength)
	}
	if len(in.Password) > maxPasswordBytes {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidField, maxPasswordBytes)
	}
	return nil
}

// Register creates an account and opens its first session.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	if _, err := s.users.GetUserByEmail(ctx, in.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking email: %w", err)
	}
	if _, err := s.users.GetUserByUsername(ctx, in.Username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking username: %w", err)
	}

	hash, err := hashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	now := time.Now().UTC()
	user := &store.User{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         store.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		// a concurrent registration can still win the unique index
		switch {
		case errors.Is(err, store.ErrDuplicateEmail):
			return nil, ErrEmailTaken
		case errors.Is(err, store.ErrDuplicateUsername):
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	return s.startSession(ctx, user)
}

// Login verifies credentials and replaces any previous session.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrMissingField
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			burnPasswordCheck(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if !checkPassword(user.PasswordHash, password) {
		s.logger.Debug("login failed: wrong password", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}
	if user.IsDeleted() {
		return nil, ErrAccountDeleted
	}

	return s.startSession(ctx, user)
}

// startSession issues a fresh pair and persists the refresh token, replacing the previous one.
func (s *Service) startSession(ctx context.Context, user *store.User) (*Session, error) {
	access, err := s.tokens.IssueAccessToken(user.ID)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.users.SetRefreshToken(ctx, user.ID, &refresh); err != nil {
		return nil, fmt.Errorf("storing refresh token: %w", err)
	}
	user.RefreshToken = &refresh

	s.logger.Debug("session started", "user_id", user.ID)
	return &Session{User: user, AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyRefresh checks a refresh token's signature and that it is the user's current one.
func (s *Service) VerifyRefresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", ErrMissingToken
	}

	userID, err := s.tokens.verifyRefreshSignature(refreshToken)
	if err != nil {
		return "", err
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("looking up user: %w", err)
	}

	if user.RefreshToken == nil ||
		subtle.ConstantTimeCompare([]byte(*user.RefreshToken), []byte(refreshToken)) != 1 {
		return "", ErrTokenMismatch
	}
	return userID, nil
}

// RotateAccess issues a new access token for a valid refresh token.
// The refresh token itself is not rotated.
func (s *Service) RotateAccess(ctx context.Context, refreshToken string) (string, error) {
	userID, err := s.VerifyRefresh(ctx, refreshToken)
	if err != nil {
		return "", err
	}
	return s.tokens.IssueAccessToken(userID)
}

// Revoke clears the stored refresh token. Outstanding access tokens stay valid until expiry.
func (s *Service) Revoke(ctx context.Context, userID string) error {
	if err := s.users.SetRefreshToken(ctx, userID, nil); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("clearing refresh token: %w", err)
	}
	s.logger.Info("session revoked", "user_id", userID)
	return nil
}

// Authenticate resolves an access token to an active user.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*store.User, error) {
	if accessToken == "" {
		return nil, ErrMissingToken
	}

	userID, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if user.IsDeleted() {
		return nil, ErrAccountDeleted
	}
	return user, nil
}
