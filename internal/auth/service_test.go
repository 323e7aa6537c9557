// ABOUTME: Tests for the credential service lifecycle
// ABOUTME: Covers register, login, refresh rotation, single-session policy and revocation

package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Sahil-Karanje/chat-backend/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.MockStore) {
	t.Helper()
	s := store.NewMockStore()
	svc := NewService(s, newTestIssuer(t), nil)
	svc.bcryptCost = bcrypt.MinCost
	return svc, s
}

func registerAlice(t *testing.T, svc *Service) *Session {
	t.Helper()
	sess, err := svc.Register(context.Background(), RegisterInput{
		Name:     "Alice",
		Username: "Alice_01",
		Email:    " Alice@Example.com ",
		Password: "correct-horse",
	})
	require.NoError(t, err)
	return sess
}

func TestRegister(t *testing.T) {
	svc, s := newTestService(t)
	sess := registerAlice(t, svc)

	assert.Equal(t, "alice_01", sess.User.Username)
	assert.Equal(t, "alice@example.com", sess.User.Email)
	assert.NotEqual(t, "correct-horse", sess.User.PasswordHash)
	assert.NotEmpty(t, sess.AccessToken)
	assert.NotEmpty(t, sess.RefreshToken)

	stored, err := s.GetUser(context.Background(), sess.User.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RefreshToken)
	assert.Equal(t, sess.RefreshToken, *stored.RefreshToken)
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name string
		in   RegisterInput
		want error
	}{
		{"missing name", RegisterInput{Username: "bob", Email: "b@x.io", Password: "password1"}, ErrMissingField},
		{"missing password", RegisterInput{Name: "Bob", Username: "bob", Email: "b@x.io"}, ErrMissingField},
		{"short name", RegisterInput{Name: "B", Username: "bob", Email: "b@x.io", Password: "password1"}, ErrInvalidField},
		{"bad username", RegisterInput{Name: "Bob", Username: "b!", Email: "b@x.io", Password: "password1"}, ErrInvalidField},
		{"bad email", RegisterInput{Name: "Bob", Username: "bob", Email: "nope", Password: "password1"}, ErrInvalidField},
		{"short password", RegisterInput{Name: "Bob", Username: "bob", Email: "b@x.io", Password: "short"}, ErrInvalidField},
		{"password over bcrypt limit", RegisterInput{Name: "Bob", Username: "bob", Email: "b@x.io", Password: strings.Repeat("x", 80)}, ErrInvalidField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRegister_Duplicates(t *testing.T) {
	svc, _ := newTestService(t)
	registerAlice(t, svc)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Name: "Other", Username: "other", Email: "alice@example.com", Password: "password1"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = svc.Register(ctx, RegisterInput{Name: "Other", Username: "alice_01", Email: "other@example.com", Password: "password1"})
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService(t)
	registerAlice(t, svc)
	ctx := context.Background()

	sess, err := svc.Login(ctx, "ALICE@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "alice_01", sess.User.Username)

	_, err = svc.Login(ctx, "alice@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "", "")
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestLogin_DeletedAccount(t *testing.T) {
	svc, s := newTestService(t)
	sess := registerAlice(t, svc)
	ctx := context.Background()

	require.NoError(t, s.SoftDeleteUser(ctx, sess.User.ID, time.Now()))

	_, err := svc.Login(ctx, "alice@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrAccountDeleted)

	_, err = svc.Authenticate(ctx, sess.AccessToken)
	assert.ErrorIs(t, err, ErrAccountDeleted)
}

func TestSecondLoginInvalidatesFirstRefresh(t *testing.T) {
	svc, _ := newTestService(t)
	first := registerAlice(t, svc)
	ctx := context.Background()

	second, err := svc.Login(ctx, "alice@example.com", "correct-horse")
	require.NoError(t, err)

	_, err = svc.RotateAccess(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenMismatch)

	access, err := svc.RotateAccess(ctx, second.RefreshToken)
	require.NoError(t, err)

	user, err := svc.Authenticate(ctx, access)
	require.NoError(t, err)
	assert.Equal(t, second.User.ID, user.ID)
}

func TestVerifyRefresh_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	sess := registerAlice(t, svc)
	ctx := context.Background()

	_, err := svc.VerifyRefresh(ctx, "")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = svc.VerifyRefresh(ctx, sess.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	orphan, err := svc.tokens.IssueRefreshToken("no-such-user")
	require.NoError(t, err)
	_, err = svc.VerifyRefresh(ctx, orphan)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRevoke(t *testing.T) {
	svc, s := newTestService(t)
	sess := registerAlice(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.Revoke(ctx, sess.User.ID))

	_, err := svc.RotateAccess(ctx, sess.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenMismatch)

	stored, err := s.GetUser(ctx, sess.User.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.RefreshToken)

	// access token outlives logout until expiry
	_, err = svc.Authenticate(ctx, sess.AccessToken)
	assert.NoError(t, err)

	assert.ErrorIs(t, svc.Revoke(ctx, "missing"), ErrUserNotFound)
}

func TestExpiredAccessWhileRefreshValid(t *testing.T) {
	svc, _ := newTestService(t)
	start := time.Now()
	svc.tokens.now = func() time.Time { return start }
	sess := registerAlice(t, svc)
	ctx := context.Background()

	svc.tokens.now = func() time.Time { return start.Add(20 * time.Minute) }

	_, err := svc.Authenticate(ctx, sess.AccessToken)
	assert.ErrorIs(t, err, ErrExpiredToken)

	access, err := svc.RotateAccess(ctx, sess.RefreshToken)
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, access)
	assert.NoError(t, err)
}

func TestAuthenticate_StoreFailure(t *testing.T) {
	svc, s := newTestService(t)
	sess := registerAlice(t, svc)

	s.Err = errors.New("disk on fire")
	// reads are unaffected by injected write errors
	_, err := svc.Authenticate(context.Background(), sess.AccessToken)
	assert.NoError(t, err)

	_, err = svc.Login(context.Background(), "alice@example.com", "correct-horse")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}
