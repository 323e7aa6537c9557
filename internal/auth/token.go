// ABOUTME: JWT access/refresh token issuing and verification
// ABOUTME: Uses HS256 with separate secrets for short-lived access and long-lived refresh tokens

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token errors. ErrExpiredToken wraps ErrInvalidToken so callers can test either.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = fmt.Errorf("%w: expired", ErrInvalidToken)
	ErrMissingClaim = errors.New("missing required claim")
)

// Default lifetimes for the credential pair.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// TokenConfig configures a TokenIssuer.
type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration // defaults to DefaultAccessTTL
	RefreshTTL    time.Duration // defaults to DefaultRefreshTTL
}

// TokenIssuer signs and verifies the access/refresh credential pair.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenIssuer creates an issuer. Both secrets are required.
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if len(cfg.AccessSecret) == 0 {
		return nil, errors.New("access token secret is required")
	}
	if len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("refresh token secret is required")
	}

	i := &TokenIssuer{
		accessSecret:  cfg.AccessSecret,
		refreshSecret: cfg.RefreshSecret,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           time.Now,
	}
	if i.accessTTL <= 0 {
		i.accessTTL = DefaultAccessTTL
	}
	if i.refreshTTL <= 0 {
		i.refreshTTL = DefaultRefreshTTL
	}
	return i, nil
}

// AccessTTL returns the access token lifetime.
func (i *TokenIssuer) AccessTTL() time.Duration { return i.accessTTL }

// RefreshTTL returns the refresh token lifetime.
func (i *TokenIssuer) RefreshTTL() time.Duration { return i.refreshTTL }

// IssueAccessToken signs a short-lived token carrying only the user identity.
func (i *TokenIssuer) IssueAccessToken(userID string) (string, error) {
	return i.sign(i.accessSecret, tokenTypeAccess, userID, i.accessTTL)
}

// IssueRefreshToken signs a long-lived token with the refresh secret.
// The caller is responsible for persisting it on the user record.
func (i *TokenIssuer) IssueRefreshToken(userID string) (string, error) {
	return i.sign(i.refreshSecret, tokenTypeRefresh, userID, i.refreshTTL)
}

// VerifyAccess validates an access token and returns the user ID from its "sub" claim.
func (i *TokenIssuer) VerifyAccess(tokenString string) (string, error) {
	return i.verify(tokenString, i.accessSecret, tokenTypeAccess)
}

// verifyRefreshSignature checks signature and expiry of a refresh token only.
// Comparison with the stored value happens in Service.VerifyRefresh.
func (i *TokenIssuer) verifyRefreshSignature(tokenString string) (string, error) {
	return i.verify(tokenString, i.refreshSecret, tokenTypeRefresh)
}

func (i *TokenIssuer) sign(secret []byte, typ, userID string, ttl time.Duration) (string, error) {
	now := i.now()
	claims := jwt.MapClaims{
		"sub": userID,
		"typ": typ,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", typ, err)
	}
	return signed, nil
}

func (i *TokenIssuer) verify(tokenString string, secret []byte, typ string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithExpirationRequired())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	if got, _ := claims["typ"].(string); got != typ {
		return "", fmt.Errorf("%w: wrong token type %q", ErrInvalidToken, got)
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: %w: sub", ErrInvalidToken, ErrMissingClaim)
	}

	return sub, nil
}
