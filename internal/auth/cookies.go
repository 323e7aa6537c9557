// ABOUTME: Session cookie helpers for the access/refresh credential pair
// ABOUTME: HttpOnly cookies; SameSite=None only when Secure is set

package auth

import (
	"net/http"
	"time"
)

// Cookie names carrying the credential pair.
const (
	AccessCookieName  = "accessToken"
	RefreshCookieName = "refreshToken"
)

// CookieConfig controls cookie attributes.
type CookieConfig struct {
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func (c CookieConfig) cookie(name, value string, ttl time.Duration) *http.Cookie {
	sameSite := http.SameSiteLaxMode
	if c.Secure {
		// browsers drop SameSite=None cookies that are not Secure
		sameSite = http.SameSiteNoneMode
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: sameSite,
	}
}

// SetAuthCookies writes both credential cookies.
func SetAuthCookies(w http.ResponseWriter, cfg CookieConfig, accessToken, refreshToken string) {
	http.SetCookie(w, cfg.cookie(AccessCookieName, accessToken, cfg.AccessTTL))
	http.SetCookie(w, cfg.cookie(RefreshCookieName, refreshToken, cfg.RefreshTTL))
}

// SetAccessCookie writes only the access cookie, after a refresh.
func SetAccessCookie(w http.ResponseWriter, cfg CookieConfig, accessToken string) {
	http.SetCookie(w, cfg.cookie(AccessCookieName, accessToken, cfg.AccessTTL))
}

// ClearAuthCookies expires both credential cookies.
func ClearAuthCookies(w http.ResponseWriter, cfg CookieConfig) {
	for _, name := range []string{AccessCookieName, RefreshCookieName} {
		c := cfg.cookie(name, "", 0)
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}
