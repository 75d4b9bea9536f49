package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// stateCookieName carries the signed OAuth state between /login and /callback
const stateCookieName = "spotify_auth_state"

// stateCookie binds an OAuth state to the browser that started the login.
// The value is an HS256 JWT whose ID claim is the state.
type stateCookie struct {
	key     []byte
	ttl     time.Duration
	secure  bool
	nowTime func() time.Time
}

func newStateCookie(key []byte, ttl time.Duration, secure bool, nowTime func() time.Time) *stateCookie {
	return &stateCookie{key: key, ttl: ttl, secure: secure, nowTime: nowTime}
}

func (c *stateCookie) set(w http.ResponseWriter, state string) error {
	now := c.nowTime()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        state,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	})
	signed, err := token.SignedString(c.key)
	if err != nil {
		return fmt.Errorf("sign state cookie: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(c.ttl.Seconds()),
	})
	return nil
}

// verify checks the cookie's signature and expiry and that it was issued for state
func (c *stateCookie) verify(r *http.Request, state string) error {
	cookie, err := r.Cookie(stateCookieName)
	if err != nil {
		return fmt.Errorf("missing state cookie: %w", err)
	}

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(cookie.Value, claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(c.nowTime), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("invalid state cookie: %w", err)
	}
	if state == "" || claims.ID != state {
		return fmt.Errorf("state does not match cookie")
	}
	return nil
}

func (c *stateCookie) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
