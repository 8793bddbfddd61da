// File: internal/auth/token.go
package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"watchdeck/internal/apperr"
)

// InspectGuestToken checks a one-time guest token before it is sent to the
// provider: it must be a well-formed JWT carrying a subject, and must not be
// expired. The signature is the provider's to verify; the client only screens
// out tokens that cannot possibly succeed.
func InspectGuestToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperr.New(apperr.Auth, "guest token is empty")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return apperr.Wrap(apperr.Auth, "guest token is malformed", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return apperr.New(apperr.Auth, "guest token has no subject")
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return apperr.Wrap(apperr.Auth, "guest token expiry is unreadable", err)
	}
	if exp != nil && exp.Before(time.Now()) {
		return apperr.New(apperr.Auth, "guest token is expired")
	}
	return nil
}
