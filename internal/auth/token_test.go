package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchdeck/internal/apperr"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestInspectGuestToken(t *testing.T) {
	valid := signedToken(t, jwt.MapClaims{
		"sub": "guest-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	expired := signedToken(t, jwt.MapClaims{
		"sub": "guest-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	noSubject := signedToken(t, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	assert.NoError(t, InspectGuestToken(valid))

	for name, tok := range map[string]string{
		"empty":     "",
		"garbage":   "not-a-jwt",
		"expired":   expired,
		"noSubject": noSubject,
	} {
		t.Run(name, func(t *testing.T) {
			err := InspectGuestToken(tok)
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.Auth))
		})
	}
}

func TestDevServiceIssuesAndClearsIdentity(t *testing.T) {
	d := NewDev()
	var seen []*Identity
	cancel := d.OnIdentityChanged(func(id *Identity) { seen = append(seen, id) })
	defer cancel()

	id, err := d.SignInAnonymously(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Anonymous, id.Kind)
	assert.NotEmpty(t, id.ID)

	require.NoError(t, d.SignOut(context.Background()))
	require.Len(t, seen, 2)
	assert.NotNil(t, seen[0])
	assert.Nil(t, seen[1])
}
