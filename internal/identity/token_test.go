package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthenticator(t *testing.T, issuer string) *Authenticator {
	t.Helper()
	a, err := NewAuthenticator(Config{SigningKey: "test-secret", Issuer: issuer})
	require.NoError(t, err)
	return a
}

func TestNewAuthenticator_RequiresKey(t *testing.T) {
	_, err := NewAuthenticator(Config{})
	assert.ErrorIs(t, err, ErrMissingSigningKey)
}

func TestAuthenticator_IssueAndValidate(t *testing.T) {
	a := newTestAuthenticator(t, "status-aggregator")

	token, err := a.Issue("ops", time.Hour)
	require.NoError(t, err)

	subject, err := a.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "ops", subject)
}

func TestAuthenticator_IssueRequiresSubject(t *testing.T) {
	_, err := newTestAuthenticator(t, "").Issue("", time.Hour)
	assert.ErrorIs(t, err, ErrMissingSubject)
}

func TestAuthenticator_Rejects(t *testing.T) {
	a := newTestAuthenticator(t, "status-aggregator")
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	sign := func(method jwt.SigningMethod, key any, claims jwt.Claims) string {
		token, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return token
	}
	valid := func() jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Issuer:    "status-aggregator",
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
	noExpiry := valid()
	noExpiry.ExpiresAt = nil
	wrongIssuer := valid()
	wrongIssuer.Issuer = "someone-else"
	noSubject := valid()
	noSubject.Subject = ""

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong key", sign(jwt.SigningMethodHS256, []byte("other"), valid())},
		{"wrong algorithm", sign(jwt.SigningMethodHS384, []byte("test-secret"), valid())},
		{"expired", sign(jwt.SigningMethodHS256, []byte("test-secret"), expired)},
		{"no expiry", sign(jwt.SigningMethodHS256, []byte("test-secret"), noExpiry)},
		{"wrong issuer", sign(jwt.SigningMethodHS256, []byte("test-secret"), wrongIssuer)},
		{"no subject", sign(jwt.SigningMethodHS256, []byte("test-secret"), noSubject)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.ValidateToken(context.Background(), tt.token)
			assert.Error(t, err)
		})
	}
}
