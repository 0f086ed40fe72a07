package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"

	"github.com/fsystem/portal/pkg/composables"
)

var testSecret = []byte("test-secret")

func signed(t *testing.T, claims *Claims) string {
	t.Helper()
	tok, err := IssueToken(testSecret, claims)
	require.NoError(t, err)
	return tok
}

func validClaims() *Claims {
	return &Claims{
		Email:       "finance@example.org",
		AppMetadata: AppMetadata{Role: "Finance", Roles: []string{"viewer"}},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestParseToken(t *testing.T) {
	opts := AuthOptions{Secret: testSecret}

	claims, err := ParseToken(signed(t, validClaims()), opts)
	require.NoError(t, err)
	u := claims.User()
	require.Equal(t, "u-1", u.ID)
	require.Equal(t, []string{"finance", "viewer"}, u.Roles)

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	_, err = ParseToken(signed(t, expired), opts)
	require.ErrorIs(t, err, ErrInvalidToken)

	// leeway tolerates small clock skew
	skewed := validClaims()
	skewed.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-5 * time.Second))
	_, err = ParseToken(signed(t, skewed), AuthOptions{Secret: testSecret, Leeway: time.Minute})
	require.NoError(t, err)

	noSub := validClaims()
	noSub.Subject = ""
	_, err = ParseToken(signed(t, noSub), opts)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = ParseToken(signed(t, validClaims()), AuthOptions{Secret: []byte("other")})
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = ParseToken(signed(t, validClaims()), AuthOptions{Secret: testSecret, Issuer: "https://auth.example.org"})
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticate(t *testing.T) {
	var got *composables.User
	h := Authenticate(AuthOptions{Secret: testSecret})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := composables.UseUser(r.Context())
		require.NoError(t, err)
		got = u
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/pool/summary", nil)
	req.Header.Set("Authorization", "Bearer "+signed(t, validClaims()))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "u-1", got.ID)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pool/summary", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "AUTH_UNAUTHENTICATED")
}
