package controllers

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/fsystem/portal/pkg/application"
	"github.com/fsystem/portal/pkg/authz"
	"github.com/fsystem/portal/pkg/httpapi"
	"github.com/fsystem/portal/pkg/middleware"
)

var testSecret = []byte("grants-controller-test-secret")

func accessPath(name string) string {
	return filepath.Join("..", "..", "..", "..", "config", "access", name)
}

func newTestAuthz(t *testing.T, mode authz.Mode) *authz.Service {
	t.Helper()
	svc, err := authz.NewService(authz.Config{
		ModelPath:     accessPath("model.conf"),
		PolicyPath:    accessPath("policy.csv"),
		OverridesPath: accessPath("overrides.json"),
		FlagProvider:  authz.StaticFlagProvider(mode),
	})
	require.NoError(t, err)
	return svc
}

func testOptions(az Authorizer) Options {
	return Options{Auth: middleware.AuthOptions{Secret: testSecret}, Authz: az}
}

func bearer(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := middleware.IssueToken(testSecret, &middleware.Claims{
		Email:       userID + "@example.org",
		AppMetadata: middleware.AppMetadata{Role: role},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	require.NoError(t, err)
	return "Bearer " + token
}

type testClient struct {
	t      *testing.T
	router *mux.Router
	token  string
}

func newTestClient(t *testing.T, role string, controllers ...application.Controller) *testClient {
	t.Helper()
	r := mux.NewRouter()
	for _, c := range controllers {
		c.Register(r)
	}
	return &testClient{t: t, router: r, token: bearer(t, "u-1", role)}
}

func (c *testClient) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		require.NoError(c.t, json.NewEncoder(&buf).Encode(v))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-grants-test")
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}
	rr := httptest.NewRecorder()
	c.router.ServeHTTP(rr, req)
	return rr
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) httpapi.ErrorEnvelope {
	t.Helper()
	var env httpapi.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), strings.TrimSpace(rr.Body.String()))
	return env
}

func requireAPIError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) httpapi.ErrorEnvelope {
	t.Helper()
	require.Equal(t, status, rr.Code, strings.TrimSpace(rr.Body.String()))
	env := decodeEnvelope(t, rr)
	require.Equal(t, code, env.Code)
	require.Equal(t, "req-grants-test", env.Meta["request_id"])
	return env
}
