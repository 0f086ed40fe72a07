package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/fsystem/portal/pkg/composables"
	"github.com/fsystem/portal/pkg/httpapi"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Claims follows the Supabase access token layout.
type Claims struct {
	Email       string      `json:"email,omitempty"`
	AppMetadata AppMetadata `json:"app_metadata"`
	jwt.RegisteredClaims
}

type AppMetadata struct {
	Role  string   `json:"role,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

type AuthOptions struct {
	Secret []byte
	Issuer string // checked when set
	Leeway time.Duration
	Now    func() time.Time
}

// ParseToken verifies an HS256 token and returns its claims.
func ParseToken(raw string, opts AuthOptions) (*Claims, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.Wrap(ErrInvalidToken, "no signing secret configured")
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return opts.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err.Error())
	}
	t := now()
	switch {
	case strings.TrimSpace(claims.Subject) == "":
		return nil, errors.Wrap(ErrInvalidToken, "token has no subject")
	case !claims.VerifyExpiresAt(t.Add(-opts.Leeway), true):
		return nil, errors.Wrap(ErrInvalidToken, "token is expired")
	case !claims.VerifyNotBefore(t.Add(opts.Leeway), false):
		return nil, errors.Wrap(ErrInvalidToken, "token is not valid yet")
	case opts.Issuer != "" && !claims.VerifyIssuer(opts.Issuer, true):
		return nil, errors.Wrap(ErrInvalidToken, "unexpected issuer")
	}
	return claims, nil
}

// IssueToken signs claims with HS256. Used by the CLI and tests.
func IssueToken(secret []byte, claims *Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (c *Claims) User() *composables.User {
	roles := make([]string, 0, len(c.AppMetadata.Roles)+1)
	if r := strings.TrimSpace(c.AppMetadata.Role); r != "" {
		roles = append(roles, strings.ToLower(r))
	}
	for _, r := range c.AppMetadata.Roles {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			roles = append(roles, r)
		}
	}
	return &composables.User{ID: c.Subject, Email: c.Email, Roles: roles}
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(auth[7:])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// Authenticate rejects requests without a valid bearer token and stores the
// resolved user in the context.
func Authenticate(opts AuthOptions) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw, err := bearerToken(r)
			if err == nil {
				var claims *Claims
				if claims, err = ParseToken(raw, opts); err == nil {
					next.ServeHTTP(w, r.WithContext(composables.WithUser(ctx, claims.User())))
					return
				}
			}
			composables.UseLogger(ctx).WithError(err).Info("authentication failed")
			w.Header().Set("WWW-Authenticate", `Bearer realm="fsystem"`)
			_ = httpapi.WriteError(w, http.StatusUnauthorized, "AUTH_UNAUTHENTICATED", "authentication required",
				httpapi.RequestMeta(composables.UseRequestID(ctx)))
		})
	}
}
