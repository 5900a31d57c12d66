/*
auth.go - Bearer token authentication

PURPOSE:
  Turns "Authorization: Bearer <jwt>" into a points.Principal on the
  request context. Tokens are HS256, issued by the auth bridge in front of
  this service; "sub" is the account id and "name"/"email" are optional.

ROLE:
  The role is read from the account row on every request and never
  taken from the token. A token claiming admin changes nothing.

FIRST LOGIN:
  Unknown subjects are created through EnsureAccount with zero points and
  the user role.

SEE ALSO:
  - server.go: where the middleware is mounted
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/points-engine/points"
)

// Claims is the token payload.
type Claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// AccountResolver creates or loads the account behind a token subject.
type AccountResolver interface {
	EnsureAccount(ctx context.Context, profile points.Profile) (*points.Account, error)
}

type Authenticator struct {
	Secret   []byte
	Issuer   string // empty accepts any issuer
	Accounts AccountResolver
}

type principalKey struct{}

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p points.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal set by Authenticate.
func PrincipalFrom(ctx context.Context) (points.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(points.Principal)
	return p, ok
}

// Middleware rejects requests without a valid token with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const bearer = "Bearer "
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, bearer) {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "Authorization header must be a Bearer token")
			return
		}

		claims, err := a.Parse(strings.TrimSpace(header[len(bearer):]))
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "Token has expired"
			}
			writeError(w, http.StatusUnauthorized, codeUnauthorized, msg)
			return
		}

		acct, err := a.Accounts.EnsureAccount(r.Context(), points.Profile{
			ID:    points.AccountID(claims.Subject),
			Name:  claims.Name,
			Email: claims.Email,
		})
		if err != nil {
			status, resp := statusFor(err)
			writeJSON(w, status, resp)
			return
		}

		ctx := WithPrincipal(r.Context(), points.Principal{UserID: acct.ID, Role: acct.Role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Parse verifies the signature and standard claims.
func (a *Authenticator) Parse(token string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.Issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.Secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// IssueToken signs a token for profile. Used by tests and by the server's
// -issue-token flag for local development.
func (a *Authenticator) IssueToken(profile points.Profile, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Name:  profile.Name,
		Email: profile.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(profile.ID),
			Issuer:    a.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
}
