package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"

	"ms-checkin/internal/logger"
)

// Verifier turns a raw bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, raw string) (Identity, error)
}

// OIDCVerifier validates tokens issued by an OpenID Connect provider such as
// Keycloak. The role is read from a top-level "role" claim or, failing that,
// from Keycloak's realm_access.roles.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(ctx context.Context, issuer string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("create OIDC provider for %s: %w", issuer, err)
	}
	// SkipClientIDCheck: access tokens are minted for several clients
	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{SkipClientIDCheck: true})}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (Identity, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid token: %w", err)
	}

	var claims struct {
		Sub         string `json:"sub"`
		Name        string `json:"name"`
		Email       string `json:"email"`
		Role        string `json:"role"`
		RealmAccess struct {
			Roles []string `json:"roles"`
		} `json:"realm_access"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("failed to parse claims: %w", err)
	}

	roles := append([]string{claims.Role}, claims.RealmAccess.Roles...)
	return identityFromClaims(claims.Sub, claims.Name, claims.Email, roles...)
}

// Middleware resolves the caller once per request and stores the Identity in
// the request context. Requests without a valid bearer token are rejected.
func Middleware(v Verifier, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := ExtractTokenFromRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			id, err := v.Verify(r.Context(), raw)
			if err != nil {
				log.LogSecurity("INVALID_TOKEN", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// Optional resolves the caller when a bearer token is present and lets
// anonymous requests through. A token that fails verification is still
// rejected.
func Optional(v Verifier, log *logger.Logger) func(http.Handler) http.Handler {
	strict := Middleware(v, log)
	return func(next http.Handler) http.Handler {
		withIdentity := strict(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				next.ServeHTTP(w, r)
				return
			}
			withIdentity.ServeHTTP(w, r)
		})
	}
}

// Require lets the request through only when the resolved identity holds c.
func Require(c Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			if !id.Can(c) {
				http.Error(w, fmt.Sprintf("role %s cannot %s", id.Role, c), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
