package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExtractTokenFromRequest extracts a JWT token from an HTTP request's Authorization header
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header is missing")
	}

	// Bearer token format: "Bearer {token}"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}

	return parts[1], nil
}

// Claims is the token body this service signs and accepts.
type Claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// HS256Verifier validates tokens signed with a shared secret.
type HS256Verifier struct {
	Secret []byte
}

func (v *HS256Verifier) Verify(_ context.Context, raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, errors.New("empty token")
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, fmt.Errorf("failed to parse token: %w", err)
	}

	return identityFromClaims(claims.Subject, claims.Name, claims.Email, claims.Role)
}

func identityFromClaims(sub, name, email string, roles ...string) (Identity, error) {
	if sub == "" {
		return Identity{}, errors.New("subject claim not found in token")
	}
	for _, r := range roles {
		if role, ok := ParseRole(r); ok {
			return Identity{UserID: sub, Name: name, Email: email, Role: role}, nil
		}
	}
	return Identity{}, fmt.Errorf("token for %s carries no known role", sub)
}

// SignToken issues an HS256 token for id, valid for ttl. The gate-scanner
// uses it for local setups and tests use it to build requests.
func SignToken(secret []byte, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:  id.Name,
		Email: id.Email,
		Role:  string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
