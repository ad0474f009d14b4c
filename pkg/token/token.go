// Package token extracts the tenant identifier from a gateway auth
// token.
//
// The gateway validates token signatures; the client only needs the
// organizationId claim to enforce channel isolation locally, so the
// token is parsed without signature verification. Treat the result as
// a label, not as proof of identity.
package token

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TenantClaim is the JWT claim carrying the tenant identifier.
const TenantClaim = "organizationId"

// ErrNoTenant indicates the token carries no tenant claim.
var ErrNoTenant = errors.New("token has no organizationId claim")

// TenantID extracts the tenant identifier from a JWT auth token
// without verifying its signature.
func TenantID(tokenString string) (string, error) {
	parser := jwt.NewParser()

	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	tenant, ok := claims[TenantClaim].(string)
	if !ok || tenant == "" {
		return "", ErrNoTenant
	}
	return tenant, nil
}
