package auth

import (
	"context"
	"errors"
	"fmt"
)

// HostClaims is the subset of a verified host JWT the pipeline cares
// about (spec.md §4.11).
type HostClaims struct {
	Subject  string
	TenantID string
	Tier     string
}

// Verifier decodes and verifies a host's bearer token into HostClaims. It
// is satisfied by *KeycloakVerifier.
type Verifier interface {
	VerifyHost(ctx context.Context, tokenStr string) (HostClaims, error)
}

// VerifyHost verifies tokenStr against the Keycloak JWKS endpoint and
// extracts the claims the pipeline needs. Unlike the teacher's
// VerifyToken (which hands back the raw jwt.MapClaims for the caller to
// pick through), this narrows straight to HostClaims since a WebSocket
// upgrade only ever needs subject/tenant/tier.
func (v *KeycloakVerifier) VerifyHost(ctx context.Context, tokenStr string) (HostClaims, error) {
	claims, err := v.VerifyToken(ctx, tokenStr)
	if err != nil {
		return HostClaims{}, err
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return HostClaims{}, errors.New("token missing sub claim")
	}

	tenant, _ := claims["tenant_id"].(string)

	tier := "basic"
	if t, ok := claims["tier"].(string); ok && t != "" {
		tier = t
	}

	return HostClaims{Subject: sub, TenantID: tenant, Tier: tier}, nil
}

// errUnverified is what Disabled returns for every token. cmd/server
// installs Disabled when KEYCLOAK_ISSUER is unset, so no host is accepted
// until Keycloak is configured.
var errUnverified = fmt.Errorf("auth: verification disabled")

// Disabled is a Verifier that rejects every token; wiring it in place of
// a real Verifier makes "auth required but misconfigured" fail closed
// rather than silently accepting unauthenticated hosts.
type Disabled struct{}

func (Disabled) VerifyHost(ctx context.Context, tokenStr string) (HostClaims, error) {
	return HostClaims{}, errUnverified
}
