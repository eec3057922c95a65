// Package auth carries the authenticated gateway caller through request
// contexts.
package auth

import (
	"context"
	"net/http"
	"strings"
)

type Principal struct {
	APIKey string
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if len(authz) <= len(prefix) || !strings.EqualFold(authz[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(authz[len(prefix):])
	return token, token != ""
}

// LiveKey returns the gateway key for a websocket upgrade. Browsers cannot
// set Authorization on upgrades, so the api_key query parameter is accepted
// as well.
func LiveKey(r *http.Request) string {
	if token, ok := ParseBearer(r); ok {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("api_key"))
}
