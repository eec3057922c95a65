// Package principal derives the rate-limit identity of a caller.
package principal

import (
	"net"
	"net/http"
	"strings"

	"github.com/vango-go/vai-agents/pkg/gateway/auth"
	"github.com/vango-go/vai-agents/pkg/gateway/config"
	"github.com/vango-go/vai-agents/pkg/gateway/ratelimit"
)

type Kind string

const (
	KindAPIKey Kind = "api_key"
	KindIP     Kind = "ip"
	KindAnon   Kind = "anonymous"
)

type Resolved struct {
	Kind Kind
	// Key is hashed and safe for maps and logs.
	Key string
}

var anonymous = Resolved{Kind: KindAnon, Key: "anonymous"}

// Resolve prefers the authenticated key on the context, then the client IP.
func Resolve(r *http.Request, cfg config.Config) Resolved {
	if r == nil {
		return anonymous
	}
	if p, ok := auth.PrincipalFrom(r.Context()); ok && strings.TrimSpace(p.APIKey) != "" {
		return FromAPIKey(p.APIKey)
	}
	ip := ClientIP(r, cfg.TrustProxyHeaders)
	if ip == "" {
		return anonymous
	}
	return Resolved{Kind: KindIP, Key: ratelimit.PrincipalKeyFromIP(ip)}
}

func FromAPIKey(apiKey string) Resolved {
	return Resolved{Kind: KindAPIKey, Key: ratelimit.PrincipalKeyFromAPIKey(apiKey)}
}

// ClientIP reads X-Forwarded-For (left-most hop) and X-Real-IP only when
// trustProxy is set; otherwise RemoteAddr.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if raw := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); raw != "" {
			first, _, _ := strings.Cut(raw, ",")
			if ip := normalizeIP(first); ip != "" {
				return ip
			}
		}
		if ip := normalizeIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	return normalizeIP(r.RemoteAddr)
}

func normalizeIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return ""
	}
	return ip.String()
}
