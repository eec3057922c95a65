package auth

import (
	"context"
	"net/http/httptest"
	"testing"
)

func TestParseBearer(t *testing.T) {
	t.Parallel()
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{header: "", ok: false},
		{header: "Basic abc", ok: false},
		{header: "Bearer ", ok: false},
		{header: "Bearer vai_sk_1", want: "vai_sk_1", ok: true},
		{header: "bearer  vai_sk_2 ", want: "vai_sk_2", ok: true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/v1/scenarios", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		got, ok := ParseBearer(r)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("ParseBearer(%q) = %q,%v want %q,%v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLiveKey_PrefersHeaderOverQuery(t *testing.T) {
	t.Parallel()
	r := httptest.NewRequest("GET", "/v1/live?api_key=from_query", nil)
	if got := LiveKey(r); got != "from_query" {
		t.Fatalf("LiveKey = %q, want from_query", got)
	}
	r.Header.Set("Authorization", "Bearer from_header")
	if got := LiveKey(r); got != "from_header" {
		t.Fatalf("LiveKey = %q, want from_header", got)
	}
}

func TestPrincipalRoundTrip(t *testing.T) {
	t.Parallel()
	if _, ok := PrincipalFrom(context.Background()); ok {
		t.Fatalf("empty context should carry no principal")
	}
	ctx := WithPrincipal(context.Background(), &Principal{APIKey: "k"})
	p, ok := PrincipalFrom(ctx)
	if !ok || p.APIKey != "k" {
		t.Fatalf("principal = %+v, %v", p, ok)
	}
}
