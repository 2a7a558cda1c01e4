package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequireAdmin_AllowsAdminKey_BlocksPublicKey(t *testing.T) {
	keys := Keys{
		Public: []string{"pub_key"},
		Admin:  []string{"adm_key"},
	}

	cases := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"admin header", "X-API-Key", "adm_key", http.StatusOK},
		{"admin bearer", "Authorization", "Bearer adm_key", http.StatusOK},
		{"public key", "X-API-Key", "pub_key", http.StatusForbidden},
		{"missing key", "", "", http.StatusUnauthorized},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/cycles", nil)
		if c.header != "" {
			req.Header.Set(c.header, c.value)
		}
		rec := httptest.NewRecorder()
		RequireAdmin(keys)(okHandler).ServeHTTP(rec, req)
		if rec.Code != c.want {
			t.Fatalf("%s: want %d, got %d", c.name, c.want, rec.Code)
		}
	}
}

func TestRequireAny_AcceptsEitherKeyAndQueryParam(t *testing.T) {
	keys := Keys{Public: []string{"pub_key"}, Admin: []string{"adm_key"}}

	for _, target := range []string{"/api/events?api_key=pub_key", "/api/events?api_key=adm_key"} {
		rec := httptest.NewRecorder()
		RequireAny(keys)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: want 200, got %d", target, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	RequireAny(keys)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?api_key=nope", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown key should be 401; got %d", rec.Code)
	}
}

func TestNoKeysConfiguredIsOpen(t *testing.T) {
	rec := httptest.NewRecorder()
	RequireAdmin(Keys{})(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200 without configured keys, got %d", rec.Code)
	}
}
