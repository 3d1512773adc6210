package idempotency

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newCountingHandler(status int, body string, calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Set-Cookie", "a=b")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func post(h http.Handler, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{}`))
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewarePassesThroughWithoutKey(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()
	calls := 0
	h := Middleware(store, time.Hour)(newCountingHandler(http.StatusOK, `{"success":true}`, &calls))

	post(h, "/api/checkout/verify-otp", "")
	post(h, "/api/checkout/verify-otp", "")

	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if store.Len() != 0 {
		t.Fatalf("expected nothing cached, got %d", store.Len())
	}
}

func TestMiddlewareReplaysSuccess(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()
	calls := 0
	h := Middleware(store, time.Hour)(newCountingHandler(http.StatusOK, `{"success":true,"clientSecret":"cs"}`, &calls))

	first := post(h, "/api/checkout/verify-otp", "k1")
	second := post(h, "/api/checkout/verify-otp", "k1")

	if calls != 1 {
		t.Fatalf("expected handler once, got %d", calls)
	}
	if second.Header().Get(HeaderReplay) != "true" {
		t.Error("expected replay header")
	}
	if first.Header().Get(HeaderReplay) != "" {
		t.Error("first response must not be marked as replay")
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("replayed body %q, want %q", second.Body.String(), first.Body.String())
	}
	if got := second.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("content type %q", got)
	}
	if got := second.Header().Get("Set-Cookie"); got != "" {
		t.Errorf("cookie replayed: %q", got)
	}
}

func TestMiddlewareScopesKeysByPath(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()
	calls := 0
	h := Middleware(store, time.Hour)(newCountingHandler(http.StatusOK, "ok", &calls))

	post(h, "/api/checkout/verify-otp", "shared")
	post(h, "/api/checkout/confirm", "shared")

	if calls != 2 {
		t.Fatalf("expected 2 calls across paths, got %d", calls)
	}
}

func TestMiddlewareDoesNotCacheFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"bad request", http.StatusBadRequest},
		{"conflict", http.StatusConflict},
		{"rate limited", http.StatusTooManyRequests},
		{"server error", http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore(time.Hour)
			defer store.Close()
			calls := 0
			h := Middleware(store, time.Hour)(newCountingHandler(tt.status, "no", &calls))

			post(h, "/x", "k")
			rec := post(h, "/x", "k")
			if calls != 2 {
				t.Errorf("expected retry to reach handler, got %d calls", calls)
			}
			if rec.Code != tt.status {
				t.Errorf("status %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestMiddlewareIgnoresOversizedKey(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()
	calls := 0
	h := Middleware(store, time.Hour)(newCountingHandler(http.StatusOK, "ok", &calls))

	long := string(bytes.Repeat([]byte("k"), maxKeyLength+1))
	post(h, "/x", long)
	post(h, "/x", long)
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestMiddlewareImplicitOK(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()
	calls := 0
	h := Middleware(store, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte("implicit"))
	}))

	post(h, "/x", "k")
	rec := post(h, "/x", "k")
	if calls != 1 || rec.Body.String() != "implicit" {
		t.Fatalf("calls=%d body=%q", calls, rec.Body.String())
	}
}
