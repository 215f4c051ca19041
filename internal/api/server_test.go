package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adlib/coffee-chat/internal/matching"
	"github.com/adlib/coffee-chat/internal/matchmaker"
	"github.com/adlib/coffee-chat/internal/pool"
	"github.com/adlib/coffee-chat/internal/ratelimit"
	"github.com/adlib/coffee-chat/internal/store"
)

var refTime = time.Date(2020, 1, 1, 19, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, opts ...Option) http.Handler {
	t.Helper()
	n := 0
	finder := matching.NewFinder(matching.DefaultRules(), matching.WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("match-%d", n)
	}))
	svc := matchmaker.New(pool.NewMemoryPool(), store.NewMemoryMatchStore(), store.NewMemoryUserStore(),
		matchmaker.WithClock(func() time.Time { return refTime }),
		matchmaker.WithFinder(finder),
	)
	return NewServer(svc, opts...).Handler()
}

func joinBody(pref string, duration int) []byte {
	body, _ := json.Marshal(joinRequest{FormDetails: formDetails{
		EndTimeAvailable: refTime.Add(100 * time.Minute).UnixMilli(),
		Duration:         duration,
		Role:             "Engineer",
		ProductArea:      "Ads",
		MatchPreference:  pref,
		SavePreference:   true,
	}})
	return body
}

func do(h http.Handler, method, path, email string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if email != "" {
		req.Header.Set(headerIAPEmail, iapEmailPrefix+email)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestJoinAndMatch(t *testing.T) {
	h := newTestServer(t)

	rec := do(h, http.MethodPost, "/api/v1/participants", "alice@example.com", joinBody("any", 30))
	if rec.Code != http.StatusOK {
		t.Fatalf("first join: status %d body %s", rec.Code, rec.Body)
	}
	first := decode[outcomeResponse](t, rec)
	if first.Matched || first.Participant.Username != "alice" || first.Participant.Status != "unmatched" {
		t.Errorf("unexpected first outcome: %+v", first)
	}

	rec = do(h, http.MethodPost, "/api/v1/participants", "bob@example.com", joinBody("similar", 30))
	if rec.Code != http.StatusOK {
		t.Fatalf("second join: status %d body %s", rec.Code, rec.Body)
	}
	second := decode[outcomeResponse](t, rec)
	if !second.Matched || second.Match.Partner != "alice" || second.Match.Duration != 30 {
		t.Fatalf("unexpected second outcome: %+v", second)
	}

	rec = do(h, http.MethodGet, "/api/v1/participants/me", "alice@example.com", nil)
	status := decode[outcomeResponse](t, rec)
	if !status.Matched || status.Match.ID != second.Match.ID || status.Match.Partner != "bob" {
		t.Errorf("alice status: %+v", status)
	}

	rec = do(h, http.MethodGet, "/api/v1/matches/"+second.Match.ID, "alice@example.com", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get match as participant: %d", rec.Code)
	}
	rec = do(h, http.MethodGet, "/api/v1/matches/"+second.Match.ID, "mallory@example.com", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get match as outsider: %d", rec.Code)
	}

	rec = do(h, http.MethodGet, "/api/v1/users/me", "bob@example.com", nil)
	profile := decode[profileResponse](t, rec)
	if profile.MatchPreference != "similar" || profile.Role != "Engineer" {
		t.Errorf("saved profile: %+v", profile)
	}
}

func TestJoin_Validation(t *testing.T) {
	h := newTestServer(t)

	rec := do(h, http.MethodPost, "/api/v1/participants", "alice@example.com", joinBody("any", 0))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero duration: status %d", rec.Code)
	}
	if e := decode[errorResponse](t, rec); e.Message != "Invalid duration." || e.Code != "invalid_request" {
		t.Errorf("error body: %+v", e)
	}

	rec = do(h, http.MethodPost, "/api/v1/participants", "alice@example.com", joinBody("any", 1<<40))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("huge duration: status %d", rec.Code)
	}
	if e := decode[errorResponse](t, rec); e.Message != "Invalid duration." {
		t.Errorf("huge duration body: %+v", e)
	}

	rec = do(h, http.MethodPost, "/api/v1/participants", "alice@example.com", []byte("{not json"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: status %d", rec.Code)
	}

	rec = do(h, http.MethodPost, "/api/v1/participants", "alice@example.com", joinBody("sometimes", 30))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad preference: status %d", rec.Code)
	}
}

func TestIdentity(t *testing.T) {
	h := newTestServer(t)

	rec := do(h, http.MethodPost, "/api/v1/participants", "", joinBody("any", 30))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no identity: status %d", rec.Code)
	}
	if e := decode[errorResponse](t, rec); e.Message != "Could not retrieve email." {
		t.Errorf("error body: %+v", e)
	}

	fallback := func(h http.Handler) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/participants", bytes.NewReader(joinBody("any", 30)))
		req.Header.Set(headerUserEmail, "carol@example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := fallback(h); rec.Code != http.StatusUnauthorized {
		t.Errorf("untrusted fallback header: status %d, want 401", rec.Code)
	}

	rec = fallback(newTestServer(t, WithTrustUserHeader(true)))
	if rec.Code != http.StatusOK {
		t.Fatalf("trusted fallback header: status %d", rec.Code)
	}
	if out := decode[outcomeResponse](t, rec); out.Participant.Username != "carol" {
		t.Errorf("username = %q", out.Participant.Username)
	}
}

func TestUsernameFromRequest(t *testing.T) {
	tests := []struct {
		iap, fallback, want string
		trust, ok           bool
	}{
		{"accounts.google.com:alice@google.com", "", "alice", false, true},
		{"bob@google.com", "", "bob", false, true},
		{"", "carol@example.com", "carol", true, true},
		{"", "carol@example.com", "", false, false},
		{"accounts.google.com:dave@google.com", "eve@example.com", "dave", true, true},
		{"", "", "", true, false},
		{"accounts.google.com:@google.com", "", "", false, false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.iap != "" {
			req.Header.Set(headerIAPEmail, tt.iap)
		}
		if tt.fallback != "" {
			req.Header.Set(headerUserEmail, tt.fallback)
		}
		got, err := usernameFromRequest(req, tt.trust)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("iap=%q fallback=%q trust=%v: got %q, %v", tt.iap, tt.fallback, tt.trust, got, err)
		}
	}
}

func TestLeave(t *testing.T) {
	h := newTestServer(t)
	do(h, http.MethodPost, "/api/v1/participants", "alice@example.com", joinBody("any", 30))

	rec := do(h, http.MethodDelete, "/api/v1/participants/me", "alice@example.com", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("leave: status %d", rec.Code)
	}
	rec = do(h, http.MethodDelete, "/api/v1/participants/me", "alice@example.com", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second leave: status %d", rec.Code)
	}
	rec = do(h, http.MethodGet, "/api/v1/participants/me", "alice@example.com", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status after leave: %d", rec.Code)
	}
}

func TestJoin_RateLimited(t *testing.T) {
	rule := ratelimit.Rule{Key: "rl:join:", Limit: 2, Window: time.Minute}
	h := newTestServer(t, WithRateLimit(ratelimit.NewMemoryLimiter(), rule))

	for i, want := range []string{"1", "0"} {
		rec := do(h, http.MethodPost, "/api/v1/participants", "alice@example.com", joinBody("any", 30))
		if rec.Code != http.StatusOK {
			t.Fatalf("join %d: status %d", i+1, rec.Code)
		}
		if got := rec.Header().Get(headerRateLimitRemaining); got != want {
			t.Errorf("join %d: remaining = %q, want %q", i+1, got, want)
		}
	}
	rec := do(h, http.MethodPost, "/api/v1/participants", "alice@example.com", joinBody("any", 30))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("third join: status %d", rec.Code)
	}
	if got := rec.Header().Get(headerRateLimitRemaining); got != "0" {
		t.Errorf("rejected join: remaining = %q, want 0", got)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(t)

	rec := do(h, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || decode[map[string]string](t, rec)["status"] != "healthy" {
		t.Errorf("health: %d %s", rec.Code, rec.Body)
	}
	rec = do(h, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("adlib_")) {
		t.Errorf("metrics: %d", rec.Code)
	}
}

func TestCORS_Preflight(t *testing.T) {
	h := newTestServer(t, WithCORSOrigins([]string{"https://adlib.example.com"}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/participants", nil)
	req.Header.Set("Origin", "https://adlib.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://adlib.example.com" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestCORS_UserHeaderOnlyWhenTrusted(t *testing.T) {
	preflight := func(h http.Handler) string {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/participants", nil)
		req.Header.Set("Origin", "https://adlib.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", headerUserEmail)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Header().Get("Access-Control-Allow-Origin")
	}

	if got := preflight(newTestServer(t)); got != "" {
		t.Errorf("untrusted server allowed %s from %q", headerUserEmail, got)
	}
	if got := preflight(newTestServer(t, WithTrustUserHeader(true))); got == "" {
		t.Errorf("trusted server refused %s", headerUserEmail)
	}
}
