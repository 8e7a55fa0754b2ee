package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func requestAs(method, userID string) *http.Request {
	req := httptest.NewRequest(method, "/api/tweets", nil)
	if userID != "" {
		req = req.WithContext(ContextWithUserID(req.Context(), userID))
	}
	return req
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func testConfig(generalBurst, writeBurst int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    generalBurst,
		WriteRate:       0.5,
		WriteBurst:      writeBurst,
		SignupRate:      0.1,
		SignupBurst:     2,
		CleanupInterval: time.Minute,
	}
}

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(testConfig(5, 10), discardLogger())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(http.MethodGet, "user-1"))
		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}
}

func TestRateLimitMiddleware_Returns429WhenLimitExceeded(t *testing.T) {
	rl := NewRateLimiter(testConfig(2, 10), discardLogger())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(http.MethodGet, "user-rate-limit"))
		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(http.MethodGet, "user-rate-limit"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	if got := resp.Header.Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want %q", got, "1")
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q, want RATE_LIMIT_EXCEEDED", body.Code)
	}
}

func TestRateLimitMiddleware_IsolatesUserRateLimits(t *testing.T) {
	rl := NewRateLimiter(testConfig(1, 10), discardLogger())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(http.MethodGet, "user-a"))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(http.MethodGet, "user-a"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Fatalf("user-a second request: status = %d, want 429", w.Result().StatusCode)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(http.MethodGet, "user-b"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("user-b: status = %d, want 200", w.Result().StatusCode)
	}
}

func TestRateLimitMiddleware_NoUserID_Returns401(t *testing.T) {
	rl := NewRateLimiter(testConfig(5, 10), discardLogger())
	defer rl.Stop()

	called := false
	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(http.MethodGet, ""))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
	if called {
		t.Error("handler should not be called without a user")
	}
}

func TestWriteRateLimit_OnlyAppliesToMutatingMethods(t *testing.T) {
	rl := NewRateLimiter(testConfig(100, 1), discardLogger())
	defer rl.Stop()

	handler := rl.WriteMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(http.MethodGet, "user-w"))
		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("GET %d: status = %d, want 200", i, w.Result().StatusCode)
		}
	}
	if rl.WriteLimiterCount() != 0 {
		t.Errorf("write limiter count = %d, want 0 after GETs", rl.WriteLimiterCount())
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(http.MethodPost, "user-w"))
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("first POST: status = %d, want 200", w.Result().StatusCode)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(http.MethodDelete, "user-w"))
	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("DELETE: status = %d, want 429", resp.StatusCode)
	}
	// 30 req/min なので1トークンの補充に2秒かかる
	if got, want := resp.Header.Get("Retry-After"), strconv.Itoa(2); got != want {
		t.Errorf("Retry-After = %q, want %q", got, want)
	}
}

func TestWriteRateLimit_IndependentFromGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(testConfig(1, 10), discardLogger())
	defer rl.Stop()

	general := rl.GeneralMiddleware()(okHandler())
	write := rl.WriteMiddleware()(okHandler())

	w := httptest.NewRecorder()
	general.ServeHTTP(w, requestAs(http.MethodGet, "user-ind"))
	w = httptest.NewRecorder()
	general.ServeHTTP(w, requestAs(http.MethodGet, "user-ind"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Fatalf("general: status = %d, want 429", w.Result().StatusCode)
	}

	w = httptest.NewRecorder()
	write.ServeHTTP(w, requestAs(http.MethodPost, "user-ind"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("write: status = %d, want 200", w.Result().StatusCode)
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	cfg := testConfig(5, 10)
	cfg.CleanupInterval = 50 * time.Millisecond

	rl := NewRateLimiter(cfg, discardLogger())
	defer rl.Stop()

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestAs(http.MethodGet, "user-cleanup"))
	if rl.GeneralLimiterCount() == 0 {
		t.Fatal("expected at least one limiter entry")
	}

	// TTLはCleanupIntervalの2倍（100ms）
	time.Sleep(250 * time.Millisecond)

	if count := rl.GeneralLimiterCount(); count != 0 {
		t.Errorf("expected 0 limiter entries after cleanup, got %d", count)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testConfig(1, 1), discardLogger())
	rl.Stop()
	rl.Stop()
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != 2.0 {
		t.Errorf("GeneralRate = %f, want 2.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.WriteRate != 0.5 {
		t.Errorf("WriteRate = %f, want 0.5", cfg.WriteRate)
	}
	if cfg.WriteBurst != 30 {
		t.Errorf("WriteBurst = %d, want 30", cfg.WriteBurst)
	}
	if cfg.SignupBurst != 5 {
		t.Errorf("SignupBurst = %d, want 5", cfg.SignupBurst)
	}
}

func signupRequest(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/users", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func TestSignupRateLimit_KeyedByClientIP(t *testing.T) {
	rl := NewRateLimiter(testConfig(100, 100), discardLogger())
	defer rl.Stop()

	handler := rl.SignupMiddleware()(okHandler())

	// 未認証でも401にならず、同一IPはポートが違っても同じ枠を使う
	for i, addr := range []string{"198.51.100.7:1000", "198.51.100.7:2000"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, signupRequest(addr))
		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Result().StatusCode)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, signupRequest("198.51.100.7:3000"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Result().StatusCode)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, signupRequest("203.0.113.9:1000"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("other ip: status = %d, want 200", w.Result().StatusCode)
	}
	if got := rl.SignupLimiterCount(); got != 2 {
		t.Errorf("SignupLimiterCount = %d, want 2", got)
	}
}

func TestSignupRateLimit_IgnoresForwardedHeader(t *testing.T) {
	rl := NewRateLimiter(testConfig(100, 100), discardLogger())
	defer rl.Stop()

	handler := rl.SignupMiddleware()(okHandler())
	var last int
	for i := 0; i < 3; i++ {
		req := signupRequest("198.51.100.7:1000")
		req.Header.Set("X-Forwarded-For", "192.0.2."+strconv.Itoa(i))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		last = w.Result().StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", last)
	}
}
