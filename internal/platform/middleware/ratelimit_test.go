package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

type stepClock struct{ t time.Time }

func (s *stepClock) now() time.Time { return s.t }

func hit(t *testing.T, h echo.HandlerFunc, key string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", nil)
	req.Header.Set("X-Key", key)
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func limited(cfg RateLimitConfig, clk *stepClock) echo.HandlerFunc {
	cfg.KeyFunc = func(c echo.Context) string { return c.Request().Header.Get("X-Key") }
	return rateLimit(cfg, clk.now)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}

func TestRateLimit_WithinBurst(t *testing.T) {
	clk := &stepClock{t: time.Unix(0, 0)}
	h := limited(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5}, clk)

	for i := 0; i < 5; i++ {
		rec, err := hit(t, h, "pat-P")
		if err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: X-RateLimit-Limit = %q", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsBurst(t *testing.T) {
	clk := &stepClock{t: time.Unix(0, 0)}
	h := limited(RateLimitConfig{RequestsPerSecond: 0.5, BurstSize: 2}, clk)

	for i := 0; i < 2; i++ {
		if _, err := hit(t, h, "pat-P"); err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
	}

	rec, err := hit(t, h, "pat-P")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if got := rec.Header().Get("Retry-After"); got != "3" {
		t.Errorf("Retry-After = %q, want 3", got)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Error("expected X-RateLimit-Remaining 0")
	}

	clk.t = clk.t.Add(2 * time.Second)
	if _, err := hit(t, h, "pat-P"); err != nil {
		t.Errorf("expected refill after 2s, got %v", err)
	}
}

func TestRateLimit_PerKeyIsolation(t *testing.T) {
	clk := &stepClock{t: time.Unix(0, 0)}
	h := limited(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, clk)

	if _, err := hit(t, h, "pat-P"); err != nil {
		t.Fatalf("first P: %v", err)
	}
	if _, err := hit(t, h, "pat-P"); err == nil {
		t.Fatal("expected second P request to be limited")
	}
	if _, err := hit(t, h, "pat-Q"); err != nil {
		t.Errorf("Q must have its own bucket: %v", err)
	}
}

func TestRateLimit_DefaultKeyIsClientIP(t *testing.T) {
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	e := echo.New()
	call := func(ip string) error {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		return h(e.NewContext(req, httptest.NewRecorder()))
	}
	if err := call("10.0.0.1"); err != nil {
		t.Fatal(err)
	}
	if err := call("10.0.0.1"); err == nil {
		t.Error("expected same IP to be limited")
	}
	if err := call("10.0.0.2"); err != nil {
		t.Errorf("other IP limited: %v", err)
	}
}

func TestTokenBucket_ZeroRate(t *testing.T) {
	now := time.Unix(0, 0)
	b := newTokenBucket(0, 1, now)
	if ok, _ := b.take(now); !ok {
		t.Fatal("expected the burst token")
	}
	ok, retry := b.take(now.Add(time.Hour))
	if ok || retry != 1 {
		t.Errorf("take() = %v, %d; want false, 1", ok, retry)
	}
}
