package util

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"navfeed/internal/domain"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryPermanentStops(t *testing.T) {
	sentinel := errors.New("not found")
	attempts := 0

	err := Retry(context.Background(), 5, time.Millisecond, func() error {
		attempts++
		return Permanent(sentinel)
	})

	if !errors.Is(err, sentinel) {
		t.Errorf("Retry error = %v, want %v", err, sentinel)
	}
	var p *permanentError
	if errors.As(err, &p) {
		t.Error("Retry should unwrap the permanent marker")
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times, want 1", attempts)
	}
}

func TestRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 3, time.Hour, func() error { return errors.New("boom") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry error = %v, want context.Canceled", err)
	}
}

func TestRateLimiter(t *testing.T) {
	if NewRateLimiter(0, 1) != nil {
		t.Error("NewRateLimiter(0) should disable limiting")
	}
	var nilLimiter *RateLimiter
	if err := nilLimiter.Wait(context.Background()); err != nil {
		t.Errorf("nil limiter Wait = %v", err)
	}

	rl := NewRateLimiter(60, 2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("burst Wait %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Error("Wait should block past the burst and hit the deadline")
	}
}

func TestJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := Jitter(10*time.Millisecond, 20*time.Millisecond)
		if d < 10*time.Millisecond || d > 20*time.Millisecond {
			t.Fatalf("Jitter = %v, out of bounds", d)
		}
	}
	if d := Jitter(5, 5); d != 5 {
		t.Errorf("Jitter(5,5) = %v, want 5", d)
	}
}

func TestCalendar(t *testing.T) {
	holiday := domain.MustParseISO("2025-07-03")
	cal := NewCalendar(holiday)

	days := cal.BusinessDaysDesc(domain.MustParseISO("2025-06-30"), domain.MustParseISO("2025-07-06"))
	want := []string{"2025-07-04", "2025-07-02", "2025-07-01", "2025-06-30"}
	if len(days) != len(want) {
		t.Fatalf("BusinessDaysDesc = %v, want %v", days, want)
	}
	for i, d := range days {
		if d.String() != want[i] {
			t.Errorf("day %d = %s, want %s", i, d, want[i])
		}
	}

	kept, dropped := cal.Filter([]domain.Date{domain.MustParseISO("2025-07-05"), domain.MustParseISO("2025-07-07")})
	if len(kept) != 1 || kept[0].String() != "2025-07-07" {
		t.Errorf("Filter kept = %v", kept)
	}
	if len(dropped) != 1 {
		t.Errorf("Filter dropped = %v", dropped)
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerTo(&buf, "debug", "json").Debug("hello", "k", 1)
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("json output = %s", buf.String())
	}

	buf.Reset()
	NewLoggerTo(&buf, "warn", "text").Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %s", buf.String())
	}
}
