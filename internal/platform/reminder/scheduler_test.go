package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeSender struct {
	calls  int
	window time.Duration
	sent   int
	err    error
}

func (f *fakeSender) SendReminders(_ context.Context, window time.Duration) (int, error) {
	f.calls++
	f.window = window
	return f.sent, f.err
}

func TestNew_InvalidSpec(t *testing.T) {
	if _, err := New(&fakeSender{}, "not a cron spec", time.Hour, zerolog.Nop()); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}

func TestNew_InvalidWindow(t *testing.T) {
	if _, err := New(&fakeSender{}, "0 18 * * *", 0, zerolog.Nop()); err == nil {
		t.Fatal("expected error for zero window")
	}
}

func TestRunOnce(t *testing.T) {
	f := &fakeSender{sent: 3}
	s, err := New(f, "0 18 * * *", 24*time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent != 3 || f.calls != 1 || f.window != 24*time.Hour {
		t.Errorf("sent=%d calls=%d window=%s", sent, f.calls, f.window)
	}
}

func TestRunOnce_PropagatesError(t *testing.T) {
	f := &fakeSender{sent: 1, err: errors.New("publish failed")}
	s, err := New(f, "@hourly", time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent, err := s.RunOnce(context.Background())
	if err == nil || sent != 1 {
		t.Errorf("expected partial count and error, got %d, %v", sent, err)
	}
}

func TestStartStop(t *testing.T) {
	s, err := New(&fakeSender{}, "0 18 * * *", time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
