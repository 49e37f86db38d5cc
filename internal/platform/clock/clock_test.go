package clock

import (
	"testing"
	"time"
)

func TestFixed_Now(t *testing.T) {
	at := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	c := Fixed{T: at}
	if !c.Now().Equal(at) {
		t.Errorf("Now() = %v, want %v", c.Now(), at)
	}
	if !c.Now().Equal(c.Now()) {
		t.Error("fixed clock returned different instants")
	}
}

func TestFunc_Now(t *testing.T) {
	calls := 0
	base := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	c := Func(func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Minute)
	})
	first := c.Now()
	second := c.Now()
	if !second.After(first) {
		t.Errorf("expected second call after first, got %v then %v", first, second)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestManual_SetAndAdvance(t *testing.T) {
	start := time.Date(2025, 3, 4, 7, 0, 0, 0, time.UTC)
	m := NewManual(start)
	if !m.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", m.Now(), start)
	}

	m.Advance(2 * time.Hour)
	if want := start.Add(2 * time.Hour); !m.Now().Equal(want) {
		t.Errorf("after Advance, Now() = %v, want %v", m.Now(), want)
	}

	later := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	m.Set(later)
	if !m.Now().Equal(later) {
		t.Errorf("after Set, Now() = %v, want %v", m.Now(), later)
	}
}

func TestReal_Now(t *testing.T) {
	before := time.Now()
	got := Real{}.Now()
	if got.Before(before) {
		t.Errorf("Real.Now() = %v is before %v", got, before)
	}
}
