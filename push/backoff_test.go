package push

import (
	"testing"
	"time"
)

func TestBackoff_Delay_Schedule(t *testing.T) {
	b := DefaultBackoff()

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}

	for i, expected := range want {
		attempt := i + 1
		if got := b.Delay(attempt); got != expected {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, expected)
		}
	}
}

func TestBackoff_Delay_ClampsInvalidAttempt(t *testing.T) {
	b := DefaultBackoff()

	if got := b.Delay(0); got != time.Second {
		t.Errorf("Delay(0) = %v, want %v", got, time.Second)
	}
	if got := b.Delay(-3); got != time.Second {
		t.Errorf("Delay(-3) = %v, want %v", got, time.Second)
	}
}

func TestBackoff_Delay_LargeAttemptStaysCapped(t *testing.T) {
	b := DefaultBackoff()

	// Large attempt counts must not overflow past the cap
	if got := b.Delay(500); got != 30*time.Second {
		t.Errorf("Delay(500) = %v, want %v", got, 30*time.Second)
	}
}

func TestBackoff_Delay_CustomSchedule(t *testing.T) {
	b := Backoff{Base: 50 * time.Millisecond, Cap: 200 * time.Millisecond}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 50 * time.Millisecond},
		{2, 100 * time.Millisecond},
		{3, 200 * time.Millisecond},
		{4, 200 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
