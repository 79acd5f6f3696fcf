package queue

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	base := time.Second
	cap := 10 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, base},
		{0, base},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, cap},
		{30, cap},
		{64, cap},
	}

	for _, tt := range tests {
		if got := Backoff(tt.attempt, base, cap); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffMonotonic(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := Backoff(attempt, 100*time.Millisecond, 10*time.Second)
		if d < prev {
			t.Fatalf("backoff regressed at attempt %d: %v < %v", attempt, d, prev)
		}
		prev = d
	}
}
