package crawl

import (
	"testing"
	"time"
)

func TestExponentialBackoffMonotonic(t *testing.T) {
	t.Parallel()

	b := NewExponentialBackoff(100*time.Millisecond, 2*time.Second)
	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		delay := b.Delay(attempt)
		if delay < prev {
			t.Fatalf("Delay(%d) = %v, less than previous %v", attempt, delay, prev)
		}
		if delay > 2*time.Second {
			t.Fatalf("Delay(%d) = %v exceeds cap", attempt, delay)
		}
		prev = delay
	}
	if b.Delay(10) != 2*time.Second {
		t.Fatalf("expected capped delay, got %v", b.Delay(10))
	}
}

func TestExponentialBackoffDefaults(t *testing.T) {
	t.Parallel()

	b := NewExponentialBackoff(0, 0)
	if b.Delay(1) != defaultBackoffBase {
		t.Fatalf("Delay(1) = %v, want %v", b.Delay(1), defaultBackoffBase)
	}
	if b.Delay(0) != b.Delay(1) {
		t.Fatalf("attempt below 1 should clamp to first delay")
	}
}

func TestJitterBounds(t *testing.T) {
	t.Parallel()

	base := 200 * time.Millisecond
	for i := 0; i < 50; i++ {
		j := Jitter(base)
		if j < base || j > base+base/2 {
			t.Fatalf("Jitter(%v) = %v out of bounds", base, j)
		}
	}
	if Jitter(0) != 0 {
		t.Fatal("Jitter(0) should be 0")
	}
}
