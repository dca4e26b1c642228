package signal

import (
	"testing"
	"time"
)

func TestRateLimiter(t *testing.T) {
	t.Parallel()

	clock := time.Unix(1000, 0)
	rl := NewRateLimiter[string](2, time.Second)
	rl.now = func() time.Time { return clock }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two events rejected")
	}
	if rl.Allow("a") {
		t.Fatal("third event inside the window allowed")
	}
	if !rl.Allow("b") {
		t.Fatal("keys are not independent")
	}

	clock = clock.Add(1001 * time.Millisecond)
	if !rl.Allow("a") {
		t.Fatal("event after the window rejected")
	}

	rl.Forget("b")
	rl.mu.Lock()
	_, ok := rl.history["b"]
	rl.mu.Unlock()
	if ok {
		t.Fatal("history of b kept after Forget")
	}
}
