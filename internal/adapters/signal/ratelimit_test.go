package signal

import (
	"testing"
	"time"
)

func TestRateLimiterBlocksOverLimit(t *testing.T) {
	rl := NewMessageRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow(1) {
			t.Fatalf("attempt %d should pass", i)
		}
	}
	if rl.Allow(1) {
		t.Fatal("fourth attempt inside window should be blocked")
	}
}

func TestRateLimiterIsolatesPlayers(t *testing.T) {
	rl := NewMessageRateLimiter(1, time.Minute)
	if !rl.Allow(1) {
		t.Fatal("first player should pass")
	}
	if !rl.Allow(2) {
		t.Fatal("second player should have its own window")
	}
}

func TestRateLimiterWindowExpires(t *testing.T) {
	rl := NewMessageRateLimiter(1, 10*time.Millisecond)
	if !rl.Allow(1) {
		t.Fatal("first attempt should pass")
	}
	if rl.Allow(1) {
		t.Fatal("second immediate attempt should be blocked")
	}
	time.Sleep(20 * time.Millisecond)
	if !rl.Allow(1) {
		t.Fatal("attempt after window should pass")
	}
}

func TestRateLimiterForget(t *testing.T) {
	rl := NewMessageRateLimiter(1, time.Minute)
	rl.Allow(1)
	rl.Forget(1)
	if !rl.Allow(1) {
		t.Fatal("forgotten player should start fresh")
	}
}
