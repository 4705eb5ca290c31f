package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterEnforcesWindowMax(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(time.Minute, 3)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !l.Allow("client-a") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow("client-a") {
		t.Fatal("request over the window max must be rejected")
	}

	// Other keys count independently.
	if !l.Allow("client-b") {
		t.Fatal("independent key must not share the window")
	}
}

func TestLimiterResetsAfterWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(time.Minute, 1)
	l.now = func() time.Time { return now }

	if !l.Allow("client") {
		t.Fatal("first request should be allowed")
	}
	if l.Allow("client") {
		t.Fatal("second request in the same window must be rejected")
	}

	now = now.Add(time.Minute)
	if !l.Allow("client") {
		t.Fatal("new window should admit requests again")
	}
}
