package ratelimit

import "testing"

func TestLimiterAllowsBurst(t *testing.T) {
	l := New(1, 5)

	for i := 0; i < 5; i++ {
		if !l.Allow() {
			t.Fatalf("request %d within burst should be allowed", i)
		}
	}
	if l.Allow() {
		t.Error("request beyond burst should be denied")
	}
}

func TestPerKeyIsolation(t *testing.T) {
	pk := NewPerKey(1, 2)
	defer pk.Stop()

	if !pk.Allow("a") || !pk.Allow("a") {
		t.Fatal("burst for key a should be allowed")
	}
	if pk.Allow("a") {
		t.Error("key a should be exhausted")
	}
	if !pk.Allow("b") {
		t.Error("key b has its own bucket")
	}
}
