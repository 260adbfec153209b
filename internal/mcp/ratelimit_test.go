package mcp

import (
	"testing"
	"time"
)

func TestIPRateLimiterLoopbackExempt(t *testing.T) {
	l := newIPRateLimiter(1, 1)
	for i := 0; i < 10; i++ {
		if !l.allow("127.0.0.1") {
			t.Fatal("loopback must never be limited")
		}
	}
}

func TestIPRateLimiterEnforcesBurst(t *testing.T) {
	l := newIPRateLimiter(1, 2)
	ip := "203.0.113.9"
	if !l.allow(ip) || !l.allow(ip) {
		t.Fatal("burst of 2 should admit two requests")
	}
	if l.allow(ip) {
		t.Fatal("third immediate request should be rejected")
	}
}

func TestIPRateLimiterUnparsableAllowed(t *testing.T) {
	l := newIPRateLimiter(1, 1)
	if !l.allow("not-an-ip") {
		t.Error("unparsable remote addresses are not limited")
	}
}

func TestIPRateLimiterCleanup(t *testing.T) {
	l := newIPRateLimiter(1, 1)
	l.allow("203.0.113.9")
	l.buckets["203.0.113.9"].lastSeen = time.Now().Add(-time.Hour)
	l.cleanup(10 * time.Minute)
	if len(l.buckets) != 0 {
		t.Errorf("expected idle bucket to be evicted, have %d", len(l.buckets))
	}
}
