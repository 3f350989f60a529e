package domain

import (
	"testing"
	"time"
)

func TestSuspiciousRecord_ActiveWithinDecay(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rec := SuspiciousRecord{DetectedAt: now.Add(-23 * time.Hour), Reason: ReasonBotLikePattern}

	if !rec.Active(now, 24*time.Hour) {
		t.Fatalf("expected record flagged 23h ago to be active")
	}
	if rec.Active(now.Add(2*time.Hour), 24*time.Hour) {
		t.Fatalf("expected record to decay after 24h")
	}
	if (SuspiciousRecord{}).Active(now, 24*time.Hour) {
		t.Fatalf("expected zero record to be inactive")
	}
}

func TestDecision_RetryAfterNeverNegative(t *testing.T) {
	now := time.Unix(100, 0)
	d := Decision{ResetAt: now.Add(1500 * time.Millisecond)}
	if got := d.RetryAfter(now); got != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s, got %s", got)
	}
	if got := d.RetryAfter(now.Add(time.Hour)); got != 0 {
		t.Fatalf("expected 0 after reset, got %s", got)
	}
}

func TestEndpoint_IsKnown(t *testing.T) {
	for _, e := range KnownEndpoints {
		if !e.IsKnown() {
			t.Fatalf("expected %q to be known", e)
		}
	}
	if Endpoint("search").IsKnown() {
		t.Fatalf("expected search to be unknown")
	}
	if EndpointGeneric.String() != "generic" {
		t.Fatalf("expected generic label, got %q", EndpointGeneric.String())
	}
}

func TestPolicy_Valid(t *testing.T) {
	if !(Policy{Limit: 1, Window: time.Second}).Valid() {
		t.Fatalf("expected valid policy")
	}
	if (Policy{Limit: 0, Window: time.Second}).Valid() {
		t.Fatalf("expected zero limit to be invalid")
	}
	if (Policy{Limit: 1}).Valid() {
		t.Fatalf("expected zero window to be invalid")
	}
}
