package model

import "testing"

func TestWorkItemIncrementAttemptReturnsCopy(t *testing.T) {
	w := WorkItem{Attempt: 0}
	bumped := w.IncrementAttempt()

	if w.Attempt != 0 {
		t.Fatalf("original work item must be unmodified, got attempt=%d", w.Attempt)
	}
	if bumped.Attempt != 1 {
		t.Fatalf("expected bumped attempt 1, got %d", bumped.Attempt)
	}
}

func TestWorkItemExhaustedRetries(t *testing.T) {
	w := WorkItem{Attempt: 2, MaxAttempts: 3}
	if !w.ExhaustedRetries() {
		t.Fatalf("expected retries exhausted at attempt 2 of 3 max")
	}
	w.Attempt = 1
	if w.ExhaustedRetries() {
		t.Fatalf("did not expect retries exhausted at attempt 1 of 3 max")
	}
}

func TestWorkItemDefaultIdempotencyKey(t *testing.T) {
	w := WorkItem{AgentID: "a1", DocumentID: "d1", SourceDocumentHash: "h1"}
	if got, want := w.DefaultIdempotencyKey(), "a1:d1:h1"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
