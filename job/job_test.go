package job

import "testing"

func TestLegalTransitionSequenceNoDubbing(t *testing.T) {
	j := New("https://example.test/v1", Options{}, 5)
	steps := []Status{StatusDownloading, StatusDownloaded, StatusMuxing, StatusComplete}
	for _, to := range steps {
		if err := j.TransitionTo(to, ""); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	if j.GetStatus() != StatusComplete {
		t.Fatalf("expected complete, got %s", j.GetStatus())
	}
	if j.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set")
	}
}

func TestLegalTransitionSequenceWithDubbing(t *testing.T) {
	j := New("https://example.test/v2", Options{RequestedDubbing: true, TargetLang: "ru"}, 5)
	steps := []Status{StatusDownloading, StatusDownloaded, StatusDubbing, StatusDubbed, StatusMuxing, StatusComplete}
	for _, to := range steps {
		if err := j.TransitionTo(to, ""); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	j := New("https://example.test/v3", Options{}, 0)
	if err := j.TransitionTo(StatusComplete, ""); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTerminalStateHasNoOutboundEdges(t *testing.T) {
	j := New("https://example.test/v4", Options{}, 0)
	_ = j.TransitionTo(StatusFailed, "boom")
	if err := j.TransitionTo(StatusQueued, ""); err != ErrInvalidTransition {
		t.Fatalf("expected terminal state to reject further transitions, got %v", err)
	}
}

func TestFailedTransitionSetsError(t *testing.T) {
	j := New("https://example.test/v5", Options{}, 0)
	_ = j.TransitionTo(StatusDownloading, "")
	if err := j.TransitionTo(StatusFailed, "network reset"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if j.Error != "network reset" {
		t.Errorf("expected error message to be recorded, got %q", j.Error)
	}
	if j.CompletedAt == nil {
		t.Error("expected CompletedAt set on terminal transition")
	}
}

func TestNonFailedTransitionClearsError(t *testing.T) {
	j := New("https://example.test/v6", Options{}, 0)
	_ = j.TransitionTo(StatusDownloading, "")
	j.Error = "stale"
	if err := j.TransitionTo(StatusDownloaded, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if j.Error != "" {
		t.Errorf("expected error cleared, got %q", j.Error)
	}
}

func TestRetryFromFailedResetsToQueued(t *testing.T) {
	j := New("https://example.test/v7", Options{}, 0)
	_ = j.TransitionTo(StatusDownloading, "")
	_ = j.TransitionTo(StatusFailed, "boom")
	if err := j.Retry(); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if j.Status != StatusQueued || j.RetryCount != 1 || j.CompletedAt != nil {
		t.Errorf("unexpected post-retry state: %+v", j)
	}
}

func TestRetryFromNonTerminalRejected(t *testing.T) {
	j := New("https://example.test/v8", Options{}, 0)
	_ = j.TransitionTo(StatusDownloading, "")
	if err := j.Retry(); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestResumeToDubbedFromFailed(t *testing.T) {
	j := New("https://example.test/v9", Options{RequestedDubbing: true}, 0)
	_ = j.TransitionTo(StatusDownloading, "")
	_ = j.TransitionTo(StatusDownloaded, "")
	_ = j.TransitionTo(StatusDubbing, "")
	_ = j.TransitionTo(StatusFailed, "translation timeout")
	if err := j.ResumeTo(StatusDownloaded); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if j.Status != StatusDownloaded || j.Error != "" {
		t.Errorf("unexpected post-resume state: %+v", j)
	}
}

func TestCloneIsIndependentSnapshot(t *testing.T) {
	j := New("https://example.test/v10", Options{}, 3)
	clone := j.Clone()
	_ = j.TransitionTo(StatusDownloading, "")
	if clone.Status != StatusQueued {
		t.Errorf("expected clone to retain pre-mutation status, got %s", clone.Status)
	}
}
