package model

import "testing"

func TestCanTransitionAllowsHappyPath(t *testing.T) {
	path := []State{Queued, Starting, Downloading, Merging, Verifying, Completed}
	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Fatalf("expected %s -> %s to be allowed", path[i], path[i+1])
		}
	}
}

func TestCanTransitionRejectsSkippingStates(t *testing.T) {
	if CanTransition(Queued, Completed) {
		t.Fatal("QUEUED should not be able to jump straight to COMPLETED")
	}
	if CanTransition(Queued, Merging) {
		t.Fatal("QUEUED should not be able to jump straight to MERGING")
	}
}

func TestCanTransitionRejectsFromTerminalStates(t *testing.T) {
	for _, s := range []State{Completed, Cancelled} {
		for to := range Transitions {
			if CanTransition(s, to) {
				t.Fatalf("%s is terminal; should not transition to %s", s, to)
			}
		}
	}
}

func TestFailedCanOnlyRequeueOrCancel(t *testing.T) {
	if !CanTransition(Failed, Queued) {
		t.Fatal("FAILED should be retryable back to QUEUED")
	}
	if !CanTransition(Failed, Cancelled) {
		t.Fatal("FAILED should be cancellable")
	}
	if CanTransition(Failed, Completed) {
		t.Fatal("FAILED should not transition directly to COMPLETED")
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []State{Completed, Cancelled} {
		if !IsTerminal(s) {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []State{Queued, Starting, Downloading, Paused, Merging, Verifying, Failed} {
		if IsTerminal(s) {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestCanTransitionUnknownStateIsRejected(t *testing.T) {
	if CanTransition(State("BOGUS"), Queued) {
		t.Fatal("an unknown source state should never have an allowed transition")
	}
}
