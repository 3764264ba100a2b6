package speed

import (
	"testing"
	"time"
)

func TestObserveFirstSampleReturnsZero(t *testing.T) {
	tr := New()
	if got := tr.Observe(1, 1000); got != 0 {
		t.Fatalf("expected the first sample to return 0, got %f", got)
	}
}

func TestObserveComputesPositiveRate(t *testing.T) {
	tr := New()
	tr.Reset(1, 0)
	time.Sleep(20 * time.Millisecond)
	got := tr.Observe(1, 1000)
	if got <= 0 {
		t.Fatalf("expected a positive rate, got %f", got)
	}
}

func TestObserveNeverReturnsNegativeRate(t *testing.T) {
	tr := New()
	tr.Reset(1, 1000)
	time.Sleep(10 * time.Millisecond)
	got := tr.Observe(1, 500) // downloaded went "backwards"
	if got < 0 {
		t.Fatalf("expected the rate to clamp at 0, got %f", got)
	}
}

func TestCurrentBPSReturnsLastObservedWithoutNewSample(t *testing.T) {
	tr := New()
	tr.Reset(1, 0)
	time.Sleep(10 * time.Millisecond)
	tr.Observe(1, 1000)
	a := tr.CurrentBPS(1)
	b := tr.CurrentBPS(1)
	if a != b {
		t.Fatalf("expected CurrentBPS to be stable without a new Observe, got %f then %f", a, b)
	}
}

func TestCurrentBPSUnknownIDIsZero(t *testing.T) {
	tr := New()
	if got := tr.CurrentBPS(999); got != 0 {
		t.Fatalf("expected 0 for an untracked id, got %f", got)
	}
}

func TestETASecondsNilWhenTotalUnknown(t *testing.T) {
	tr := New()
	tr.Reset(1, 0)
	tr.Observe(1, 1000)
	if got := tr.ETASeconds(1, 1000, nil); got != nil {
		t.Fatalf("expected nil ETA when total is unknown, got %v", *got)
	}
}

func TestETASecondsNilWhenRateIsZero(t *testing.T) {
	tr := New()
	total := int64(10000)
	if got := tr.ETASeconds(1, 0, &total); got != nil {
		t.Fatalf("expected nil ETA when no rate has been observed, got %v", *got)
	}
}

func TestETASecondsPositiveWhenProgressing(t *testing.T) {
	tr := New()
	tr.Reset(1, 0)
	time.Sleep(20 * time.Millisecond)
	tr.Observe(1, 1000)
	total := int64(10000)
	got := tr.ETASeconds(1, 1000, &total)
	if got == nil || *got <= 0 {
		t.Fatalf("expected a positive ETA estimate, got %v", got)
	}
}

func TestDropClearsState(t *testing.T) {
	tr := New()
	tr.Reset(1, 0)
	tr.Observe(1, 1000)
	tr.Drop(1)
	if got := tr.CurrentBPS(1); got != 0 {
		t.Fatalf("expected 0 after Drop, got %f", got)
	}
	if got := tr.Observe(1, 500); got != 0 {
		t.Fatalf("expected Observe to treat a dropped id as a fresh first sample, got %f", got)
	}
}
