package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsAllJobs(t *testing.T) {
	p := New(4)
	var count int32
	jobs := make([]func(context.Context) error, 10)
	for i := range jobs {
		jobs[i] = func(ctx context.Context) error {
			atomic.AddInt32(&count, 1)
			return nil
		}
	}
	if err := p.Submit(context.Background(), jobs...); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 10 {
		t.Fatalf("expected all 10 jobs to run, got %d", count)
	}
}

func TestSubmitRespectsLimit(t *testing.T) {
	p := New(2)
	var concurrent, maxConcurrent int32
	jobs := make([]func(context.Context) error, 8)
	for i := range jobs {
		jobs[i] = func(ctx context.Context) error {
			cur := atomic.AddInt32(&concurrent, 1)
			for {
				m := atomic.LoadInt32(&maxConcurrent)
				if cur <= m || atomic.CompareAndSwapInt32(&maxConcurrent, m, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&concurrent, -1)
			return nil
		}
	}
	if err := p.Submit(context.Background(), jobs...); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if maxConcurrent > 2 {
		t.Fatalf("expected at most 2 concurrent jobs, saw %d", maxConcurrent)
	}
}

func TestSubmitReturnsFirstError(t *testing.T) {
	p := New(4)
	boom := errors.New("boom")
	err := p.Submit(context.Background(),
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return boom },
	)
	if !errors.Is(err, boom) {
		t.Fatalf("expected the job's error to propagate, got %v", err)
	}
}

func TestActiveTracksInFlightJobs(t *testing.T) {
	p := New(4)
	release := make(chan struct{})
	started := make(chan struct{})
	go p.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	time.Sleep(10 * time.Millisecond)
	if p.Active() != 1 {
		t.Fatalf("expected 1 active job, got %d", p.Active())
	}
	close(release)
}

func TestDegradedRequiresBothStaleAndActive(t *testing.T) {
	p := New(1)
	if p.Degraded(time.Millisecond) {
		t.Fatal("a pool with no active jobs should never be degraded")
	}

	release := make(chan struct{})
	started := make(chan struct{})
	go p.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	time.Sleep(20 * time.Millisecond)
	if !p.Degraded(10 * time.Millisecond) {
		t.Fatal("a pool with a long-running job should report degraded past staleAfter")
	}
	close(release)
}
