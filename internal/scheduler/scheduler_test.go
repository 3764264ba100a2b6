package scheduler

import (
	"reflect"
	"testing"

	"github.com/tanq16/cartvault/internal/model"
)

func TestTickPrefersHigherPriority(t *testing.T) {
	in := Inputs{
		Queued: []Candidate{
			{ID: 1, URL: "https://a.example/f", Priority: model.PriorityLow, InsertOrder: 1},
			{ID: 2, URL: "https://a.example/g", Priority: model.PriorityHigh, InsertOrder: 2},
		},
		GlobalFreeSlots: 1,
		PerHostCap:      10,
		Weights:         Weights{PriorityWeight: 100, AgeWeight: 0},
	}
	got := Tick(in)
	if !reflect.DeepEqual(got, []int64{2}) {
		t.Fatalf("expected only the high-priority candidate, got %v", got)
	}
}

func TestTickRespectsPerHostCap(t *testing.T) {
	in := Inputs{
		Queued: []Candidate{
			{ID: 1, URL: "https://a.example/1", InsertOrder: 1},
			{ID: 2, URL: "https://a.example/2", InsertOrder: 2},
			{ID: 3, URL: "https://b.example/1", InsertOrder: 3},
		},
		GlobalFreeSlots: 10,
		PerHostCap:      1,
	}
	got := Tick(in)
	if !reflect.DeepEqual(got, []int64{1, 3}) {
		t.Fatalf("expected one per host (ids 1,3), got %v", got)
	}
}

func TestTickSkipsOpenBreakerHost(t *testing.T) {
	in := Inputs{
		Queued: []Candidate{
			{ID: 1, URL: "https://blocked.example/1", InsertOrder: 1},
			{ID: 2, URL: "https://ok.example/1", InsertOrder: 2},
		},
		GlobalFreeSlots: 10,
		PerHostCap:      10,
		BreakerStateByHost: func(host string) BreakerState {
			if host == "blocked.example" {
				return BreakerOpen
			}
			return BreakerClosed
		},
	}
	got := Tick(in)
	if !reflect.DeepEqual(got, []int64{2}) {
		t.Fatalf("expected only the non-blocked host's candidate, got %v", got)
	}
}

func TestTickStopsAtGlobalFreeSlots(t *testing.T) {
	in := Inputs{
		Queued: []Candidate{
			{ID: 1, URL: "https://a.example/1", InsertOrder: 1},
			{ID: 2, URL: "https://b.example/1", InsertOrder: 2},
			{ID: 3, URL: "https://c.example/1", InsertOrder: 3},
		},
		GlobalFreeSlots: 2,
		PerHostCap:      10,
	}
	got := Tick(in)
	if len(got) != 2 {
		t.Fatalf("expected exactly 2 picks bounded by global free slots, got %v", got)
	}
}

func TestTickTiebreaksByInsertOrder(t *testing.T) {
	in := Inputs{
		Queued: []Candidate{
			{ID: 10, URL: "https://a.example/1", InsertOrder: 5},
			{ID: 20, URL: "https://a.example/2", InsertOrder: 2},
		},
		GlobalFreeSlots: 1,
		PerHostCap:      10,
	}
	got := Tick(in)
	if !reflect.DeepEqual(got, []int64{20}) {
		t.Fatalf("expected earliest-inserted candidate (id 20) first, got %v", got)
	}
}
