// Package scheduler scores and orders queued downloads and reports
// which ids should start next, doing no I/O of its own.
package scheduler

import (
	"net/url"
	"sort"

	"github.com/tanq16/cartvault/internal/model"
)

// Candidate is the minimal view of a queued download the Scheduler
// needs: its identity, priority, age, host, and insertion order.
type Candidate struct {
	ID          int64
	URL         string
	Priority    model.Priority
	AgeSeconds  float64
	InsertOrder int64
}

// BreakerState is a narrow view the scheduler needs from the Circuit
// Breaker Registry, so this package stays dependency-free.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// Weights configures the priority/age scoring formula.
type Weights struct {
	PriorityWeight float64
	AgeWeight      float64
}

// Inputs bundles everything one Tick call needs.
type Inputs struct {
	Queued            []Candidate
	GlobalFreeSlots   int
	PerHostCap        int
	PerHostActive     map[string]int
	BreakerStateByHost func(host string) BreakerState
	Weights           Weights
}

// Tick scores, sorts, and greedily selects ids to start.
// It never mutates its inputs and performs no I/O.
func Tick(in Inputs) []int64 {
	type scored struct {
		c     Candidate
		score float64
		host  string
	}

	scoredList := make([]scored, 0, len(in.Queued))
	for _, c := range in.Queued {
		host := hostOf(c.URL)
		score := float64(c.Priority)*in.Weights.PriorityWeight + c.AgeSeconds*in.Weights.AgeWeight
		scoredList = append(scoredList, scored{c: c, score: score, host: host})
	}

	sort.SliceStable(scoredList, func(i, j int) bool {
		if scoredList[i].score != scoredList[j].score {
			return scoredList[i].score > scoredList[j].score
		}
		return scoredList[i].c.InsertOrder < scoredList[j].c.InsertOrder
	})

	perHostActive := make(map[string]int, len(in.PerHostActive))
	for h, n := range in.PerHostActive {
		perHostActive[h] = n
	}

	var selected []int64
	freeSlots := in.GlobalFreeSlots
	for _, s := range scoredList {
		if freeSlots <= 0 {
			break
		}
		if in.PerHostCap > 0 && perHostActive[s.host] >= in.PerHostCap {
			continue
		}
		if in.BreakerStateByHost != nil && in.BreakerStateByHost(s.host) == BreakerOpen {
			continue
		}
		selected = append(selected, s.c.ID)
		perHostActive[s.host]++
		freeSlots--
	}
	return selected
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
