package cliui

import (
	"testing"

	"github.com/tanq16/cartvault/internal/model"
)

func TestPriorityLabel(t *testing.T) {
	cases := map[model.Priority]string{
		model.PriorityHigh:   "high",
		model.PriorityLow:    "low",
		model.PriorityNormal: "normal",
	}
	for p, want := range cases {
		if got := priorityLabel(p); got != want {
			t.Fatalf("priority %d: expected %q, got %q", p, want, got)
		}
	}
}

func TestTruncateShortStringUnchanged(t *testing.T) {
	if got := truncate("short", 50); got != "short" {
		t.Fatalf("expected an unchanged short string, got %q", got)
	}
}

func TestTruncateLongStringEllipsized(t *testing.T) {
	long := "https://example.com/a/very/long/path/that/exceeds/the/limit/for/sure"
	got := truncate(long, 20)
	if got == long {
		t.Fatal("expected a long string to be shortened")
	}
	if got[:19] != long[:19] {
		t.Fatalf("expected the truncated string to keep the original prefix, got %q", got)
	}
	if []rune(got)[len([]rune(got))-1] != '…' {
		t.Fatalf("expected the truncated string to end with an ellipsis, got %q", got)
	}
}

func TestFormatBytesHumanizes(t *testing.T) {
	got := FormatBytes(1024)
	if got == "" {
		t.Fatal("expected a non-empty humanized byte string")
	}
}
