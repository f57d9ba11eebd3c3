package session

import (
	"strings"
	"testing"
	"time"
)

func TestComputeGrace(t *testing.T) {
	base := 450 * time.Millisecond
	noBarge := time.Hour

	tests := []struct {
		name         string
		text         string
		base         time.Duration
		sinceBargeIn time.Duration
		want         time.Duration
	}{
		{"short utterance keeps base", "hi there", base, noBarge, 450 * time.Millisecond},
		{"six words keeps base", "one two three four five six", base, noBarge, 450 * time.Millisecond},
		{"seven words bumps to 650ms", "one two three four five six seven", base, noBarge, 650 * time.Millisecond},
		{
			"fifteen words bumps to 900ms",
			strings.Repeat("word ", 14) + "end.",
			base, noBarge,
			900 * time.Millisecond,
		},
		{
			"forty words bumps to 1200ms",
			strings.Repeat("word ", 39) + "end.",
			base, noBarge,
			1200 * time.Millisecond,
		},
		{
			"over seventy words bumps to 1500ms",
			strings.Repeat("word ", 74) + "end.",
			base, noBarge,
			1500 * time.Millisecond,
		},
		{"story trigger floors at 1200ms", "tell me a story", base, noBarge, 1200 * time.Millisecond},
		{
			"trailing conjunction outranks the mid-thought floor",
			"so yesterday I went down to the lake with the kids and",
			base, noBarge,
			1100 * time.Millisecond,
		},
		{
			"unfinished sentence without conjunction floors at 900ms",
			"so yesterday I went down to the lake with the kids swimming",
			base, noBarge,
			900 * time.Millisecond,
		},
		{"trailing conjunction floors at 1100ms", "I wanted to say that but", base, noBarge, 1100 * time.Millisecond},
		{"recent barge-in shortens base", "okay", base, 2 * time.Second, 300 * time.Millisecond},
		{
			"recent barge-in still honors floors",
			"tell me a story",
			base, 2 * time.Second,
			1200 * time.Millisecond,
		},
		{"stale barge-in keeps base", "okay", base, 10 * time.Second, 450 * time.Millisecond},
		{"large base never lowered by brackets", "one two three four five six seven", 2 * time.Second, noBarge, 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := computeGrace(tt.text, tt.base, tt.sinceBargeIn); got != tt.want {
				t.Errorf("computeGrace(%q, %v, %v) = %v, want %v", tt.text, tt.base, tt.sinceBargeIn, got, tt.want)
			}
		})
	}
}

func TestEndsThought(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"I am done.", true},
		{"Are you there?", true},
		{"Well...", true},
		{"He said \"stop.\"", true},
		{"and then we", false},
		{"trailing comma,", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := endsThought(tt.in); got != tt.want {
			t.Errorf("endsThought(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLooksLikeNoise(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", true},
		{"  ", true},
		{"ok", true},
		{"um", true},
		{"Uh", true},
		{"hmm", true},
		{"...", true},
		{"…,.", true},
		{"hey", false},
		{"hmm okay sure", false},
		{"my name is Alex", false},
	}
	for _, tt := range tests {
		if got := looksLikeNoise(tt.in); got != tt.want {
			t.Errorf("looksLikeNoise(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
