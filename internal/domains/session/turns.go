package session

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/looplab/fsm"
)

// Turn-taking phases. The machine is advisory: it tracks the coarse phase for
// diagnostics and sanity, while the fine-grained booleans on the controller
// drive the actual decisions, since barge-in can arrive in any phase.
const (
	phaseIdle         = "idle"
	phaseListening    = "listening"
	phaseAwaitingText = "awaiting_transcript"
	phaseGracePending = "grace_pending"
	phaseThinking     = "thinking"
	phaseSpeaking     = "speaking"
)

func newTurnFSM() *fsm.FSM {
	return fsm.NewFSM(
		phaseIdle,
		fsm.Events{
			{Name: "listen", Src: []string{phaseIdle, phaseAwaitingText, phaseGracePending, phaseThinking, phaseSpeaking}, Dst: phaseListening},
			{Name: "await", Src: []string{phaseListening}, Dst: phaseAwaitingText},
			{Name: "grace", Src: []string{phaseIdle, phaseListening, phaseAwaitingText, phaseGracePending}, Dst: phaseGracePending},
			{Name: "commit", Src: []string{phaseGracePending}, Dst: phaseThinking},
			{Name: "speak", Src: []string{phaseThinking, phaseIdle}, Dst: phaseSpeaking},
			{Name: "finish", Src: []string{phaseSpeaking, phaseThinking, phaseGracePending, phaseAwaitingText, phaseListening}, Dst: phaseIdle},
		},
		fsm.Callbacks{},
	)
}

// advance moves the phase machine, tolerating transitions the current phase
// does not allow. Real event order is messy (double speech_stopped, late
// transcripts), so an invalid transition is just not a fault.
func (c *Controller) advance(event string) {
	if err := c.turn.Event(context.Background(), event); err != nil {
		c.logger.Debugf("turn phase %q ignored event %q: %v", c.turn.Current(), event, err)
	}
}

// End-of-turn grace tuning. The grace delay is extra debounce after VAD
// reports silence, sized by how complete the utterance looks.
const (
	bargeInFastWindow = 6 * time.Second
	bargeInFastGrace  = 300 * time.Millisecond
	recentStopWindow  = 2500 * time.Millisecond
)

var endsThoughtRe = regexp.MustCompile(`[.?!…]+["')\]]?$`)

func endsThought(text string) bool {
	t := strings.TrimSpace(text)
	return t != "" && endsThoughtRe.MatchString(t)
}

var storyTriggers = []string{
	"tell me a story",
	"story",
	"long story",
	"explain",
	"in detail",
	"deep dive",
	"walk me through",
	"step by step",
	"describe",
	"what happened",
	"what was it like",
}

func looksLikeStoryMode(text string) bool {
	t := strings.ToLower(text)
	for _, k := range storyTriggers {
		if strings.Contains(t, k) {
			return true
		}
	}
	return false
}

var trailingConjunctions = map[string]struct{}{
	"and": {}, "but": {}, "so": {}, "because": {}, "then": {},
	"with": {}, "of": {}, "to": {}, "or": {},
}

// computeGrace sizes the end-of-turn debounce from the transcript so far.
// Longer utterances get more room to continue; a fresh barge-in shortens the
// base so the follow-up lands quickly.
func computeGrace(text string, base time.Duration, sinceBargeIn time.Duration) time.Duration {
	t := strings.TrimSpace(text)
	words := strings.Fields(t)
	w := len(words)

	if sinceBargeIn >= 0 && sinceBargeIn <= bargeInFastWindow && base > bargeInFastGrace {
		base = bargeInFastGrace
	}

	var grace time.Duration
	switch {
	case w <= 6:
		grace = base
	case w <= 14:
		grace = maxDuration(base, 650*time.Millisecond)
	case w <= 30:
		grace = maxDuration(base, 900*time.Millisecond)
	case w <= 70:
		grace = maxDuration(base, 1200*time.Millisecond)
	default:
		grace = maxDuration(base, 1500*time.Millisecond)
	}

	if looksLikeStoryMode(t) {
		grace = maxDuration(grace, 1200*time.Millisecond)
	}
	if w >= 12 && !endsThought(t) {
		grace = maxDuration(grace, 900*time.Millisecond)
	}
	if w > 0 {
		if _, ok := trailingConjunctions[strings.ToLower(words[w-1])]; ok {
			grace = maxDuration(grace, 1100*time.Millisecond)
		}
	}
	return grace
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// looksLikeNoise drops transcripts that are hums, stray punctuation, or too
// short to mean anything. Noise never commits a turn.
func looksLikeNoise(transcript string) bool {
	t := strings.ToLower(strings.TrimSpace(transcript))
	if t == "" || len(t) < 3 {
		return true
	}
	switch t {
	case "um", "uh", "hmm", "hm", "mm":
		return true
	}
	for _, ch := range t {
		if !strings.ContainsRune(".…,", ch) {
			return false
		}
	}
	return true
}
