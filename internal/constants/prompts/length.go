package prompts

import (
	"regexp"
	"strings"
)

// ReplyLength steers how long the model's spoken answer should be.
type ReplyLength string

const (
	ReplyShort  ReplyLength = "short"
	ReplyMedium ReplyLength = "medium"
	ReplyLong   ReplyLength = "long"
)

var shortPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(ok|okay|k|sure|yes|yeah|yep|no|nah|nope)\b`),
	regexp.MustCompile(`^(thanks|thank you)\b`),
	regexp.MustCompile(`^(hi|hello|hey)\b`),
	regexp.MustCompile(`^(good (morning|afternoon|evening|night))\b`),
	regexp.MustCompile(`^(what\?|huh\?|)\s*$`),
}

var storyTriggers = []string{
	"tell me a story",
	"story",
	"explain",
	"in detail",
	"deep dive",
	"walk me through",
	"step by step",
	"describe",
	"talk about",
	"what was it like",
}

var emotionTriggers = []string{
	"i miss you",
	"miss you",
	"i miss",
	"i feel alone",
	"i'm alone",
	"im alone",
	"i feel empty",
	"i'm sad",
	"im sad",
	"i'm depressed",
	"im depressed",
	"i can't stop crying",
	"cant stop crying",
	"i feel broken",
	"it hurts",
	"i need you",
	"i wish you were here",
	"i regret",
	"i'm scared",
	"im scared",
	"i'm struggling",
	"im struggling",
}

var spaceRe = regexp.MustCompile(`\s+`)

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(spaceRe.ReplaceAllString(s, " ")))
}

func containsAny(t string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(t, n) {
			return true
		}
	}
	return false
}

// ClassifyReplyLength picks a reply length class from the user's utterance.
// Emotional openings get longer replies even when the input is short.
func ClassifyReplyLength(userText string) ReplyLength {
	t := normalize(userText)
	if t == "" {
		return ReplyShort
	}

	wc := len(strings.Fields(t))

	for _, pat := range shortPatterns {
		if pat.MatchString(t) {
			return ReplyShort
		}
	}

	if containsAny(t, emotionTriggers) {
		return ReplyLong
	}
	if containsAny(t, storyTriggers) {
		return ReplyLong
	}

	if wc <= 6 && (strings.Contains(t, "?") ||
		strings.HasPrefix(t, "what") || strings.HasPrefix(t, "when") ||
		strings.HasPrefix(t, "where") || strings.HasPrefix(t, "who") ||
		strings.HasPrefix(t, "which")) {
		return ReplyShort
	}

	if wc <= 35 {
		return ReplyMedium
	}
	return ReplyLong
}
