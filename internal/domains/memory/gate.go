package memory

import (
	"regexp"
	"strings"
)

var rememberPhrases = []string{
	"remember this",
	"remember that",
	"save this",
	"save that",
	"store this",
	"note this",
	"don't forget",
	"do not forget",
}

// IsRememberRequest reports whether the user explicitly asked to store
// something. Explicit requests bypass both the gate and the sensitive filter.
func IsRememberRequest(userText string) bool {
	t := strings.ToLower(userText)
	for _, p := range rememberPhrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

var gatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bmy name is\b`),
	regexp.MustCompile(`\bcall me\b`),
	regexp.MustCompile(`\byou can call me\b`),
	regexp.MustCompile(`\bplease call me\b`),
	regexp.MustCompile(`\bi am\b`),
	regexp.MustCompile(`\bi'm\b`),
	regexp.MustCompile(`\bi live in\b`),
	regexp.MustCompile(`\bi work\b`),
	regexp.MustCompile(`\bi like\b`),
	regexp.MustCompile(`\bi love\b`),
	regexp.MustCompile(`\bi hate\b`),
	regexp.MustCompile(`\bmy favorite\b`),
	regexp.MustCompile(`\bi prefer\b`),
	regexp.MustCompile(`\bmy mum\b|\bmy mom\b|\bmy dad\b|\bmy father\b|\bmy mother\b|\bmy grandpa\b|\bmy grandma\b|\bmy wife\b|\bmy husband\b|\bmy sister\b|\bmy brother\b`),
	regexp.MustCompile(`\balways\b.+\bcall\b`),
	regexp.MustCompile(`\bnever\b.+\bcall\b`),
}

// HeuristicGate decides whether an utterance is even worth sending to the
// extraction model. Conservative, since each pass costs a completion call.
func HeuristicGate(userText string) bool {
	u := strings.TrimSpace(userText)
	if len(u) < 6 {
		return false
	}
	if IsRememberRequest(u) {
		return true
	}
	t := strings.ToLower(u)
	for _, pat := range gatePatterns {
		if pat.MatchString(t) {
			return true
		}
	}
	return false
}

var sensitiveKeywords = []string{
	"diagnosed", "depression", "anxiety", "bipolar", "adhd", "cancer", "diabetes", "medication",
	"vote", "voted", "party", "democrat", "republican",
	"muslim", "christian", "hindu", "buddhist", "atheist",
	"sex", "sexual",
}

// FilterSensitive drops candidates touching medical, political, religious or
// sexual topics unless the user explicitly asked for them to be remembered.
func FilterSensitive(candidates []Candidate, userText string) []Candidate {
	if IsRememberRequest(userText) {
		return candidates
	}
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		tl := strings.ToLower(c.Text)
		if tl == "" {
			continue
		}
		sensitive := false
		for _, k := range sensitiveKeywords {
			if strings.Contains(tl, k) {
				sensitive = true
				break
			}
		}
		if sensitive {
			continue
		}
		out = append(out, c)
	}
	return out
}
