// Package cadence splits assistant text into short speakable segments, each
// paired with a trailing pause. Feeding TTS segment-by-segment with explicit
// pauses sounds closer to human pacing than synthesizing whole paragraphs.
package cadence

import (
	"regexp"
	"strings"
	"time"
)

// Pause durations by segment terminator. Tuned by ear; keep in sync with the
// frontend's jitter buffer expectations before changing.
const (
	PauseClause     = 140 * time.Millisecond // ended on , ; :
	PauseSentence   = 300 * time.Millisecond // ended on . ? !
	PausePlain      = 180 * time.Millisecond // no terminal punctuation
	PauseWindowed   = 160 * time.Millisecond // continuation window of a long clause
	PauseFinalCap   = 220 * time.Millisecond // last segment never pauses longer than this
	DefaultMaxWords = 10
)

// Segment is one speakable chunk with the silence to insert after it.
type Segment struct {
	Text  string
	Pause time.Duration
}

var (
	spaceRe      = regexp.MustCompile(`\s+`)
	punctSpaceRe = regexp.MustCompile(`([.?!,;:])(\S)`)
)

// Normalize collapses whitespace and ellipses and guarantees a space after
// punctuation, so downstream splitting sees clean boundaries. Idempotent.
func Normalize(text string) string {
	t := strings.TrimSpace(text)
	if t == "" {
		return t
	}
	t = strings.ReplaceAll(t, "...", "…")
	t = spaceRe.ReplaceAllString(t, " ")
	t = punctSpaceRe.ReplaceAllString(t, "$1 $2")
	return strings.TrimSpace(t)
}

// Split segments assistant text for cadence-controlled synthesis. Sentences
// split on .?!, clauses on ,;:. A clause longer than maxWords is cut into
// fixed word windows, with the clause's terminal punctuation re-attached to
// the last window only. The final segment's pause is capped so the end of a
// turn stays snappy.
func Split(text string, maxWords int) []Segment {
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	t := Normalize(text)
	if t == "" {
		return nil
	}

	var out []Segment
	add := func(seg string, pause time.Duration) {
		seg = strings.TrimSpace(seg)
		if seg != "" {
			out = append(out, Segment{Text: seg, Pause: pause})
		}
	}

	for _, sent := range splitKeep(t, ".?!") {
		for _, clause := range splitKeep(sent, ",;:") {
			words := strings.Fields(clause)
			if len(words) <= maxWords {
				add(clause, pauseFor(clause, PausePlain))
				continue
			}
			term := terminalPunct(clause)
			for i := 0; i < len(words); i += maxWords {
				end := i + maxWords
				if end > len(words) {
					end = len(words)
				}
				seg := strings.Join(words[i:end], " ")
				if end >= len(words) && term != "" && terminalPunct(seg) == "" {
					seg += term
				}
				add(seg, pauseFor(seg, PauseWindowed))
			}
		}
	}

	if n := len(out); n > 0 && out[n-1].Pause > PauseFinalCap {
		out[n-1].Pause = PauseFinalCap
	}
	return out
}

// splitKeep splits s after any rune in cutset, keeping the terminator on the
// preceding piece.
func splitKeep(s, cutset string) []string {
	var parts []string
	var buf strings.Builder
	for _, ch := range s {
		buf.WriteRune(ch)
		if strings.ContainsRune(cutset, ch) {
			if p := strings.TrimSpace(buf.String()); p != "" {
				parts = append(parts, p)
			}
			buf.Reset()
		}
	}
	if p := strings.TrimSpace(buf.String()); p != "" {
		parts = append(parts, p)
	}
	return parts
}

func terminalPunct(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	last := s[len(s)-1]
	if strings.ContainsRune(".?!,;:", rune(last)) {
		return string(last)
	}
	return ""
}

func pauseFor(seg string, bare time.Duration) time.Duration {
	switch terminalPunct(seg) {
	case ",", ";", ":":
		return PauseClause
	case ".", "?", "!":
		return PauseSentence
	default:
		return bare
	}
}
