package pipeline

import (
	"fmt"
	"strings"
	"unicode"
)

// BufferPolicy selects when accumulated LLM tokens are flushed to the TTS
// input queue. More aggressive policies trade latency for prosody: NONE
// speaks every token as it arrives, HIGH waits for full sentences.
type BufferPolicy string

const (
	BufferNone   BufferPolicy = "none"
	BufferLow    BufferPolicy = "low"
	BufferMedium BufferPolicy = "medium"
	BufferHigh   BufferPolicy = "high"
)

// IsValid reports whether p is one of the four known policies.
func (p BufferPolicy) IsValid() bool {
	switch p {
	case BufferNone, BufferLow, BufferMedium, BufferHigh:
		return true
	}
	return false
}

// ParseBufferPolicy parses a case-insensitive policy name.
func ParseBufferPolicy(s string) (BufferPolicy, error) {
	p := BufferPolicy(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("pipeline: unknown buffer policy %q", s)
	}
	return p, nil
}

// mediumWordCount is the word threshold for the MEDIUM policy's early flush.
const mediumWordCount = 4

// Punctuation sets. MEDIUM flushes at any clause punctuation so the first
// spoken unit starts early; HIGH waits for sentence terminators.
const (
	clausePunct   = ".,!?;:"
	sentencePunct = ".!?;:"
)

// Flusher accumulates streamed tokens and cuts them into TTS text units per
// its policy. Not safe for concurrent use; the generation pipeline is its
// only caller.
type Flusher struct {
	policy BufferPolicy
	buf    strings.Builder
}

// NewFlusher returns a Flusher for the given policy. An invalid policy is
// treated as BufferNone.
func NewFlusher(policy BufferPolicy) *Flusher {
	if !policy.IsValid() {
		policy = BufferNone
	}
	return &Flusher{policy: policy}
}

// Policy returns the flusher's policy.
func (f *Flusher) Policy() BufferPolicy { return f.policy }

// Append adds one token and returns the text units that became complete,
// in order. The concatenation of all returned units plus the final residue
// always equals the concatenation of all appended tokens.
func (f *Flusher) Append(token string) []string {
	if token == "" {
		return nil
	}
	if f.policy == BufferNone {
		return []string{token}
	}
	f.buf.WriteString(token)
	units, rest := splitUnits(f.policy, f.buf.String())
	f.buf.Reset()
	f.buf.WriteString(rest)
	return units
}

// Finish returns the residue left in the buffer, which the caller flushes as
// the final unit of the stream. Empty when the last token ended on a cut
// point. Resets the flusher.
func (f *Flusher) Finish() string {
	rest := f.buf.String()
	f.buf.Reset()
	return rest
}

// splitUnits applies the policy's cut rules to text repeatedly until none
// fires, returning the complete units and the unconsumed residue. Because
// the rules are applied at the smallest granule and looped, a one-pass split
// of a full transcript equals the chunked split of any tokenization of it.
func splitUnits(policy BufferPolicy, text string) (units []string, rest string) {
	rest = text
	for {
		var unit string
		var ok bool
		switch policy {
		case BufferLow:
			unit, rest, ok = cutAfterWhitespace(rest)
		case BufferMedium:
			unit, rest, ok = cutWords(rest, mediumWordCount)
			if !ok {
				unit, rest, ok = cutAfterPunct(rest, clausePunct)
			}
		case BufferHigh:
			unit, rest, ok = cutAfterPunct(rest, sentencePunct)
		default:
			ok = false
		}
		if !ok {
			return units, rest
		}
		units = append(units, unit)
	}
}

// cutAfterWhitespace cuts the shortest prefix containing at least one
// non-whitespace rune and ending at a whitespace boundary: everything
// through the whitespace run that follows the first word.
func cutAfterWhitespace(s string) (unit, rest string, ok bool) {
	seenWord := false
	inRun := false
	for i, r := range s {
		switch {
		case unicode.IsSpace(r):
			if seenWord {
				inRun = true
			}
		case inRun:
			return s[:i], s[i:], true
		default:
			seenWord = true
		}
	}
	return "", s, false
}

// cutWords cuts the first n whitespace-separated words, each followed by
// whitespace, including the whitespace run after the nth word. ok is false
// when fewer than n complete words are present.
func cutWords(s string, n int) (unit, rest string, ok bool) {
	words := 0
	inWord := false
	for i, r := range s {
		if unicode.IsSpace(r) {
			if inWord {
				words++
				inWord = false
			}
			continue
		}
		if !inWord {
			if words >= n {
				return s[:i], s[i:], true
			}
			inWord = true
		}
	}
	return "", s, false
}

// cutAfterPunct cuts through the first rune of set, keeping anything after
// it (including leading whitespace of the next unit) in the residue.
func cutAfterPunct(s, set string) (unit, rest string, ok bool) {
	if i := strings.IndexAny(s, set); i >= 0 {
		end := i + 1 // set is ASCII
		return s[:end], s[end:], true
	}
	return "", s, false
}
