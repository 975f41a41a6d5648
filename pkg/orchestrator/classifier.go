package orchestrator

import "strings"

// Classification is the interpreted interest level of a prospect's
// spoken reply.
type Classification string

const (
	ClassPositive Classification = "positive"
	ClassNegative Classification = "negative"
	ClassUnclear  Classification = "unclear"
)

// Keyword phrase lists, matched on word boundaries. Negative phrases
// are matched first and mask the words they consume, so "not
// interested" never feeds its "interested" into the positive pass.
var negativePhrases = [][]string{
	{"not", "interested"},
	{"no", "thank", "you"},
	{"no", "thanks"},
	{"don't", "call"},
	{"do", "not", "call"},
	{"stop", "calling"},
	{"remove", "me"},
	{"not", "a", "good", "time"},
	{"wrong", "number"},
	{"no"},
	{"nope"},
	{"never"},
}

var positivePhrases = [][]string{
	{"tell", "me", "more"},
	{"sounds", "good"},
	{"sounds", "great"},
	{"interested"},
	{"yes"},
	{"yeah"},
	{"yep"},
	{"sure"},
	{"absolutely"},
	{"definitely"},
	{"okay"},
	{"ok"},
}

// Classify maps an utterance to an interest classification. The result
// is deterministic for a given input: lowercase word-boundary matching,
// negative first with masking, and any mixed signal resolves to
// unclear.
func Classify(utterance string) Classification {
	words := tokenize(utterance)
	if len(words) == 0 {
		return ClassUnclear
	}

	masked := make([]bool, len(words))
	negative := matchPhrases(words, masked, negativePhrases, true)
	positive := matchPhrases(words, masked, positivePhrases, false)

	switch {
	case positive && !negative:
		return ClassPositive
	case negative && !positive:
		return ClassNegative
	default:
		return ClassUnclear
	}
}

// matchPhrases reports whether any phrase occurs as a run of unmasked
// words. When consume is set, matched words are masked out for later
// passes.
func matchPhrases(words []string, masked []bool, phrases [][]string, consume bool) bool {
	hit := false
	for _, phrase := range phrases {
		for i := 0; i+len(phrase) <= len(words); i++ {
			if !phraseAt(words, masked, phrase, i) {
				continue
			}
			hit = true
			if consume {
				for j := range phrase {
					masked[i+j] = true
				}
			}
		}
	}
	return hit
}

func phraseAt(words []string, masked []bool, phrase []string, at int) bool {
	for j, w := range phrase {
		if masked[at+j] || words[at+j] != w {
			return false
		}
	}
	return true
}

// tokenize lowercases and splits on anything that is not a letter,
// digit, or in-word apostrophe, so "don't" survives as one word and
// "know" never matches "no".
func tokenize(s string) []string {
	var words []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			words = append(words, b.String())
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '\'', r == '’':
			if r == '’' {
				r = '\''
			}
			b.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return words
}
