// Package glossary corrects user transcriptions against a list of domain
// terms such as broker names, fund categories and tax schemes.
//
// A spoken phrase is compared word by word with each term of the same word
// count. Every word must either equal the term's word (ignoring case) or
// pass both checks:
//
//  1. Phonetic: the two words share a Double Metaphone code.
//  2. Similarity: their Jaro-Winkler score reaches the threshold
//     (default 0.85).
//
// Common English words never stand in for a term word, so "else" stays
// "else" even though it sounds like "ELSS". A phrase that differs from a
// term only in case is left as spoken.
package glossary

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultThreshold = 0.85

	// minRunes is the shortest word that may be corrected.
	minRunes = 3
)

// stopwords are frequent words a misheard term must never replace.
var stopwords = toSet(strings.Fields(`
	a about above after again all almost also always am an and any are as at
	be because been before being below both but by can could did do does
	doing done down each else even ever every few for from further get gets
	got had has have having he her here hers him his how i if in into is it
	its just know last less let like make many may me might mine more most
	much must my never next no nor not now of off often on once one only or
	other our ours out over own please rather really same say see sell sells
	she should since so some still such take tell than thank thanks that the
	their theirs them then there these they thing think this those though
	through till to too under until up upon us use used very want was way we
	well were what when where whether which while who whom whose why will
	with within without would yes yet you your yours
`))

// Option configures a [Corrector].
type Option func(*Corrector)

// WithThreshold sets the minimum Jaro-Winkler score for a word that differs
// from the term's word. Default: 0.85.
func WithThreshold(threshold float64) Option {
	return func(c *Corrector) { c.threshold = threshold }
}

// WithStopwords adds words that are never corrected.
func WithStopwords(words ...string) Option {
	return func(c *Corrector) {
		for _, w := range words {
			c.stopwords[strings.ToLower(w)] = struct{}{}
		}
	}
}

// Correction records one replacement made by [Corrector.Correct].
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

type word struct {
	text  string // lower case
	codes map[string]struct{}
}

type term struct {
	canonical string
	words     []word
}

// Corrector replaces misheard glossary terms in transcribed text.
// It is read-only after construction and safe for concurrent use.
type Corrector struct {
	terms     []term
	maxWords  int
	threshold float64
	stopwords map[string]struct{}
}

// New prepares a Corrector for terms. Blank terms are ignored.
func New(terms []string, opts ...Option) *Corrector {
	c := &Corrector{
		threshold: defaultThreshold,
		stopwords: make(map[string]struct{}, len(stopwords)),
	}
	for w := range stopwords {
		c.stopwords[w] = struct{}{}
	}
	for _, o := range opts {
		o(c)
	}
	for _, t := range terms {
		fields := strings.Fields(t)
		if len(fields) == 0 {
			continue
		}
		tm := term{canonical: strings.Join(fields, " ")}
		for _, f := range fields {
			lw := strings.ToLower(f)
			tm.words = append(tm.words, word{text: lw, codes: codes(lw)})
		}
		c.terms = append(c.terms, tm)
		c.maxWords = max(c.maxWords, len(fields))
	}
	return c
}

// Len reports the number of usable terms.
func (c *Corrector) Len() int { return len(c.terms) }

// Match finds the term closest to phrase. When matched is false, corrected
// equals phrase and confidence is 0.
func (c *Corrector) Match(phrase string) (corrected string, confidence float64, matched bool) {
	words := strings.Fields(strings.ToLower(phrase))
	if len(words) == 0 {
		return phrase, 0, false
	}
	t, score, ok := c.match(words)
	if !ok {
		return phrase, 0, false
	}
	return t.canonical, score, true
}

// match returns the best term for the lower-case words. The score of a term
// is that of its weakest word.
func (c *Corrector) match(words []string) (term, float64, bool) {
	var (
		best      term
		bestScore float64
	)
	for _, t := range c.terms {
		if len(t.words) != len(words) {
			continue
		}
		score := 1.0
		for i, w := range words {
			s, ok := c.wordScore(w, t.words[i])
			if !ok {
				score = 0
				break
			}
			score = min(score, s)
		}
		if score > bestScore {
			best, bestScore = t, score
		}
	}
	return best, bestScore, bestScore > 0
}

func (c *Corrector) wordScore(spoken string, w word) (float64, bool) {
	if spoken == w.text {
		return 1, true
	}
	if _, stop := c.stopwords[spoken]; stop || len([]rune(spoken)) < minRunes {
		return 0, false
	}
	if !overlap(codes(spoken), w.codes) {
		return 0, false
	}
	s := matchr.JaroWinkler(spoken, w.text, false)
	return s, s >= c.threshold
}

// Correct rewrites every phrase in text that matches a term. Longer phrases
// are tried first at each position. Punctuation around a replaced phrase is
// kept. A phrase that already reads as the term, ignoring case, is left as
// spoken and not reported.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if c == nil || len(c.terms) == 0 {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}
	cores := make([]string, len(tokens))
	for i, tok := range tokens {
		cores[i] = strings.ToLower(strings.TrimFunc(tok, notWordRune))
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		n := min(c.maxWords, len(tokens)-i)
		consumed := 0
		for ; n >= 1; n-- {
			window := cores[i : i+n]
			if containsEmpty(window) {
				continue
			}
			t, score, ok := c.match(window)
			if !ok {
				continue
			}
			consumed = n
			if score == 1 {
				// Same words, possibly different case.
				out = append(out, tokens[i:i+n]...)
				break
			}
			first, last := tokens[i], tokens[i+n-1]
			prefix := first[:strings.IndexFunc(first, isWordRune)]
			suffix := last[strings.LastIndexFunc(last, isWordRune)+1:]
			out = append(out, prefix+t.canonical+suffix)
			corrections = append(corrections, Correction{
				Original:   strings.Join(stripped(tokens[i:i+n]), " "),
				Corrected:  t.canonical,
				Confidence: score,
			})
			break
		}
		if consumed == 0 {
			out = append(out, tokens[i])
			consumed = 1
		}
		i += consumed
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

func codes(s string) map[string]struct{} {
	set := make(map[string]struct{}, 2)
	primary, secondary := matchr.DoubleMetaphone(s)
	if primary != "" {
		set[primary] = struct{}{}
	}
	if secondary != "" {
		set[secondary] = struct{}{}
	}
	return set
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func isWordRune(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }

func notWordRune(r rune) bool { return !isWordRune(r) }

func containsEmpty(words []string) bool {
	for _, w := range words {
		if w == "" {
			return true
		}
	}
	return false
}

func stripped(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = strings.TrimFunc(t, notWordRune)
	}
	return out
}
