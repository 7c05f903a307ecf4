// Package text normalizes field text for indexing and free-text search.
package text

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/surgebase/porter2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// folds maps letters that do not decompose under NFD to their closest ASCII
// spelling. Multi-rune sources are matched before single runes.
var folds = []struct{ from, to string }{
	{"i̇", "i"},
	{"ß", "ss"},
	{"ẞ", "SS"},
	{"æ", "ae"},
	{"Æ", "AE"},
	{"œ", "oe"},
	{"Œ", "OE"},
	{"ø", "o"},
	{"Ø", "O"},
	{"ł", "l"},
	{"Ł", "L"},
	{"đ", "d"},
	{"Đ", "D"},
	{"ð", "d"},
	{"Ð", "D"},
	{"þ", "th"},
	{"Þ", "TH"},
	{"ı", "i"},
	{"ħ", "h"},
	{"Ħ", "H"},
	{"ŀ", "l"},
	{"Ŀ", "L"},
	{"ŧ", "t"},
	{"Ŧ", "T"},
	{"ŋ", "n"},
	{"Ŋ", "N"},
	{"ſ", "s"},
	{"ĳ", "ij"},
	{"Ĳ", "IJ"},
	{"‘", "'"},
	{"’", "'"},
	{"“", "\""},
	{"”", "\""},
	{"–", "-"},
	{"—", "-"},
}

var (
	folder    = buildFolder()
	nonWord   = regexp.MustCompile(`[^\p{L}\p{N}_]+`)
	wordRunes = regexp.MustCompile(`[\p{L}\p{N}_]+`)
)

func buildFolder() *strings.Replacer {
	pairs := make([]string, 0, len(folds)*2)
	for _, f := range folds {
		pairs = append(pairs, f.from, f.to)
	}
	return strings.NewReplacer(pairs...)
}

func stripMarks() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// Asciify folds accented and special letters to their ASCII base. Characters
// with no mapping pass through unchanged.
func Asciify(s string) string {
	if isASCII(s) {
		return s
	}
	s = folder.Replace(s)
	out, _, err := transform.String(stripMarks(), s)
	if err != nil {
		return s
	}
	return out
}

// Scrub returns the comparison form of s: asciified, case-folded, with every
// run of non-word characters collapsed to a single space.
func Scrub(s string) string {
	// Casers carry state and are not shared across goroutines.
	s = cases.Lower(language.Und).String(cases.Upper(language.Und).String(Asciify(s)))
	s = nonWord.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Tokenize splits s into words and stems each one with the English
// Snowball (Porter2) stemmer, including its irregular forms. Stemming is not
// idempotent; do not feed stems back through Tokenize expecting a fixpoint.
func Tokenize(s string) []string {
	words := wordRunes.FindAllString(strings.ToLower(Asciify(s)), -1)
	for i, w := range words {
		words[i] = porter2.Stem(w)
	}
	return words
}

// Words returns the distinct tokens of s in first-seen order.
func Words(s string) []string {
	toks := Tokenize(s)
	seen := make(map[string]struct{}, len(toks))
	out := toks[:0]
	for _, t := range toks {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
