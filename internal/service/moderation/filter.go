// Package moderation screens user text against a configured term list.
// Text is folded before matching so accents, width variants, case and common
// character substitutions do not slip past the list.
package moderation

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Issue reasons
const (
	ReasonBlockedTerm = "blocked_term"
	ReasonRepetition  = "excessive_repetition"
)

// maxRepeatedRunes is the longest run of one character accepted
const maxRepeatedRunes = 40

// Issue describes why text was flagged
type Issue struct {
	Reason string `json:"reason"`
	Term   string `json:"term,omitempty"`
}

var leet = strings.NewReplacer(
	"0", "o",
	"1", "i",
	"3", "e",
	"4", "a",
	"5", "s",
	"7", "t",
	"@", "a",
	"$", "s",
)

// Filter checks text against a term list
type Filter struct {
	terms []string
}

// NewFilter creates a filter; terms are folded the same way as checked text
func NewFilter(terms []string) *Filter {
	f := &Filter{}
	for _, term := range terms {
		folded := strings.TrimSpace(fold(term))
		if folded != "" {
			f.terms = append(f.terms, folded)
		}
	}
	return f
}

// Check returns nil when text is acceptable
func (f *Filter) Check(text string) *Issue {
	if hasLongRun(text, maxRepeatedRunes) {
		return &Issue{Reason: ReasonRepetition}
	}
	if len(f.terms) == 0 {
		return nil
	}

	words := strings.FieldsFunc(fold(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	joined := " " + strings.Join(words, " ") + " "
	for _, term := range f.terms {
		if strings.Contains(joined, " "+term+" ") {
			return &Issue{Reason: ReasonBlockedTerm, Term: term}
		}
	}
	return nil
}

// fold maps text to a canonical lowercase, accent-free form
func fold(s string) string {
	t := transform.Chain(
		norm.NFKD,
		runes.Remove(runes.In(unicode.Mn)),
		cases.Fold(),
		norm.NFC,
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = strings.ToLower(s)
	}
	return leet.Replace(out)
}

func hasLongRun(s string, limit int) bool {
	var (
		prev rune
		run  int
	)
	for _, r := range s {
		if r == prev && !unicode.IsSpace(r) {
			run++
			if run > limit {
				return true
			}
			continue
		}
		prev = r
		run = 1
	}
	return false
}
