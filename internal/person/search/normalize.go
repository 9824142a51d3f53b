// Package search derives the normalized search text of a person and matches
// query terms against it.
//
// Folding removes diacritics and lower-cases, so "José" and "jose" match each
// other. Fields are joined with Separator, a control character that request
// validation rejects in every field, so no field can fake a boundary.
package search

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Separator joins folded fields inside the search text.
const Separator = "\x1f"

// Fold returns the case- and accent-insensitive form of s. Case folding maps
// runes without context, so folding a substring of s yields a substring of
// Fold(s). Transformers and casers are stateful, so each call builds its own.
func Fold(s string) string {
	if s == "" {
		return ""
	}
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(stripMarks, s)
	if err != nil {
		stripped = s
	}
	return cases.Fold().String(stripped)
}

// Normalize builds the search text of a record. Absent and empty stacks both
// contribute nothing.
func Normalize(nickname, name string, stack []string) string {
	parts := make([]string, 0, 2+len(stack))
	parts = append(parts, Fold(nickname), Fold(name))
	for _, tag := range stack {
		parts = append(parts, Fold(tag))
	}
	return strings.Join(parts, Separator)
}

// Matches reports whether term occurs in searchText after folding. An empty
// term matches everything.
func Matches(searchText, term string) bool {
	return MatchesFolded(searchText, Fold(term))
}

// MatchesFolded is Matches for a term that is already folded, for scans that
// test one term against many records.
func MatchesFolded(searchText, foldedTerm string) bool {
	if SpansFields(foldedTerm) {
		return false
	}
	return strings.Contains(searchText, foldedTerm)
}

// SpansFields reports whether term contains the field separator. Such a term
// can only match across two fields and never matches a record.
func SpansFields(term string) bool {
	return strings.Contains(term, Separator)
}

// LikePattern renders a folded term as a SQL LIKE pattern matching any
// position, escaping the wildcard characters with a backslash.
func LikePattern(foldedTerm string) string {
	var b strings.Builder
	b.Grow(len(foldedTerm) + 2)
	b.WriteByte('%')
	for _, r := range foldedTerm {
		if r == '%' || r == '_' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('%')
	return b.String()
}
