// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package reconcile

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/tomtom215/curator/internal/models"
)

const (
	// FuzzyThreshold is the minimum Similarity for a fuzzy match when the
	// item has a year.
	FuzzyThreshold = 0.80
	// FuzzyThresholdNoYear applies when the item has no year.
	FuzzyThresholdNoYear = 0.75
)

var leadingArticles = []string{"the ", "a ", "an "}

// NormalizeTitle folds a title for comparison: accents are removed, the
// result is lowercased, apostrophes are dropped, other punctuation becomes
// a space, whitespace is collapsed and one leading English article is
// stripped when something remains after it.
func NormalizeTitle(title string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r == '\'' || r == '’':
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}

	out := b.String()
	for _, article := range leadingArticles {
		if rest, ok := strings.CutPrefix(out, article); ok && rest != "" {
			return rest
		}
	}
	return out
}

// Similarity compares two titles after normalization. It is 1 for equal
// titles, len(shorter)/len(longer) when one contains the other, and 0
// otherwise or when either is empty.
func Similarity(a, b string) float64 {
	na, nb := NormalizeTitle(a), NormalizeTitle(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	la, lb := utf8.RuneCountInString(na), utf8.RuneCountInString(nb)
	if la > lb {
		na, nb = nb, na
		la, lb = lb, la
	}
	if !strings.Contains(nb, na) {
		return 0
	}
	return float64(la) / float64(lb)
}

// exactMatch returns the first candidate whose normalized title equals
// title and whose year equals year when year is set.
func exactMatch(title string, year int, kind models.MediaKind, candidates []models.LibraryItem) *models.LibraryItem {
	want := NormalizeTitle(title)
	if want == "" {
		return nil
	}
	for i := range candidates {
		c := &candidates[i]
		if !kindMatches(kind, c.Kind) || !yearMatches(year, c.Year) {
			continue
		}
		if NormalizeTitle(c.Title) == want {
			return c
		}
	}
	return nil
}

// fuzzyMatch returns the candidate with the highest Similarity at or above
// the threshold. Year must match when set. Ties keep the earlier candidate.
func fuzzyMatch(title string, year int, kind models.MediaKind, candidates []models.LibraryItem) (*models.LibraryItem, float64) {
	threshold := FuzzyThreshold
	if year == 0 {
		threshold = FuzzyThresholdNoYear
	}
	var best *models.LibraryItem
	bestScore := 0.0
	for i := range candidates {
		c := &candidates[i]
		if !kindMatches(kind, c.Kind) || !yearMatches(year, c.Year) {
			continue
		}
		if s := Similarity(title, c.Title); s >= threshold && s > bestScore {
			best, bestScore = c, s
		}
	}
	return best, bestScore
}

func yearMatches(want, got int) bool {
	return want == 0 || want == got
}

func kindMatches(want, got models.MediaKind) bool {
	return want == "" || got == "" || want == got
}
