// Package match implements the heuristic that decides whether a track returned
// by the metadata service's search is the same track as a locally stored chart
// entry. Labels rarely agree byte-for-byte across catalogs ("Feat." credits,
// punctuation, reissue suffixes), so the verdict is based on word overlap.
package match

import (
	"strings"
)

// DefaultThreshold is the minimum overlap coefficient both the artist and the
// title must reach for a positive verdict.
const DefaultThreshold = 0.5

// epsilon guards against float rounding right at the threshold.
const epsilon = 1e-5

// Labels identifies a track by its artist and title strings.
type Labels struct {
	Artist string
	Title  string
}

// Matcher compares track labels using a word-overlap coefficient.
type Matcher struct {
	threshold float64
}

// New returns a Matcher with the given threshold. Values outside (0, 1]
// fall back to DefaultThreshold.
func New(threshold float64) *Matcher {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Matcher{threshold: threshold - epsilon}
}

// Match reports whether the candidate labels describe the same track as the
// original labels. Both the artist and the title coefficients must reach the
// threshold.
func (m *Matcher) Match(original, candidate Labels) bool {
	if candidate.Artist == "" || candidate.Title == "" {
		return false
	}
	artistCoef := overlap(artistWords(original.Artist), artistWords(candidate.Artist))
	if artistCoef < m.threshold {
		return false
	}
	titleCoef := overlap(titleWords(original.Title), titleWords(candidate.Title))
	return titleCoef >= m.threshold
}

// overlap computes the directional word-overlap coefficient in both directions
// and returns the larger one. Direction matters: a chart credit like
// "Soulja Boy Tell'em" against "Soulja Boy" should still count as a full
// overlap of the shorter label.
func overlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	return max(coef(a, b), coef(b, a))
}

func coef(from, to []string) float64 {
	hits := 0
	for _, w := range from {
		for _, other := range to {
			if w == other {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(from))
}

func artistWords(s string) []string {
	return splitWords(normalizeApostrophes(s))
}

func titleWords(s string) []string {
	s = normalizeApostrophes(s)
	s = strings.NewReplacer("!", "", "[", "", "]", "", "(", "", ")", "").Replace(s)
	return splitWords(s)
}

func normalizeApostrophes(s string) string {
	return strings.ReplaceAll(s, "’", "'")
}

// splitWords lowercases and splits on comma-space, spaces, and non-breaking
// spaces. A comma with no following space is not a separator, so a credit
// like "AC,DC" stays a single word.
func splitWords(s string) []string {
	s = strings.ReplaceAll(strings.ToLower(s), ", ", " ")
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\u00a0'
	})
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// SearchArtist normalizes a chart artist credit into a search query term:
// the credit is truncated at the first comma and "The" prefixes and periods
// are dropped, mirroring how the archive styles lead-artist credits.
func SearchArtist(artist string) string {
	lead := strings.SplitN(artist, ",", 2)[0]
	lead = strings.ReplaceAll(lead, "The", "")
	lead = strings.ReplaceAll(lead, ".", "")
	return strings.TrimSpace(lead)
}

// SearchTitle normalizes a chart title into a search query term by removing
// apostrophes, which the search endpoint treats as term separators.
func SearchTitle(title string) string {
	return strings.ReplaceAll(title, "'", "")
}
