// Package stats computes chart-performance statistics for an artist. An
// entry at rank 1 is worth 100 points, rank 100 one point; a song's success
// is the sum of its weekly scores.
package stats

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/hotcharts/chartcrawler/internal/chart"
)

// Credit classes for an artist's chart entries. A credit that names the
// artist exactly is solo work; a credit that begins with the artist's name
// and continues ("X Featuring Y", "X & Y") is a lead collaboration.
const (
	CreditSolo = "solo"
	CreditLead = "lead"
)

// SongStats aggregates one song's run on the chart.
type SongStats struct {
	Title        string    `json:"title"`
	Credit       string    `json:"credit"`
	Weeks        int       `json:"weeks"`
	Peak         int       `json:"peak"`
	TotalScore   int       `json:"total_score"`
	FirstCharted time.Time `json:"first_charted"`
	LastCharted  time.Time `json:"last_charted"`
}

// Split sums one credit class of an artist's report.
type Split struct {
	Songs int `json:"songs"`
	Weeks int `json:"weeks"`
	Score int `json:"score"`
}

// ArtistReport is the full statistics breakdown for one artist.
type ArtistReport struct {
	Artist string      `json:"artist"`
	Solo   Split       `json:"solo"`
	Lead   Split       `json:"lead"`
	Songs  []SongStats `json:"songs"`
}

// ForArtist builds the report from chart entries. Entries credited to other
// artists are ignored, so callers may pass a prefiltered or a full listing.
func ForArtist(entries []chart.Entry, artist string) ArtistReport {
	report := ArtistReport{Artist: artist}
	songs := make(map[string]*SongStats)

	for _, e := range entries {
		credit := classifyCredit(e.Artist, artist)
		if credit == "" {
			continue
		}

		key := credit + "\x00" + e.Title
		s, ok := songs[key]
		if !ok {
			s = &SongStats{
				Title:        e.Title,
				Credit:       credit,
				Peak:         e.Rank,
				FirstCharted: e.Date,
				LastCharted:  e.Date,
			}
			songs[key] = s
		}
		s.Weeks++
		s.TotalScore += e.Score()
		if e.Rank < s.Peak {
			s.Peak = e.Rank
		}
		if e.Date.Before(s.FirstCharted) {
			s.FirstCharted = e.Date
		}
		if e.Date.After(s.LastCharted) {
			s.LastCharted = e.Date
		}
	}

	for _, s := range songs {
		report.Songs = append(report.Songs, *s)
		split := &report.Solo
		if s.Credit == CreditLead {
			split = &report.Lead
		}
		split.Songs++
		split.Weeks += s.Weeks
		split.Score += s.TotalScore
	}

	sort.Slice(report.Songs, func(i, j int) bool {
		a, b := report.Songs[i], report.Songs[j]
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		if a.Weeks != b.Weeks {
			return a.Weeks > b.Weeks
		}
		if a.Peak != b.Peak {
			return a.Peak < b.Peak
		}
		return a.Title < b.Title
	})
	return report
}

// classifyCredit returns the credit class of a chart credit relative to the
// artist, or "" when the entry belongs to someone else.
func classifyCredit(credit, artist string) string {
	if strings.EqualFold(credit, artist) {
		return CreditSolo
	}
	if len(credit) > len(artist) && strings.EqualFold(credit[:len(artist)], artist) {
		return CreditLead
	}
	return ""
}

// MostSuccessful returns the artist's top song, if any. Songs are already
// ordered by total score, then weeks on chart, then best peak.
func (r ArtistReport) MostSuccessful() (SongStats, bool) {
	if len(r.Songs) == 0 {
		return SongStats{}, false
	}
	return r.Songs[0], true
}

// Render writes the report as text tables.
func (r ArtistReport) Render(w io.Writer) error {
	fmt.Fprintf(w, "Chart statistics for %s\n\n", r.Artist)

	summary := tablewriter.NewWriter(w)
	summary.Header([]string{"Credit", "Songs", "Weeks", "Score"})
	rows := [][]string{
		{"Solo", strconv.Itoa(r.Solo.Songs), strconv.Itoa(r.Solo.Weeks), strconv.Itoa(r.Solo.Score)},
		{"Lead collab", strconv.Itoa(r.Lead.Songs), strconv.Itoa(r.Lead.Weeks), strconv.Itoa(r.Lead.Score)},
	}
	for _, row := range rows {
		if err := summary.Append(row); err != nil {
			return fmt.Errorf("render summary: %w", err)
		}
	}
	if err := summary.Render(); err != nil {
		return fmt.Errorf("render summary: %w", err)
	}

	if len(r.Songs) == 0 {
		fmt.Fprintln(w, "\nNo chart entries found.")
		return nil
	}

	fmt.Fprintln(w)
	songs := tablewriter.NewWriter(w)
	songs.Header([]string{"Song", "Credit", "Weeks", "Peak", "Score", "First", "Last"})
	for _, s := range r.Songs {
		row := []string{
			s.Title,
			s.Credit,
			strconv.Itoa(s.Weeks),
			strconv.Itoa(s.Peak),
			strconv.Itoa(s.TotalScore),
			s.FirstCharted.Format(chart.URLDateLayout),
			s.LastCharted.Format(chart.URLDateLayout),
		}
		if err := songs.Append(row); err != nil {
			return fmt.Errorf("render songs: %w", err)
		}
	}
	if err := songs.Render(); err != nil {
		return fmt.Errorf("render songs: %w", err)
	}
	return nil
}
