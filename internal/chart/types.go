// Package chart defines the domain types shared across the crawling and
// enrichment subsystems: chart weeks, ranked entries, and the Spotify-side
// records merged onto them.
package chart

import (
	"fmt"
	"time"
)

// URLDateLayout is the date format used in archive chart URLs.
const URLDateLayout = "2006-01-02"

// TaglineDateLayout is the human-readable date printed on a chart page
// ("Week of August 2, 1958").
const TaglineDateLayout = "January 2, 2006"

// Entry is one row of a weekly chart: a track's rank plus its trajectory stats.
type Entry struct {
	Date         time.Time `json:"date"`
	Rank         int       `json:"rank"`
	Artist       string    `json:"artist"`
	Title        string    `json:"title"`
	LastWeek     *int      `json:"last_week"` // nil when not charted the previous week
	PeakPos      int       `json:"peak_pos"`
	WeeksOnChart int       `json:"weeks_on_chart"`
}

// Score is the entry's chart score, with rank 1 worth 100 points.
func (e Entry) Score() int {
	return 101 - e.Rank
}

// Validate checks the invariants every persisted entry must satisfy.
func (e Entry) Validate() error {
	if e.Date.IsZero() {
		return fmt.Errorf("entry has no chart date")
	}
	if e.Rank < 1 || e.Rank > 100 {
		return fmt.Errorf("rank %d out of range 1..100", e.Rank)
	}
	if e.Artist == "" {
		return fmt.Errorf("entry at rank %d has no artist", e.Rank)
	}
	if e.Title == "" {
		return fmt.Errorf("entry at rank %d has no title", e.Rank)
	}
	return nil
}

// Week is one fully parsed chart week plus its snapshot provenance.
type Week struct {
	Date        time.Time `json:"date"`
	SnapshotKey string    `json:"snapshot_key,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
	Entries     []Entry   `json:"entries"`
}

// Track identifies a distinct (artist, title) pair across chart weeks.
type Track struct {
	Artist string `json:"artist"`
	Title  string `json:"title"`
}

// TrackMatch records the verdict of matching a local track against the
// metadata service's search results.
type TrackMatch struct {
	Track
	Matched         bool   `json:"matched"`
	SpotifyTrackID  string `json:"spotify_track_id,omitempty"`
	SpotifyArtistID string `json:"spotify_artist_id,omitempty"`
	SpotifyTitle    string `json:"spotify_title,omitempty"`
	SpotifyArtist   string `json:"spotify_artist,omitempty"`
}

// AudioFeatures holds the numerical audio attributes for one matched track.
type AudioFeatures struct {
	SpotifyTrackID   string  `json:"id"`
	Danceability     float64 `json:"danceability"`
	Energy           float64 `json:"energy"`
	Key              int     `json:"key"`
	Loudness         float64 `json:"loudness"`
	Mode             int     `json:"mode"`
	Speechiness      float64 `json:"speechiness"`
	Acousticness     float64 `json:"acousticness"`
	Instrumentalness float64 `json:"instrumentalness"`
	Liveness         float64 `json:"liveness"`
	Valence          float64 `json:"valence"`
	Tempo            float64 `json:"tempo"`
	DurationMs       int     `json:"duration_ms"`
	TimeSignature    int     `json:"time_signature"`
}

// ArtistGenres holds the genre list for one matched artist.
type ArtistGenres struct {
	SpotifyArtistID string   `json:"id"`
	Genres          []string `json:"genres"`
}

// EnrichedRow is one joined row of the exported dataset: a chart entry with
// whatever match, feature, and genre data is available for it.
type EnrichedRow struct {
	Entry
	Match    *TrackMatch    `json:"match,omitempty"`
	Features *AudioFeatures `json:"features,omitempty"`
	Genres   []string       `json:"genres,omitempty"`
}

// NextWeek returns the chart date one week after d.
func NextWeek(d time.Time) time.Time {
	return d.AddDate(0, 0, 7)
}

// Weeks enumerates every chart date from start through end, inclusive,
// stepping one week.
func Weeks(start, end time.Time) []time.Time {
	if end.Before(start) {
		return nil
	}
	var out []time.Time
	for d := start; !d.After(end); d = NextWeek(d) {
		out = append(out, d)
	}
	return out
}
