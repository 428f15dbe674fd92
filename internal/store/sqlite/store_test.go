package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotcharts/chartcrawler/internal/chart"
	"github.com/hotcharts/chartcrawler/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func date(s string) time.Time {
	d, err := time.Parse(chart.URLDateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func intPtr(n int) *int { return &n }

func testWeek(d string) chart.Week {
	return chart.Week{
		Date:        date(d),
		SnapshotKey: "pages/" + d + ".html",
		ContentHash: "deadbeef",
		FetchedAt:   time.Unix(1700000000, 0).UTC(),
		Entries: []chart.Entry{
			{Date: date(d), Rank: 1, Artist: "Ricky Nelson", Title: "Poor Little Fool", PeakPos: 1, WeeksOnChart: 2, LastWeek: intPtr(2)},
			{Date: date(d), Rank: 2, Artist: "Perez Prado", Title: "Patricia", PeakPos: 1, WeeksOnChart: 9, LastWeek: nil},
		},
	}
}

func TestSaveWeekAndListEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveWeek(ctx, testWeek("1958-08-02")))

	entries, err := s.ListEntries(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, "Ricky Nelson", entries[0].Artist)
	require.NotNil(t, entries[0].LastWeek)
	assert.Equal(t, 2, *entries[0].LastWeek)
	assert.Nil(t, entries[1].LastWeek)
	assert.Equal(t, date("1958-08-02"), entries[0].Date)
}

func TestSaveWeekIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	week := testWeek("1958-08-02")
	require.NoError(t, s.SaveWeek(ctx, week))

	// Re-save with a changed entry; the week must be replaced, not duplicated.
	week.Entries = week.Entries[:1]
	week.Entries[0].Title = "Poor Little Fool (mono)"
	require.NoError(t, s.SaveWeek(ctx, week))

	entries, err := s.ListEntries(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Poor Little Fool (mono)", entries[0].Title)
}

func TestSaveWeekRejectsInvalidEntry(t *testing.T) {
	s := newTestStore(t)

	week := testWeek("1958-08-02")
	week.Entries[0].Rank = 0
	require.Error(t, s.SaveWeek(context.Background(), week))
}

func TestLatestChartDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	latest, err := s.LatestChartDate(ctx)
	require.NoError(t, err)
	assert.True(t, latest.IsZero())

	require.NoError(t, s.SaveWeek(ctx, testWeek("1958-08-02")))
	require.NoError(t, s.SaveWeek(ctx, testWeek("1958-08-09")))

	latest, err = s.LatestChartDate(ctx)
	require.NoError(t, err)
	assert.Equal(t, date("1958-08-09"), latest)
}

func TestListEntriesFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveWeek(ctx, testWeek("1958-08-02")))
	require.NoError(t, s.SaveWeek(ctx, testWeek("1958-08-09")))

	entries, err := s.ListEntries(ctx, store.Filter{From: date("1958-08-09")})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = s.ListEntries(ctx, store.Filter{Artist: "Perez Prado"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "Perez Prado", e.Artist)
	}
}

func TestMatchLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveWeek(ctx, testWeek("1958-08-02")))

	unmatched, err := s.ListUnmatchedTracks(ctx, 0)
	require.NoError(t, err)
	require.Len(t, unmatched, 2)

	require.NoError(t, s.SaveTrackMatch(ctx, chart.TrackMatch{
		Track:           chart.Track{Artist: "Ricky Nelson", Title: "Poor Little Fool"},
		Matched:         true,
		SpotifyTrackID:  "track-1",
		SpotifyArtistID: "artist-1",
		SpotifyTitle:    "Poor Little Fool",
		SpotifyArtist:   "Ricky Nelson",
	}))
	require.NoError(t, s.SaveTrackMatch(ctx, chart.TrackMatch{
		Track:   chart.Track{Artist: "Perez Prado", Title: "Patricia"},
		Matched: false,
	}))

	unmatched, err = s.ListUnmatchedTracks(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, unmatched)

	pending, err := s.ListMatchesWithoutFeatures(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "track-1", pending[0].SpotifyTrackID)

	require.NoError(t, s.SaveAudioFeatures(ctx, []chart.AudioFeatures{
		{SpotifyTrackID: "track-1", Danceability: 0.42, Tempo: 120.5, DurationMs: 154000, TimeSignature: 4},
	}))

	pending, err = s.ListMatchesWithoutFeatures(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMarkFeaturesUnavailable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveWeek(ctx, testWeek("1958-08-02")))
	require.NoError(t, s.SaveTrackMatch(ctx, chart.TrackMatch{
		Track:           chart.Track{Artist: "Ricky Nelson", Title: "Poor Little Fool"},
		Matched:         true,
		SpotifyTrackID:  "track-1",
		SpotifyArtistID: "artist-1",
	}))
	require.NoError(t, s.SaveTrackMatch(ctx, chart.TrackMatch{
		Track:           chart.Track{Artist: "Perez Prado", Title: "Patricia"},
		Matched:         true,
		SpotifyTrackID:  "track-2",
		SpotifyArtistID: "artist-2",
	}))

	require.NoError(t, s.MarkFeaturesUnavailable(ctx, []string{"track-2"}))

	pending, err := s.ListMatchesWithoutFeatures(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "track-1", pending[0].SpotifyTrackID)

	// Re-marking is a no-op, not a constraint violation.
	require.NoError(t, s.MarkFeaturesUnavailable(ctx, []string{"track-2", "track-2"}))
}

func TestListEnrichedJoins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveWeek(ctx, testWeek("1958-08-02")))
	require.NoError(t, s.SaveTrackMatch(ctx, chart.TrackMatch{
		Track:           chart.Track{Artist: "Ricky Nelson", Title: "Poor Little Fool"},
		Matched:         true,
		SpotifyTrackID:  "track-1",
		SpotifyArtistID: "artist-1",
	}))
	require.NoError(t, s.SaveAudioFeatures(ctx, []chart.AudioFeatures{
		{SpotifyTrackID: "track-1", Danceability: 0.42, Energy: 0.3, Tempo: 120.5},
	}))
	require.NoError(t, s.SaveArtistGenres(ctx, []chart.ArtistGenres{
		{SpotifyArtistID: "artist-1", Genres: []string{"rockabilly", "rock-and-roll"}},
	}))

	rows, err := s.ListEnriched(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	matched := rows[0]
	require.NotNil(t, matched.Match)
	assert.True(t, matched.Match.Matched)
	require.NotNil(t, matched.Features)
	assert.InDelta(t, 0.42, matched.Features.Danceability, 1e-9)
	assert.Equal(t, []string{"rockabilly", "rock-and-roll"}, matched.Genres)

	// Unmatched entry carries no enrichment.
	unmatched := rows[1]
	assert.Nil(t, unmatched.Match)
	assert.Nil(t, unmatched.Features)
	assert.Nil(t, unmatched.Genres)
}
